package mcds

import "log/slog"

// DefaultSettingsXML is the settings file PhysiCell copies into every
// output directory.
const DefaultSettingsXML = "PhysiCell_settings.xml"

// Options controls which parts of a bundle Load decodes.
type Options struct {
	// OutputPath is the bundle directory. Empty means the directory of the
	// xml file passed to Load.
	OutputPath string

	Microenv  bool
	Graph     bool
	PhysiBoSS bool

	// SettingsXML is resolved against the bundle directory; empty skips
	// the settings file.
	SettingsXML string

	// CustomTypes overrides the type of custom data columns:
	// column name -> float | int | bool | str.
	CustomTypes map[string]string

	// Verbose enables loader logging; otherwise Logger is ignored and
	// nothing is written.
	Verbose bool
	Logger  *slog.Logger
}

// DefaultOptions loads everything a bundle offers.
func DefaultOptions() Options {
	return Options{
		Microenv:    true,
		Graph:       true,
		PhysiBoSS:   true,
		SettingsXML: DefaultSettingsXML,
	}
}
