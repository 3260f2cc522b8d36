package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mcdskit.dev/internal/config"
	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/persistence/snapshot"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcds",
		Short: "Decode PhysiCell MultiCellDS time steps",
		Long: `mcds reads the output bundles PhysiCell writes for every saved time step
(output<N>.xml plus its .mat matrices and graph files) and prints the
decoded agent table, concentration table, graphs and units.

Any command that takes a time step also accepts a .snap.zst archive
written by "mcds archive".`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file (MCDS_* environment variables override it)")
	pf.Bool("json", false, "Output as JSON")
	pf.BoolP("verbose", "v", false, "Log loader progress and notices to stderr")
	pf.String("log-level", "", "Log level: error, warn, info, debug, trace")
	pf.Bool("no-microenv", false, "Skip the microenvironment")
	pf.Bool("no-graph", false, "Skip the cell graphs")
	pf.Bool("no-physiboss", false, "Skip PhysiBoSS node states")
	pf.String("settings", "", "Settings XML file name inside the bundle directory")
	pf.StringToString("custom-type", nil, "Custom data column type, e.g. --custom-type flag=bool")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInfoCmd(),
		newCellsCmd(),
		newConcCmd(),
		newSubstratesCmd(),
		newCellTypesCmd(),
		newGraphCmd(),
		newUnitsCmd(),
		newArchiveCmd(),
		newIndexCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"version":       version,
					"archive":       fmt.Sprint(snapshot.Version),
					"settings_file": mcds.DefaultSettingsXML,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mcds version %s (archive v%d)\n", version, snapshot.Version)
			return nil
		},
	}
}

// runEnv is the resolved configuration shared by every subcommand.
type runEnv struct {
	cfg     config.Config
	log     *slog.Logger
	jsonOut bool
}

func setup(cmd *cobra.Command) (*runEnv, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := f.GetBool("verbose"); v {
		cfg.Loader.Verbose = true
	}
	if lvl, _ := f.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	} else if cfg.Loader.Verbose && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	if v, _ := f.GetBool("no-microenv"); v {
		cfg.Loader.Microenv = false
	}
	if v, _ := f.GetBool("no-graph"); v {
		cfg.Loader.Graph = false
	}
	if v, _ := f.GetBool("no-physiboss"); v {
		cfg.Loader.PhysiBoSS = false
	}
	if f.Changed("settings") {
		cfg.Loader.SettingsXML, _ = f.GetString("settings")
	}
	if ct, _ := f.GetStringToString("custom-type"); len(ct) > 0 {
		if cfg.Loader.CustomTypes == nil {
			cfg.Loader.CustomTypes = map[string]string{}
		}
		for k, v := range ct {
			cfg.Loader.CustomTypes[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var log *slog.Logger
	if cfg.Logging.Format == "json" {
		log = logging.NewJSONLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	} else {
		log = logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	}
	jsonOut, _ := f.GetBool("json")
	return &runEnv{cfg: cfg, log: log.With("component", "mcds"), jsonOut: jsonOut}, nil
}

// open decodes an output*.xml bundle or reads a .snap.zst archive.
func (e *runEnv) open(cmd *cobra.Command, path string) (*mcds.Snapshot, error) {
	if strings.HasSuffix(path, snapshot.Ext) {
		a, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, err
		}
		var qlog *slog.Logger
		if e.cfg.Loader.Verbose {
			qlog = e.log
		}
		return mcds.FromArchive(a, qlog)
	}
	return mcds.Load(cmd.Context(), path, e.cfg.LoaderOptions(e.log))
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
