// Package celltype resolves integer cell type codes to names through an
// ordered chain of resolvers; the first one that produces a table wins.
package celltype

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"mcdskit.dev/internal/mcds/xmldoc"
)

var ErrNoTypeMapping = errors.New("no cell type mapping")

// Table maps a cell type code to its name.
type Table map[int]string

// Ordered lists the names by ascending code.
func (t Table) Ordered() []string {
	codes := make([]int, 0, len(t))
	for c := range t {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = t[c]
	}
	return out
}

// Dict keys the table by decimal code.
func (t Table) Dict() map[string]string {
	out := make(map[string]string, len(t))
	for c, n := range t {
		out[strconv.Itoa(c)] = n
	}
	return out
}

// Observations are the cell_type codes seen in the loaded matrix. Before the
// matrix is read Loaded is false.
type Observations struct {
	Loaded bool
	Codes  []float64
}

// Resolver is one source of a code to name table.
type Resolver interface {
	Name() string
	Resolve(obs Observations) (Table, bool)
}

// Descriptor uses the cell_types table embedded in the output XML.
type Descriptor struct{ Types Table }

func (Descriptor) Name() string { return "descriptor" }
func (s Descriptor) Resolve(Observations) (Table, bool) {
	return s.Types, len(s.Types) > 0
}

// Settings uses the cell_definitions of the PhysiCell settings file.
type Settings struct{ Types Table }

func (Settings) Name() string { return "settings" }
func (s Settings) Resolve(Observations) (Table, bool) {
	return s.Types, len(s.Types) > 0
}

// Observed names every distinct code after itself.
type Observed struct{}

func (Observed) Name() string { return "observed" }
func (Observed) Resolve(obs Observations) (Table, bool) {
	if !obs.Loaded || len(obs.Codes) == 0 {
		return nil, false
	}
	t := Table{}
	for _, v := range obs.Codes {
		if math.IsNaN(v) {
			continue
		}
		c := int(math.RoundToEven(v))
		t[c] = strconv.Itoa(c)
	}
	return t, len(t) > 0
}

// Resolve walks chain in order and returns the first table produced along
// with the name of the strategy that produced it.
func Resolve(chain []Resolver, obs Observations) (Table, string, bool) {
	for _, s := range chain {
		if t, ok := s.Resolve(obs); ok {
			cp := make(Table, len(t))
			for k, v := range t {
				cp[k] = v
			}
			return cp, s.Name(), true
		}
	}
	return nil, "", false
}

// ReadDescriptor reads cell_types/type from a simplified_data node. A
// missing cell_types node yields a nil table.
func ReadDescriptor(data xmldoc.Node) (Table, error) {
	types := data.Find("cell_types")
	if !types.Valid() {
		return nil, nil
	}
	t := Table{}
	for _, n := range types.FindAll("type") {
		id, err := n.IntAttr("ID")
		if err != nil {
			return nil, err
		}
		t[id] = n.Text()
	}
	return t, nil
}

// ReadSettings reads cell_definitions/cell_definition from a settings file.
func ReadSettings(path string) (Table, error) {
	root, err := xmldoc.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := root.Require("cell_definitions")
	if err != nil {
		return nil, err
	}
	t := Table{}
	for _, n := range defs.FindAll("cell_definition") {
		id, err := n.IntAttr("ID")
		if err != nil {
			return nil, err
		}
		name, err := n.RequireAttr("name")
		if err != nil {
			return nil, err
		}
		if prev, dup := t[id]; dup {
			return nil, fmt.Errorf("%s: cell definition id %d used by %q and %q", path, id, prev, name)
		}
		t[id] = name
	}
	return t, nil
}
