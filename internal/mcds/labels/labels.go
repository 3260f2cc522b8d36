// Package labels expands the compact label list of the cell matrix into
// one named column per matrix row.
package labels

import (
	"fmt"

	"mcdskit.dev/internal/mcds/catalogs"
	"mcdskit.dev/internal/mcds/xmldoc"
)

// Label is one labels/label entry: a name covering Width matrix rows.
type Label struct {
	Name  string
	Width int
	Unit  string
}

// Read returns the labels of a simplified_data node in document order.
func Read(data xmldoc.Node) ([]Label, error) {
	ls, err := data.Require("labels")
	if err != nil {
		return nil, err
	}
	var out []Label
	for _, n := range ls.FindAll("label") {
		name, err := n.RequireText()
		if err != nil {
			return nil, err
		}
		w, err := n.IntAttr("size")
		if err != nil {
			return nil, err
		}
		if w < 1 {
			return nil, fmt.Errorf("%s: label %q has size %d", n.Path(), name, w)
		}
		out = append(out, Label{Name: name, Width: w, Unit: n.Attr("units", "")})
	}
	return out, nil
}

// Kind classifies a label by the convention set it belongs to. The order of
// the constants is the order in which membership is tested.
type Kind int

const (
	KindPerSubstrate Kind = iota
	KindPerCellType
	KindPerDeathModel
	KindSpatial
	KindScalar
	KindVector
)

func Classify(l Label) Kind {
	switch {
	case catalogs.Has(catalogs.PerSubstrate, l.Name):
		return KindPerSubstrate
	case catalogs.Has(catalogs.PerCellType, l.Name):
		return KindPerCellType
	case catalogs.Has(catalogs.PerDeathModel, l.Name):
		return KindPerDeathModel
	case catalogs.Has(catalogs.Spatial, l.Name):
		return KindSpatial
	case l.Width == 1:
		return KindScalar
	}
	return KindVector
}

// Column is one expanded matrix row.
type Column struct {
	Name  string
	Unit  string
	Label string
	Kind  Kind
}

// Context carries the resolved id tables the per-substrate and per-cell-type
// expansions name their columns after. Both are ordered by id; nil means
// not resolved and positional names are used.
type Context struct {
	Substrates []string
	CellTypes  []string
}

type expander func(l Label, ctx Context) []string

var expanders = map[Kind]expander{
	KindPerSubstrate:  func(l Label, ctx Context) []string { return prefixed(l, ctx.Substrates) },
	KindPerCellType:   func(l Label, ctx Context) []string { return prefixed(l, ctx.CellTypes) },
	KindPerDeathModel: func(l Label, _ Context) []string { return indexed(l.Name, l.Width, "%s_%d") },
	KindSpatial: func(l Label, _ Context) []string {
		return []string{l.Name + "_x", l.Name + "_y", l.Name + "_z"}
	},
	KindScalar: func(l Label, _ Context) []string { return []string{l.Name} },
	KindVector: func(l Label, _ Context) []string { return indexed(l.Name, l.Width, "%s_%03d") },
}

// prefixed names one column per resolved label as <label>_<name>, whatever
// the declared width; a disagreement surfaces as a schema mismatch against
// the cells matrix. Only without a resolved table does it fall back to
// <name>_<i>.
func prefixed(l Label, names []string) []string {
	if len(names) == 0 {
		return indexed(l.Name, l.Width, "%s_%d")
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + "_" + l.Name
	}
	return out
}

func indexed(name string, width int, format string) []string {
	out := make([]string, width)
	for i := range out {
		out[i] = fmt.Sprintf(format, name, i)
	}
	return out
}

// Expand turns labels into the ordered column list.
func Expand(ls []Label, ctx Context) []Column {
	var out []Column
	for _, l := range ls {
		k := Classify(l)
		for _, name := range expanders[k](l, ctx) {
			out = append(out, Column{Name: name, Unit: l.Unit, Label: l.Name, Kind: k})
		}
	}
	return out
}

// Names returns the column names of cols.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of name in cols or -1.
func Index(cols []Column, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Units maps every expanded column to its unit.
func Units(cols []Column) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c.Name] = c.Unit
	}
	return out
}
