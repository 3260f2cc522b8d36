// Package table is a small typed column store used for the concentration and
// cell tables of a decoded time step. Row gathers run on arrow compute, and
// tables export as arrow record batches.
package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Kind uint8

const (
	Float Kind = iota
	Int
	Bool
	String
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case String:
		return "str"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind accepts the type names used in custom type overrides.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float", "float64", "double":
		return Float, true
	case "int", "int64", "integer":
		return Int, true
	case "bool", "boolean":
		return Bool, true
	case "str", "string", "category", "categorical":
		return String, true
	}
	return 0, false
}

// Column holds exactly one of the typed slices, selected by Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Ints    []int64
	Bools   []bool
	Strings []string
}

func (c *Column) Len() int {
	switch c.Kind {
	case Int:
		return len(c.Ints)
	case Bool:
		return len(c.Bools)
	case String:
		return len(c.Strings)
	}
	return len(c.Floats)
}

func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Int:
		out.Ints = append([]int64(nil), c.Ints...)
	case Bool:
		out.Bools = append([]bool(nil), c.Bools...)
	case String:
		out.Strings = append([]string(nil), c.Strings...)
	default:
		out.Floats = append([]float64(nil), c.Floats...)
	}
	return out
}

// Value returns row i as float64, int64, bool or string.
func (c *Column) Value(i int) any {
	switch c.Kind {
	case Int:
		return c.Ints[i]
	case Bool:
		return c.Bools[i]
	case String:
		return c.Strings[i]
	}
	return c.Floats[i]
}

func (c *Column) Format(i int) string {
	switch c.Kind {
	case Int:
		return strconv.FormatInt(c.Ints[i], 10)
	case Bool:
		return strconv.FormatBool(c.Bools[i])
	case String:
		return c.Strings[i]
	}
	return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
}

// Float returns row i as a number; ok is false for string columns.
func (c *Column) Float(i int) (float64, bool) {
	switch c.Kind {
	case Int:
		return float64(c.Ints[i]), true
	case Bool:
		if c.Bools[i] {
			return 1, true
		}
		return 0, true
	case String:
		return 0, false
	}
	return c.Floats[i], true
}

// Distinct counts distinct values. NaN counts as one value.
func (c *Column) Distinct() int {
	n := c.Len()
	switch c.Kind {
	case Int:
		seen := map[int64]struct{}{}
		for _, v := range c.Ints {
			seen[v] = struct{}{}
		}
		return len(seen)
	case Bool:
		seen := map[bool]struct{}{}
		for _, v := range c.Bools {
			seen[v] = struct{}{}
		}
		return len(seen)
	case String:
		seen := map[string]struct{}{}
		for _, v := range c.Strings {
			seen[v] = struct{}{}
		}
		return len(seen)
	}
	seen := make(map[float64]struct{}, n)
	nan := 0
	for _, v := range c.Floats {
		if math.IsNaN(v) {
			nan = 1
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen) + nan
}

// Convert returns a copy of c as kind k. Numbers are rounded half to even
// before integer and boolean coercion.
func (c *Column) Convert(k Kind) (*Column, error) {
	if c.Kind == k {
		return c.Clone(), nil
	}
	n := c.Len()
	out := &Column{Name: c.Name, Kind: k}
	switch k {
	case Float:
		out.Floats = make([]float64, n)
		for i := 0; i < n; i++ {
			v, ok := c.Float(i)
			if !ok {
				f, err := strconv.ParseFloat(c.Strings[i], 64)
				if err != nil {
					return nil, fmt.Errorf("column %s row %d: %q is not a number", c.Name, i, c.Strings[i])
				}
				v = f
			}
			out.Floats[i] = v
		}
	case Int, Bool:
		ints := make([]int64, n)
		for i := 0; i < n; i++ {
			v, ok := c.Float(i)
			if !ok {
				f, err := strconv.ParseFloat(c.Strings[i], 64)
				if err != nil {
					return nil, fmt.Errorf("column %s row %d: %q is not a number", c.Name, i, c.Strings[i])
				}
				v = f
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("column %s row %d: cannot convert %v to %s", c.Name, i, v, k)
			}
			ints[i] = int64(math.RoundToEven(v))
		}
		if k == Int {
			out.Ints = ints
			break
		}
		out.Bools = make([]bool, n)
		for i, v := range ints {
			out.Bools[i] = v != 0
		}
	case String:
		out.Strings = make([]string, n)
		for i := 0; i < n; i++ {
			if c.Kind == Float {
				out.Strings[i] = formatCode(c.Floats[i])
				continue
			}
			out.Strings[i] = c.Format(i)
		}
	default:
		return nil, fmt.Errorf("column %s: unknown kind %d", c.Name, k)
	}
	return out, nil
}

// formatCode renders integral floats without a fractional part so codes
// read as "3" rather than "3.0".
func formatCode(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Table is an ordered set of equal-length columns.
type Table struct {
	rows  int
	cols  []*Column
	index map[string]int
}

func New(rows int) *Table {
	return &Table{rows: rows, index: map[string]int{}}
}

func (t *Table) Len() int   { return t.rows }
func (t *Table) Width() int { return len(t.cols) }

func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the live column. Callers outside the assembling package
// should work on a Clone.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Set appends c, or replaces the column of the same name in place.
func (t *Table) Set(c *Column) error {
	if c.Len() != t.rows {
		return fmt.Errorf("column %s: %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return nil
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

func (t *Table) SetFloats(name string, v []float64) error {
	return t.Set(&Column{Name: name, Kind: Float, Floats: v})
}

func (t *Table) SetInts(name string, v []int64) error {
	return t.Set(&Column{Name: name, Kind: Int, Ints: v})
}

func (t *Table) SetBools(name string, v []bool) error {
	return t.Set(&Column{Name: name, Kind: Bool, Bools: v})
}

func (t *Table) SetStrings(name string, v []string) error {
	return t.Set(&Column{Name: name, Kind: String, Strings: v})
}

// ConstFloat and ConstString fill a column with one value.
func (t *Table) ConstFloat(name string, v float64) {
	col := make([]float64, t.rows)
	for i := range col {
		col[i] = v
	}
	_ = t.SetFloats(name, col)
}

func (t *Table) ConstString(name string, v string) {
	col := make([]string, t.rows)
	for i := range col {
		col[i] = v
	}
	_ = t.SetStrings(name, col)
}

func (t *Table) Drop(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := map[string]struct{}{}
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := t.cols[:0]
	for _, c := range t.cols {
		if _, ok := drop[c.Name]; !ok {
			kept = append(kept, c)
		}
	}
	t.cols = kept
	t.reindex()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

// Clone deep-copies every column.
func (t *Table) Clone() *Table {
	out := New(t.rows)
	out.cols = make([]*Column, len(t.cols))
	for i, c := range t.cols {
		out.cols[i] = c.Clone()
	}
	out.reindex()
	return out
}

// SortColumns orders columns by name.
func (t *Table) SortColumns() {
	sort.SliceStable(t.cols, func(i, j int) bool { return t.cols[i].Name < t.cols[j].Name })
	t.reindex()
}

// Take returns a new table holding the rows at idx, in that order.
func (t *Table) Take(idx []int) *Table {
	out := New(len(idx))
	out.cols = make([]*Column, len(t.cols))
	for i, c := range t.cols {
		out.cols[i] = c.take(idx)
	}
	out.reindex()
	return out
}

// Where keeps the rows for which keep returns true.
func (t *Table) Where(keep func(row int) bool) *Table {
	idx := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// SortBy returns the table stably sorted ascending by the given numeric
// columns.
func (t *Table) SortBy(names ...string) (*Table, error) {
	keys := make([]*Column, len(names))
	for i, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, fmt.Errorf("sort: no column %s", n)
		}
		if c.Kind == String {
			return nil, fmt.Errorf("sort: column %s is not numeric", n)
		}
		keys[i] = c
	}
	idx := make([]int, t.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, k := range keys {
			va, _ := k.Float(idx[a])
			vb, _ := k.Float(idx[b])
			if va != vb {
				return va < vb
			}
		}
		return false
	})
	return t.Take(idx), nil
}

// Select returns a table with only the named columns, in table order.
func (t *Table) Select(names map[string]struct{}) *Table {
	out := New(t.rows)
	for _, c := range t.cols {
		if _, ok := names[c.Name]; ok {
			out.cols = append(out.cols, c)
		}
	}
	out.reindex()
	return out
}

// Row returns row i as plain values in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.cols))
	for j, c := range t.cols {
		out[j] = c.Value(i)
	}
	return out
}

// Records renders a header line followed by every row, for CSV output.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, t.rows+1)
	out = append(out, t.Names())
	for i := 0; i < t.rows; i++ {
		rec := make([]string, len(t.cols))
		for j, c := range t.cols {
			rec[j] = c.Format(i)
		}
		out = append(out, rec)
	}
	return out
}
