package mcds

import (
	"fmt"
	"sort"

	"mcdskit.dev/internal/mcds/catalogs"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/table"
)

// Filter selects columns of a cell or concentration table. Coordinate
// columns are never removed.
type Filter struct {
	// Values drops columns with fewer distinct values. 0 and 1 keep all.
	Values int
	Drop   []string
	Keep   []string
}

// ConcQuery selects rows and columns of the concentration table.
type ConcQuery struct {
	Filter
	// ZSlice restricts the table to one xy plane. A value that is not a
	// mesh center snaps to the nearest one unless Strict is set.
	ZSlice *float64
	Strict bool
}

// Slice is a helper for building a ConcQuery.ZSlice.
func Slice(z float64) *float64 { return &z }

// CellTable returns the filtered agent table, sorted by ID with columns in
// alphabetical order.
func (s *Snapshot) CellTable(f Filter) (*table.Table, error) {
	return applyFilter(s.cells.Clone(), catalogs.CellCoordinates, f, s)
}

// ConcTable returns the filtered concentration table sorted by voxel_i,
// voxel_j, voxel_k.
func (s *Snapshot) ConcTable(q ConcQuery) (*table.Table, error) {
	if err := q.Filter.validate(); err != nil {
		return nil, err
	}
	t := s.conc
	if q.ZSlice != nil {
		z, err := s.slice(*q.ZSlice, q.Strict)
		if err != nil {
			return nil, err
		}
		p, _ := t.Column("mesh_center_p")
		t = t.Where(func(r int) bool { return p.Floats[r] == z })
	} else {
		t = t.Clone()
	}
	t, err := applyFilter(t, catalogs.ConcCoordinates, q.Filter, s)
	if err != nil {
		return nil, err
	}
	return t.SortBy("voxel_i", "voxel_j", "voxel_k")
}

func (s *Snapshot) slice(z float64, strict bool) (float64, error) {
	axis := s.geom.Axes[2]
	for _, v := range axis {
		if v == z {
			return z, nil
		}
	}
	if strict {
		return 0, fmt.Errorf("%w: %v not in %v", ErrSliceOffMesh, z, axis)
	}
	snapped := mesh.Nearest(axis, z)
	s.log.Warn("z slice snapped to nearest mesh center", "z_slice", z, "snapped", snapped)
	return snapped, nil
}

func (f Filter) validate() error {
	if len(f.Keep) > 0 && len(f.Drop) > 0 {
		return fmt.Errorf("%w: keep %v, drop %v", ErrConflictingFilter, f.Keep, f.Drop)
	}
	return nil
}

// applyFilter removes columns from t in place and returns it.
func applyFilter(t *table.Table, protected map[string]struct{}, f Filter, s *Snapshot) (*table.Table, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	keep := toSet(f.Keep)
	drop := toSet(f.Drop)
	del := map[string]struct{}{}
	for _, name := range t.Names() {
		if catalogs.Has(protected, name) {
			continue
		}
		switch {
		case len(keep) > 0:
			if _, ok := keep[name]; !ok {
				del[name] = struct{}{}
			}
		default:
			if _, ok := drop[name]; ok {
				del[name] = struct{}{}
			}
		}
		if f.Values > 1 {
			c, _ := t.Column(name)
			if c.Distinct() < f.Values {
				del[name] = struct{}{}
			}
		}
	}
	if len(del) > 0 {
		names := make([]string, 0, len(del))
		for n := range del {
			names = append(names, n)
		}
		sort.Strings(names)
		s.log.Debug("dropping columns", "columns", names)
		t.Drop(names...)
	}
	return t, nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
