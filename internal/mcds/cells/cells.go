// Package cells assembles the per-agent table of a time step from the raw
// cells matrix, the voxel mesh and the optional side inputs.
package cells

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"mcdskit.dev/internal/mcds/catalogs"
	"mcdskit.dev/internal/mcds/celltype"
	"mcdskit.dev/internal/mcds/encoding"
	"mcdskit.dev/internal/mcds/labels"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/physiboss"
	"mcdskit.dev/internal/mcds/substrate"
	"mcdskit.dev/internal/mcds/table"
)

var (
	ErrUnknownDataType = errors.New("unknown data type")
	ErrDuplicateID     = errors.New("duplicate agent id")
)

// FromMatrix lays the cells matrix out as one float column per expanded
// label. decodeErr is the error, if any, returned while decoding the matrix
// file; a structurally broken file and a zero-agent matrix whose row count
// disagrees with the schema are both treated as the known zero-agent
// corruption of older PhysiCell releases and yield an empty table.
func FromMatrix(cols []labels.Column, m *encoding.Matrix, decodeErr error, log *slog.Logger) (*table.Table, error) {
	switch {
	case decodeErr != nil:
		if !errors.Is(decodeErr, encoding.ErrMalformedMAT) && !errors.Is(decodeErr, encoding.ErrUnsupportedMAT) {
			return nil, decodeErr
		}
		log.Warn("corrupt cells matrix, assuming zero agents", "err", decodeErr)
		return empty(cols), nil
	case m.Cols == 0 && m.Rows != len(cols):
		log.Warn("empty cells matrix with mismatched rows, assuming zero agents", "rows", m.Rows, "columns", len(cols))
		return empty(cols), nil
	case m.Rows != len(cols):
		return nil, fmt.Errorf("%w: %d label columns, cells matrix has %d rows", substrate.ErrSchemaMismatch, len(cols), m.Rows)
	}
	t := table.New(m.Cols)
	for r, c := range cols {
		if err := t.SetFloats(c.Name, m.Row(r)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func empty(cols []labels.Column) *table.Table {
	t := table.New(0)
	for _, c := range cols {
		_ = t.SetFloats(c.Name, []float64{})
	}
	return t
}

// Codes returns the raw cell_type codes of a FromMatrix table.
func Codes(t *table.Table) []float64 {
	c, ok := t.Column("cell_type")
	if !ok || c.Kind != table.Float {
		return nil
	}
	return append([]float64(nil), c.Floats...)
}

// Env carries everything the assembly steps read besides the raw table.
type Env struct {
	Geometry    *mesh.Geometry
	Conc        *table.Table      // per-voxel table, see substrate.ConcTable
	Field       *substrate.Field  // nil when the microenvironment is not loaded
	States      *physiboss.States // nil when PhysiBoSS data is not loaded
	CellTypes   celltype.Table
	Substrates  map[int]string
	SpatialUnit string
	Stamp       substrate.Stamp
	CustomTypes map[string]string
}

// Assemble runs the derivation steps on raw in order and returns the final
// table: sorted by ID, columns alphabetical. raw is consumed.
func Assemble(raw *table.Table, env Env, log *slog.Logger) (*table.Table, error) {
	t := raw
	steps := []struct {
		name string
		fn   func(*table.Table, Env, *slog.Logger) error
	}{
		{"voxel", snapVoxels},
		{"density", density},
		{"vectorlength", vectorLengths},
		{"physiboss", mergeStates},
		{"substrate", mergeConc},
		{"types", applyTypes},
		{"decode", decodeCategories},
	}
	for _, s := range steps {
		if err := s.fn(t, env, log); err != nil {
			return nil, fmt.Errorf("cells %s: %w", s.name, err)
		}
		log.Debug("cells step done", "step", s.name, "columns", t.Width())
	}

	t.ConstFloat("time", env.Stamp.Time)
	t.ConstFloat("runtime", env.Stamp.Runtime)
	t.ConstString("xmlfile", env.Stamp.XMLFile)

	id, ok := t.Column("ID")
	if !ok {
		return nil, fmt.Errorf("%w: cells matrix has no ID row", substrate.ErrSchemaMismatch)
	}
	seen := make(map[string]struct{}, id.Len())
	for r := 0; r < id.Len(); r++ {
		v := id.Format(r)
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, v)
		}
		seen[v] = struct{}{}
	}
	out, err := t.SortBy("ID")
	if err != nil {
		return nil, err
	}
	out.SortColumns()
	return out, nil
}

var positionColumns = [3]string{"position_x", "position_y", "position_z"}

func positions(t *table.Table) ([3]*table.Column, error) {
	var out [3]*table.Column
	for a, n := range positionColumns {
		c, ok := t.Column(n)
		if !ok {
			return out, fmt.Errorf("%w: no %s column", substrate.ErrSchemaMismatch, n)
		}
		out[a] = c
	}
	return out, nil
}

// snapVoxels adds voxel_i, voxel_j, voxel_k.
func snapVoxels(t *table.Table, env Env, _ *slog.Logger) error {
	pos, err := positions(t)
	if err != nil {
		return err
	}
	n := t.Len()
	ijk := [3][]int64{make([]int64, n), make([]int64, n), make([]int64, n)}
	for r := 0; r < n; r++ {
		v := env.Geometry.Snap([3]float64{pos[0].Floats[r], pos[1].Floats[r], pos[2].Floats[r]})
		for a := 0; a < 3; a++ {
			ijk[a][r] = int64(v[a])
		}
	}
	for a, name := range []string{"voxel_i", "voxel_j", "voxel_k"} {
		if err := t.SetInts(name, ijk[a]); err != nil {
			return err
		}
	}
	return nil
}

func voxelKey(t *table.Table, r int) [3]int64 {
	i, _ := t.Column("voxel_i")
	j, _ := t.Column("voxel_j")
	k, _ := t.Column("voxel_k")
	return [3]int64{i.Ints[r], j.Ints[r], k.Ints[r]}
}

// density adds cell_count_voxel and cell_density_<unit>3.
func density(t *table.Table, env Env, _ *slog.Logger) error {
	n := t.Len()
	counts := map[[3]int64]int64{}
	for r := 0; r < n; r++ {
		counts[voxelKey(t, r)]++
	}
	count := make([]int64, n)
	dens := make([]float64, n)
	for r := 0; r < n; r++ {
		count[r] = counts[voxelKey(t, r)]
		dens[r] = float64(count[r]) / env.Geometry.Volume
	}
	if err := t.SetInts("cell_count_voxel", count); err != nil {
		return err
	}
	return t.SetFloats(DensityColumn(env.SpatialUnit), dens)
}

// DensityColumn names the local density column for a spatial unit.
func DensityColumn(unit string) string {
	return "cell_density_" + unit + "3"
}

// vectorLengths adds <vector>_vectorlength for every spatial vector with at
// least one component present.
func vectorLengths(t *table.Table, _ Env, _ *slog.Logger) error {
	names := make([]string, 0, len(catalogs.Spatial))
	for n := range catalogs.Spatial {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, v := range names {
		var comps []*table.Column
		for _, ax := range []string{"_x", "_y", "_z"} {
			if c, ok := t.Column(v + ax); ok && c.Kind == table.Float {
				comps = append(comps, c)
			}
		}
		if len(comps) == 0 {
			continue
		}
		out := make([]float64, t.Len())
		for r := range out {
			var sum float64
			for _, c := range comps {
				sum += c.Floats[r] * c.Floats[r]
			}
			out[r] = math.Sqrt(sum)
		}
		if err := t.SetFloats(v+"_vectorlength", out); err != nil {
			return err
		}
	}
	return nil
}

// mergeStates left-joins the PhysiBoSS states on ID.
func mergeStates(t *table.Table, env Env, _ *slog.Logger) error {
	if env.States == nil {
		return nil
	}
	id, ok := t.Column("ID")
	if !ok {
		return fmt.Errorf("%w: cells matrix has no ID row", substrate.ErrSchemaMismatch)
	}
	n := t.Len()
	state := make([]string, n)
	isNil := make([]bool, n)
	nodes := make([][]bool, len(env.States.Nodes))
	for i := range nodes {
		nodes[i] = make([]bool, n)
	}
	for r := 0; r < n; r++ {
		s, found := env.States.ByID[int(id.Floats[r])]
		if !found {
			isNil[r] = true
			continue
		}
		state[r] = s
		isNil[r] = physiboss.IsNil(s)
		for i, node := range env.States.Nodes {
			nodes[i][r] = physiboss.Has(s, node)
		}
	}
	if err := t.SetStrings("state", state); err != nil {
		return err
	}
	if err := t.SetBools("state_nil", isNil); err != nil {
		return err
	}
	for i, node := range env.States.Nodes {
		if err := t.SetBools("node_"+node, nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// mergeConc adds the species parameter constants and left-joins the
// per-voxel mesh centers and concentrations on voxel indices.
func mergeConc(t *table.Table, env Env, _ *slog.Logger) error {
	if env.Field != nil {
		for _, sp := range env.Field.Species {
			t.ConstFloat(sp.Name+"_decay_rate", sp.Decay)
			t.ConstFloat(sp.Name+"_diffusion_coefficient", sp.Diffusion)
		}
	}
	if env.Conc == nil {
		return nil
	}
	ci, _ := env.Conc.Column("voxel_i")
	cj, _ := env.Conc.Column("voxel_j")
	ck, _ := env.Conc.Column("voxel_k")
	rows := make(map[[3]int64]int, env.Conc.Len())
	for r := 0; r < env.Conc.Len(); r++ {
		rows[[3]int64{ci.Ints[r], cj.Ints[r], ck.Ints[r]}] = r
	}
	idx := make([]int, t.Len())
	for r := range idx {
		if c, ok := rows[voxelKey(t, r)]; ok {
			idx[r] = c
		} else {
			idx[r] = -1
		}
	}
	joined := env.Conc.Take(idx)
	skip := map[string]struct{}{
		"voxel_i": {}, "voxel_j": {}, "voxel_k": {},
		"time": {}, "runtime": {}, "xmlfile": {},
	}
	for _, name := range joined.Names() {
		if _, ok := skip[name]; ok {
			continue
		}
		c, _ := joined.Column(name)
		if err := t.Set(c); err != nil {
			return err
		}
	}
	return nil
}

// applyTypes converts the columns named in the static type table, merged
// with caller overrides, away from float.
func applyTypes(t *table.Table, env Env, log *slog.Logger) error {
	types := map[string]string{}
	for name, typ := range catalogs.ColumnTypes {
		if t.Has(name) {
			types[name] = typ
		}
	}
	for name, typ := range env.CustomTypes {
		if _, ok := table.ParseKind(typ); !ok {
			return fmt.Errorf("%w: %q for column %s", ErrUnknownDataType, typ, name)
		}
		if !t.Has(name) {
			log.Warn("custom type for absent column ignored", "column", name, "type", typ)
			continue
		}
		types[name] = typ
	}
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		k, ok := table.ParseKind(types[name])
		if !ok {
			return fmt.Errorf("%w: %q for column %s", ErrUnknownDataType, types[name], name)
		}
		c, _ := t.Column(name)
		conv, err := c.Convert(k)
		if err != nil {
			return err
		}
		if err := t.Set(conv); err != nil {
			return err
		}
	}
	return nil
}

// decodeCategories replaces integer codes with their labels. Codes no table
// knows keep their decimal string.
func decodeCategories(t *table.Table, env Env, _ *slog.Logger) error {
	decoders := map[string][]map[int]string{
		"current_death_model": {catalogs.DeathModel},
		"cycle_model":         {catalogs.CycleModel, catalogs.DeathModel},
		"current_phase":       {catalogs.CyclePhase, catalogs.DeathPhase},
		"cell_type":           {env.CellTypes},
		"chemotaxis_index":    {env.Substrates},
	}
	for name, tables := range decoders {
		c, ok := t.Column(name)
		if !ok || c.Kind != table.String {
			continue
		}
		out := make([]string, len(c.Strings))
		for i, s := range c.Strings {
			code, err := strconv.Atoi(s)
			if err != nil {
				out[i] = s
				continue
			}
			out[i] = catalogs.Decode(code, tables...)
		}
		if err := t.SetStrings(name, out); err != nil {
			return err
		}
	}
	return nil
}

// Attributes lists the sorted columns of an assembled table that are not
// coordinate columns.
func Attributes(t *table.Table) []string {
	var out []string
	for _, n := range t.Names() {
		if !catalogs.Has(catalogs.CellCoordinates, n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
