// Package substrate decodes the diffusing species of a time step: their
// declared parameters and the dense concentration grid on the voxel mesh.
package substrate

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"mcdskit.dev/internal/mcds/encoding"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/mcds/xmldoc"
)

var ErrSchemaMismatch = errors.New("schema mismatch")

// Species is one microenvironment variable. ID is its declaration order.
type Species struct {
	ID            int
	Name          string
	Unit          string
	Diffusion     float64
	DiffusionUnit string
	Decay         float64
	DecayUnit     string
}

// ReadSpecies reads microenvironment/domain/variables/variable in order.
func ReadSpecies(domain xmldoc.Node) ([]Species, error) {
	vars, err := domain.Require("variables")
	if err != nil {
		return nil, err
	}
	var out []Species
	for i, v := range vars.FindAll("variable") {
		name, err := v.RequireAttr("name")
		if err != nil {
			return nil, err
		}
		sp := Species{ID: i, Name: name, Unit: v.Attr("units", "")}

		diff, err := v.Require("physical_parameter_set/diffusion_coefficient")
		if err != nil {
			return nil, err
		}
		if sp.Diffusion, err = diff.Float(); err != nil {
			return nil, err
		}
		sp.DiffusionUnit = diff.Attr("units", "")

		decay, err := v.Require("physical_parameter_set/decay_rate")
		if err != nil {
			return nil, err
		}
		if sp.Decay, err = decay.Float(); err != nil {
			return nil, err
		}
		sp.DecayUnit = decay.Attr("units", "")
		out = append(out, sp)
	}
	return out, nil
}

// Field is the decoded microenvironment of one time step.
type Field struct {
	Species []Species
	shape   [3]int
	grid    [][]float64 // per species, flattened (i, j, k) with k fastest
}

// Decode scatters the "multiscale_microenvironment" matrix onto the mesh.
// Rows 0-2 are voxel centers, row 3 the volume, rows 4.. one per species.
func Decode(g *mesh.Geometry, species []Species, m *encoding.Matrix) (*Field, error) {
	for i, sp := range species {
		if sp.ID != i {
			return nil, fmt.Errorf("%w: substrate ids are not contiguous: %q has id %d at position %d", ErrSchemaMismatch, sp.Name, sp.ID, i)
		}
	}
	if m.Rows < 4+len(species) {
		return nil, fmt.Errorf("%w: microenvironment matrix has %d rows, %d substrates need %d",
			ErrSchemaMismatch, m.Rows, len(species), 4+len(species))
	}

	f := &Field{Species: species, shape: g.Shape()}
	n := f.shape[0] * f.shape[1] * f.shape[2]
	f.grid = make([][]float64, len(species))
	for s := range f.grid {
		f.grid[s] = make([]float64, n)
		for i := range f.grid[s] {
			f.grid[s][i] = math.NaN()
		}
	}

	for c := 0; c < m.Cols; c++ {
		var ijk [3]int
		for a := 0; a < 3; a++ {
			idx, err := g.AxisIndex(a, m.At(a, c))
			if err != nil {
				return nil, fmt.Errorf("voxel %d: %w", c, err)
			}
			ijk[a] = idx
		}
		off := f.offset(ijk[0], ijk[1], ijk[2])
		for s := range species {
			f.grid[s][off] = m.At(4+s, c)
		}
	}
	return f, nil
}

// FromConcTable restores a field from the species columns of a table built
// by ConcTable on the same geometry.
func FromConcTable(g *mesh.Geometry, species []Species, t *table.Table) (*Field, error) {
	f := &Field{Species: species, shape: g.Shape()}
	n := f.shape[0] * f.shape[1] * f.shape[2]
	if t.Len() != n {
		return nil, fmt.Errorf("%w: concentration table has %d rows, mesh has %d voxels", ErrSchemaMismatch, t.Len(), n)
	}
	for _, sp := range species {
		c, ok := t.Column(sp.Name)
		if !ok || c.Kind != table.Float {
			return nil, fmt.Errorf("%w: no float column for substrate %s", ErrSchemaMismatch, sp.Name)
		}
		f.grid = append(f.grid, append([]float64(nil), c.Floats...))
	}
	return f, nil
}

// Index returns the id of the named species.
func (f *Field) Index(name string) (int, bool) {
	if f == nil {
		return 0, false
	}
	for i, sp := range f.Species {
		if sp.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Grid copies species s out as [j][i][k], the xy-indexed layout of the
// mesh grid.
func (f *Field) Grid(s int) [][][]float64 {
	out := make([][][]float64, f.shape[1])
	for j := range out {
		out[j] = make([][]float64, f.shape[0])
		for i := range out[j] {
			out[j][i] = make([]float64, f.shape[2])
			for k := range out[j][i] {
				out[j][i][k] = f.At(s, i, j, k)
			}
		}
	}
	return out
}

func (f *Field) offset(i, j, k int) int {
	return (i*f.shape[1]+j)*f.shape[2] + k
}

// At returns the concentration of species s in voxel (i, j, k).
func (f *Field) At(s, i, j, k int) float64 {
	return f.grid[s][f.offset(i, j, k)]
}

// Names lists species labels in id order.
func (f *Field) Names() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.Species))
	for i, sp := range f.Species {
		out[i] = sp.Name
	}
	return out
}

// Dict maps the decimal species id to its label.
func (f *Field) Dict() map[string]string {
	out := map[string]string{}
	if f == nil {
		return out
	}
	for _, sp := range f.Species {
		out[strconv.Itoa(sp.ID)] = sp.Name
	}
	return out
}

// ParameterTable lists decay rate and diffusion coefficient per species.
func (f *Field) ParameterTable() *table.Table {
	n := 0
	if f != nil {
		n = len(f.Species)
	}
	t := table.New(n)
	names := make([]string, n)
	decay := make([]float64, n)
	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		sp := f.Species[i]
		names[i], decay[i], diff[i] = sp.Name, sp.Decay, sp.Diffusion
	}
	_ = t.SetStrings("substrate", names)
	_ = t.SetFloats("decay_rate", decay)
	_ = t.SetFloats("diffusion_coefficient", diff)
	return t
}

// Stamp identifies the time step a table row belongs to.
type Stamp struct {
	Time    float64
	Runtime float64 // minutes
	XMLFile string
}

// ConcTable builds the tidy per-voxel table sorted by voxel_i, voxel_j,
// voxel_k. A nil field yields only the voxel and mesh center columns.
func ConcTable(g *mesh.Geometry, f *Field, st Stamp) *table.Table {
	shape := g.Shape()
	n := shape[0] * shape[1] * shape[2]
	t := table.New(n)

	vi := make([]int64, 0, n)
	vj := make([]int64, 0, n)
	vk := make([]int64, 0, n)
	cm := make([]float64, 0, n)
	cn := make([]float64, 0, n)
	cp := make([]float64, 0, n)
	for i := 0; i < shape[0]; i++ {
		for j := 0; j < shape[1]; j++ {
			for k := 0; k < shape[2]; k++ {
				vi, vj, vk = append(vi, int64(i)), append(vj, int64(j)), append(vk, int64(k))
				cm = append(cm, g.Axes[0][i])
				cn = append(cn, g.Axes[1][j])
				cp = append(cp, g.Axes[2][k])
			}
		}
	}
	_ = t.SetInts("voxel_i", vi)
	_ = t.SetInts("voxel_j", vj)
	_ = t.SetInts("voxel_k", vk)
	_ = t.SetFloats("mesh_center_m", cm)
	_ = t.SetFloats("mesh_center_n", cn)
	_ = t.SetFloats("mesh_center_p", cp)

	if f != nil {
		for s, sp := range f.Species {
			// Row order above is the grid's own (i, j, k) order.
			_ = t.SetFloats(sp.Name, append([]float64(nil), f.grid[s]...))
		}
	}

	t.ConstFloat("time", st.Time)
	t.ConstFloat("runtime", st.Runtime)
	t.ConstString("xmlfile", st.XMLFile)
	return t
}
