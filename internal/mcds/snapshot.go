package mcds

import (
	"fmt"
	"log/slog"

	"mcdskit.dev/internal/mcds/celltype"
	"mcdskit.dev/internal/mcds/graph"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/substrate"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/mcds/units"
)

// Snapshot is one decoded time step. It is immutable; every accessor
// returns an independent copy.
type Snapshot struct {
	path       string
	xmlfile    string
	meta       Metadata
	geom       *mesh.Geometry
	field      *substrate.Field // nil without microenvironment
	conc       *table.Table
	cells      *table.Table
	attrs      []string
	cellTypes  celltype.Table
	typeSource string
	graphs     [3]graph.Graph
	units      units.Dict
	notices    []string
	log        *slog.Logger
}

func (s *Snapshot) Path() string               { return s.path }
func (s *Snapshot) XMLFile() string            { return s.xmlfile }
func (s *Snapshot) Metadata() Metadata         { return s.meta }
func (s *Snapshot) MultiCellDSVersion() string { return s.meta.MultiCellDSVersion }
func (s *Snapshot) PhysiCellVersion() string   { return s.meta.PhysiCellVersion }
func (s *Snapshot) Created() string            { return s.meta.Created }

// Time is the simulated time, in the descriptor's time unit.
func (s *Snapshot) Time() float64 { return s.meta.Time }

// Runtime is the wall time as stored, usually seconds. Table columns
// carry it in minutes.
func (s *Snapshot) Runtime() float64 { return s.meta.Runtime }

// Notices lists the warnings recovered while loading.
func (s *Snapshot) Notices() []string { return append([]string(nil), s.notices...) }

// Mesh

func (s *Snapshot) VoxelIJKRange() [3][2]int     { return s.geom.IJKRange }
func (s *Snapshot) MeshMNPRange() [3][2]float64  { return s.geom.MNPRange }
func (s *Snapshot) XYZRange() [3][2]float64      { return s.geom.XYZRange }
func (s *Snapshot) MeshSpacing() [3]float64      { return s.geom.Spacing }
func (s *Snapshot) VoxelSpacing() [3]float64     { return s.geom.Spacing }
func (s *Snapshot) VoxelVolume() float64         { return s.geom.Volume }
func (s *Snapshot) MeshShape() [3]int            { return s.geom.Shape() }
func (s *Snapshot) MeshMNPAxis() [3][]float64    { return copyAxes(s.geom.Axes) }
func (s *Snapshot) MeshCoordinate() [3][]float64 { return copyAxes(s.geom.Centers) }

// MeshGrid returns the m, n and p mesh center grids, each indexed
// [j][i][k] (xy indexing).
func (s *Snapshot) MeshGrid() [3][][][]float64 {
	shape := s.geom.Shape()
	var out [3][][][]float64
	for a := range out {
		out[a] = make([][][]float64, shape[1])
		for j := range out[a] {
			out[a][j] = make([][]float64, shape[0])
			for i := range out[a][j] {
				out[a][j][i] = make([]float64, shape[2])
				for k := range out[a][j][i] {
					out[a][j][i][k] = s.geom.Axes[a][[3]int{i, j, k}[a]]
				}
			}
		}
	}
	return out
}

// MeshGrid2D returns the m and n grids of the first xy plane, indexed [j][i].
func (s *Snapshot) MeshGrid2D() [2][][]float64 {
	g := s.MeshGrid()
	var out [2][][]float64
	for a := range out {
		out[a] = make([][]float64, len(g[a]))
		for j := range g[a] {
			out[a][j] = make([]float64, len(g[a][j]))
			for i := range g[a][j] {
				out[a][j][i] = g[a][j][i][0]
			}
		}
	}
	return out
}

func (s *Snapshot) VoxelIJKAxis() [3][]int {
	var out [3][]int
	for a, r := range s.geom.IJKRange {
		out[a] = make([]int, r[1]-r[0]+1)
		for i := range out[a] {
			out[a][i] = r[0] + i
		}
	}
	return out
}

func copyAxes(in [3][]float64) [3][]float64 {
	var out [3][]float64
	for a := range in {
		out[a] = append([]float64(nil), in[a]...)
	}
	return out
}

// IsInMesh reports whether (x, y, z) lies inside the bounding box,
// logging the first offending axis.
func (s *Snapshot) IsInMesh(x, y, z float64) bool {
	ok, axis := s.geom.InMesh([3]float64{x, y, z})
	if !ok {
		s.log.Warn("position out of bounds", "axis", "xyz"[axis:axis+1],
			"position", []float64{x, y, z}, "range", s.geom.XYZRange[axis])
	}
	return ok
}

func (s *Snapshot) checkInMesh(x, y, z float64) error {
	if ok, axis := s.geom.InMesh([3]float64{x, y, z}); !ok {
		return fmt.Errorf("%w: %c = %v, range %v", ErrNotInMesh, "xyz"[axis], []float64{x, y, z}[axis], s.geom.XYZRange[axis])
	}
	return nil
}

// MeshMNP returns the mesh center nearest to (x, y, z). With check set, a
// position outside the bounding box fails with ErrNotInMesh.
func (s *Snapshot) MeshMNP(x, y, z float64, check bool) ([3]float64, error) {
	if check {
		if err := s.checkInMesh(x, y, z); err != nil {
			return [3]float64{}, err
		}
	}
	return s.geom.NearestCenter([3]float64{x, y, z}), nil
}

// VoxelIJK returns the voxel index of (x, y, z), unclamped.
func (s *Snapshot) VoxelIJK(x, y, z float64, check bool) ([3]int, error) {
	if check {
		if err := s.checkInMesh(x, y, z); err != nil {
			return [3]int{}, err
		}
	}
	return s.geom.VoxelIJK([3]float64{x, y, z}), nil
}

// Substrates

func (s *Snapshot) SubstrateList() []string          { return s.field.Names() }
func (s *Snapshot) SubstrateDict() map[string]string { return s.field.Dict() }
func (s *Snapshot) SubstrateTable() *table.Table     { return s.field.ParameterTable() }
func (s *Snapshot) HasMicroenv() bool                { return s.field != nil }

// ConcentrationGrid returns the named substrate on the mesh, indexed
// [j][i][k] like MeshGrid.
func (s *Snapshot) ConcentrationGrid(name string) ([][][]float64, error) {
	id, ok := s.field.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q not in %v", ErrUnknownSubstrate, name, s.field.Names())
	}
	return s.field.Grid(id), nil
}

// Agents

func (s *Snapshot) CellTypeList() []string          { return s.cellTypes.Ordered() }
func (s *Snapshot) CellTypeDict() map[string]string { return s.cellTypes.Dict() }

// CellTypeSource names the resolver that produced the type table:
// descriptor, settings, observed, or empty when no agent needed one.
func (s *Snapshot) CellTypeSource() string { return s.typeSource }

// CellAttributeList is the sorted list of non-coordinate cell columns.
func (s *Snapshot) CellAttributeList() []string { return append([]string(nil), s.attrs...) }

// NumCells is the number of agents.
func (s *Snapshot) NumCells() int { return s.cells.Len() }

// Graphs

func (s *Snapshot) NeighborGraph() graph.Graph { return s.graphs[Neighbor].Clone() }
func (s *Snapshot) AttachedGraph() graph.Graph { return s.graphs[Attached].Clone() }
func (s *Snapshot) SpringGraph() graph.Graph   { return s.graphs[Spring].Clone() }

// Units

func (s *Snapshot) UnitDict() units.Dict { return s.units.Clone() }
