// Package mesh derives the voxel geometry of a time step from the XML
// coordinate arrays and the mesh matrix.
package mesh

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"mcdskit.dev/internal/mcds/encoding"
	"mcdskit.dev/internal/mcds/xmldoc"
)

var ErrInconsistentMesh = errors.New("inconsistent mesh")

// Tolerance used when matching voxel centers against axis values.
const Tolerance = 1e-10

// Spec is everything the descriptor says about the mesh.
type Spec struct {
	X, Y, Z     []float64
	BoundingBox [6]float64 // xmin ymin zmin xmax ymax zmax
	Unit        string
	Filename    string
}

// ReadSpec reads microenvironment/domain/mesh.
func ReadSpec(mesh xmldoc.Node) (Spec, error) {
	var s Spec
	s.Unit = mesh.Attr("units", "")
	for i, name := range []string{"x_coordinates", "y_coordinates", "z_coordinates"} {
		n, err := mesh.Require(name)
		if err != nil {
			return s, err
		}
		v, err := n.Floats()
		if err != nil {
			return s, err
		}
		if len(v) == 0 {
			return s, fmt.Errorf("%w: %s is empty", ErrInconsistentMesh, n.Path())
		}
		switch i {
		case 0:
			s.X = v
		case 1:
			s.Y = v
		default:
			s.Z = v
		}
	}
	bb, err := mesh.Require("bounding_box")
	if err != nil {
		return s, err
	}
	box, err := bb.Floats()
	if err != nil {
		return s, err
	}
	if len(box) != 6 {
		return s, fmt.Errorf("%w: bounding box has %d values, want 6", ErrInconsistentMesh, len(box))
	}
	copy(s.BoundingBox[:], box)

	fn, err := mesh.Require("voxels/filename")
	if err != nil {
		return s, err
	}
	if s.Filename, err = fn.RequireText(); err != nil {
		return s, err
	}
	return s, nil
}

// Geometry is the derived, immutable voxel mesh.
type Geometry struct {
	Axes     [3][]float64  // unique sorted mesh center values per axis
	MNPRange [3][2]float64 // (min, max) per axis
	IJKRange [3][2]int     // (0, len-1) per axis
	XYZRange [3][2]float64 // from the bounding box
	Spacing  [3]float64    // dm, dn, dp
	Volume   float64       // single voxel volume
	Centers  [3][]float64  // voxel center coordinates from the mesh matrix
	Unit     string
}

// Build combines the descriptor spec with the "mesh" matrix: rows 0-2 are
// voxel centers, row 3 the voxel volume.
func Build(s Spec, m *encoding.Matrix) (*Geometry, error) {
	if m == nil || m.Rows < 4 {
		return nil, fmt.Errorf("%w: mesh matrix needs 4 rows", ErrInconsistentMesh)
	}
	if m.Cols == 0 {
		return nil, fmt.Errorf("%w: mesh matrix has no voxels", ErrInconsistentMesh)
	}
	g := &Geometry{Unit: s.Unit}

	// Unique sorted values of the xy-indexed meshgrid are the unique sorted
	// values of each coordinate array.
	for i, coords := range [3][]float64{s.X, s.Y, s.Z} {
		g.Axes[i] = unique(coords)
		ax := g.Axes[i]
		g.MNPRange[i] = [2]float64{ax[0], ax[len(ax)-1]}
		g.IJKRange[i] = [2]int{0, len(ax) - 1}
		g.XYZRange[i] = [2]float64{s.BoundingBox[i], s.BoundingBox[i+3]}
	}

	for r := 0; r < 3; r++ {
		g.Centers[r] = m.Row(r)
	}
	vol := m.Row(3)
	distinct := map[float64]struct{}{}
	for _, v := range vol {
		distinct[v] = struct{}{}
	}
	if len(distinct) != 1 {
		vals := make([]float64, 0, len(distinct))
		for v := range distinct {
			vals = append(vals, v)
		}
		sort.Float64s(vals)
		return nil, fmt.Errorf("%w: voxel volume is not unique: %v", ErrInconsistentMesh, vals)
	}
	g.Volume = vol[0]

	for i := 0; i < 2; i++ {
		r := g.MNPRange[i]
		if r[0] == r[1] {
			g.Spacing[i] = 1
		} else {
			g.Spacing[i] = (r[1] - r[0]) / float64(len(g.Axes[i])-1)
		}
	}
	g.Spacing[2] = g.Volume / (g.Spacing[0] * g.Spacing[1])
	return g, nil
}

func unique(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	n := 0
	for i, x := range out {
		if i == 0 || x != out[n-1] {
			out[n] = x
			n++
		}
	}
	return out[:n]
}

// Shape is the number of mesh centers per axis.
func (g *Geometry) Shape() [3]int {
	return [3]int{len(g.Axes[0]), len(g.Axes[1]), len(g.Axes[2])}
}

// NumVoxels is the number of voxel centers in the mesh matrix.
func (g *Geometry) NumVoxels() int { return len(g.Centers[0]) }

// AxisIndex locates v on axis within Tolerance.
func (g *Geometry) AxisIndex(axis int, v float64) (int, error) {
	ax := g.Axes[axis]
	i := sort.SearchFloat64s(ax, v)
	for _, c := range []int{i - 1, i} {
		if c >= 0 && c < len(ax) && math.Abs(ax[c]-v) < Tolerance {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: coordinate %v not on axis %d", ErrInconsistentMesh, v, axis)
}

// Snap maps a continuous position onto a voxel index per axis:
// round((p - axis_min) / spacing), half to even, clamped into IJKRange.
func (g *Geometry) Snap(pos [3]float64) [3]int {
	var ijk [3]int
	for a := 0; a < 3; a++ {
		i := int(math.RoundToEven((pos[a] - g.MNPRange[a][0]) / g.Spacing[a]))
		if i > g.IJKRange[a][1] {
			i = g.IJKRange[a][1]
		}
		if i < g.IJKRange[a][0] {
			i = g.IJKRange[a][0]
		}
		ijk[a] = i
	}
	return ijk
}

// InMesh reports whether the position lies inside the bounding box and, if
// not, which axis it violates first.
func (g *Geometry) InMesh(pos [3]float64) (bool, int) {
	for a := 0; a < 3; a++ {
		if pos[a] < g.XYZRange[a][0] || pos[a] > g.XYZRange[a][1] {
			return false, a
		}
	}
	return true, -1
}

// NearestCenter returns the mesh center closest to pos on every axis. Ties
// resolve to the smaller coordinate.
func (g *Geometry) NearestCenter(pos [3]float64) [3]float64 {
	var out [3]float64
	for a := 0; a < 3; a++ {
		out[a] = Nearest(g.Axes[a], pos[a])
	}
	return out
}

// Nearest returns the value of the sorted axis closest to v.
func Nearest(axis []float64, v float64) float64 {
	best := axis[0]
	for _, x := range axis[1:] {
		if math.Abs(x-v) < math.Abs(best-v) {
			best = x
		}
	}
	return best
}

// VoxelIJK is the unclamped voxel index of a position, as used for
// arbitrary coordinate queries.
func (g *Geometry) VoxelIJK(pos [3]float64) [3]int {
	var out [3]int
	for a := 0; a < 3; a++ {
		out[a] = int(math.RoundToEven((pos[a] - g.MNPRange[a][0]) / g.Spacing[a]))
	}
	return out
}
