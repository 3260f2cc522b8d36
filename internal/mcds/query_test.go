package mcds_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/mcdstest"
	"mcdskit.dev/internal/persistence/snapshot"
)

func TestCellTable_Filters(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	kept, err := s.CellTable(mcds.Filter{Keep: []string{"oxygen"}})
	require.NoError(t, err)
	want := []string{
		"ID", "mesh_center_m", "mesh_center_n", "mesh_center_p", "oxygen",
		"position_x", "position_y", "position_z", "runtime", "time",
		"voxel_i", "voxel_j", "voxel_k", "xmlfile",
	}
	if diff := cmp.Diff(want, kept.Names()); diff != "" {
		t.Fatalf("keep (-want +got):\n%s", diff)
	}

	dropped, err := s.CellTable(mcds.Filter{Drop: []string{"oxygen", "position_x"}})
	require.NoError(t, err)
	assert.False(t, dropped.Has("oxygen"))
	assert.True(t, dropped.Has("position_x"), "coordinates survive drop")
	assert.True(t, dropped.Has("cell_type"))

	varied, err := s.CellTable(mcds.Filter{Values: 2})
	require.NoError(t, err)
	assert.False(t, varied.Has("total_volume"))
	assert.True(t, varied.Has("cell_type"))
	assert.True(t, varied.Has("time"), "constant coordinates survive")

	all, err := s.CellTable(mcds.Filter{Values: 1})
	require.NoError(t, err)
	assert.True(t, all.Has("total_volume"))

	_, err = s.CellTable(mcds.Filter{Keep: []string{"a"}, Drop: []string{"b"}})
	assert.ErrorIs(t, err, mcds.ErrConflictingFilter)
}

func TestCellTable_Copies(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	a, err := s.CellTable(mcds.Filter{Drop: []string{"oxygen"}})
	require.NoError(t, err)
	c, _ := a.Column("total_volume")
	c.Floats[0] = -1

	b, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.True(t, b.Has("oxygen"))
	c, _ = b.Column("total_volume")
	assert.Equal(t, 2494.0, c.Floats[0])
}

func TestConcTable_ZSlice(t *testing.T) {
	b := mcdstest.Default()
	b.Z = []float64{0, 10}
	b.Substrates[0].Value = func(x, y, z float64) float64 { return z }
	s, err := load(t, b, quiet())
	require.NoError(t, err)

	full, err := s.ConcTable(mcds.ConcQuery{})
	require.NoError(t, err)
	assert.Equal(t, 12, full.Len())

	top, err := s.ConcTable(mcds.ConcQuery{ZSlice: mcds.Slice(10)})
	require.NoError(t, err)
	assert.Equal(t, 6, top.Len())
	c, _ := top.Column("oxygen")
	assert.Equal(t, []float64{10, 10, 10, 10, 10, 10}, c.Floats)

	snapped, err := s.ConcTable(mcds.ConcQuery{ZSlice: mcds.Slice(3)})
	require.NoError(t, err)
	c, _ = snapped.Column("mesh_center_p")
	assert.Equal(t, 0.0, c.Floats[0])
	assert.Equal(t, 6, snapped.Len())

	_, err = s.ConcTable(mcds.ConcQuery{ZSlice: mcds.Slice(3), Strict: true})
	assert.ErrorIs(t, err, mcds.ErrSliceOffMesh)
}

func TestConcTable_Filters(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	dropped, err := s.ConcTable(mcds.ConcQuery{Filter: mcds.Filter{Drop: []string{"oxygen", "voxel_i"}}})
	require.NoError(t, err)
	assert.False(t, dropped.Has("oxygen"))
	assert.True(t, dropped.Has("voxel_i"))

	varied, err := s.ConcTable(mcds.ConcQuery{Filter: mcds.Filter{Values: 7}})
	require.NoError(t, err)
	assert.False(t, varied.Has("oxygen"), "6 distinct values < 7")

	_, err = s.ConcTable(mcds.ConcQuery{Filter: mcds.Filter{Keep: []string{"a"}, Drop: []string{"b"}}})
	assert.ErrorIs(t, err, mcds.ErrConflictingFilter)
}

func TestMeshAndConcentrationGrids(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	g := s.MeshGrid()
	// 2 rows (y) of 3 columns (x), one plane.
	require.Len(t, g[0], 2)
	require.Len(t, g[0][0], 3)
	require.Len(t, g[0][0][0], 1)
	assert.Equal(t, 20.0, g[0][1][2][0])
	assert.Equal(t, 10.0, g[1][1][2][0])
	assert.Equal(t, 0.0, g[2][1][2][0])

	flat := s.MeshGrid2D()
	assert.Equal(t, [][]float64{{0, 10, 20}, {0, 10, 20}}, flat[0])
	assert.Equal(t, [][]float64{{0, 0, 0}, {10, 10, 10}}, flat[1])

	oxygen, err := s.ConcentrationGrid("oxygen")
	require.NoError(t, err)
	assert.Equal(t, [][][]float64{{{0}, {100}, {200}}, {{10}, {110}, {210}}}, oxygen)

	_, err = s.ConcentrationGrid("glucose")
	assert.ErrorIs(t, err, mcds.ErrUnknownSubstrate)

	opts := quiet()
	opts.Microenv = false
	bare, err := load(t, mcdstest.Default(), opts)
	require.NoError(t, err)
	_, err = bare.ConcentrationGrid("oxygen")
	assert.ErrorIs(t, err, mcds.ErrUnknownSubstrate)
}

func TestArchive_RoundTrip(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	p := snapshot.Path(t.TempDir(), s.XMLFile())
	require.NoError(t, snapshot.WriteSnapshot(p, s.Archive()))
	a, err := snapshot.ReadSnapshot(p)
	require.NoError(t, err)
	r, err := mcds.FromArchive(a, nil)
	require.NoError(t, err)

	assert.Equal(t, s.Metadata(), r.Metadata())
	assert.Equal(t, s.XMLFile(), r.XMLFile())
	assert.Equal(t, s.VoxelIJKRange(), r.VoxelIJKRange())
	assert.Equal(t, s.MeshCoordinate(), r.MeshCoordinate())
	assert.Equal(t, s.SubstrateList(), r.SubstrateList())
	assert.Equal(t, s.CellTypeDict(), r.CellTypeDict())
	assert.Equal(t, s.CellTypeSource(), r.CellTypeSource())
	assert.Equal(t, s.CellAttributeList(), r.CellAttributeList())
	assert.Equal(t, s.UnitDict(), r.UnitDict())
	assert.Equal(t, s.NeighborGraph(), r.NeighborGraph())
	assert.Equal(t, s.SpringGraph(), r.SpringGraph())

	for _, q := range []mcds.Filter{{}, {Values: 2}} {
		want, err := s.CellTable(q)
		require.NoError(t, err)
		got, err := r.CellTable(q)
		require.NoError(t, err)
		if diff := cmp.Diff(want.Records(), got.Records()); diff != "" {
			t.Fatalf("cell table (-want +got):\n%s", diff)
		}
	}
	want, err := s.ConcTable(mcds.ConcQuery{})
	require.NoError(t, err)
	got, err := r.ConcTable(mcds.ConcQuery{})
	require.NoError(t, err)
	assert.Equal(t, want.Records(), got.Records())

	wantGrid, err := s.ConcentrationGrid("oxygen")
	require.NoError(t, err)
	gotGrid, err := r.ConcentrationGrid("oxygen")
	require.NoError(t, err)
	assert.Equal(t, wantGrid, gotGrid)
	assert.Equal(t, s.MeshGrid(), r.MeshGrid())

	h, err := snapshot.ReadHeader(p)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Cells)
	assert.Equal(t, 6, h.Voxels)

	a.Header.Version = 7
	_, err = mcds.FromArchive(a, nil)
	assert.Error(t, err)
}
