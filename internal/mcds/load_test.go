package mcds_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/mcdstest"
	"mcdskit.dev/internal/mcds/table"
)

func load(t *testing.T, b mcdstest.Bundle, opts mcds.Options) (*mcds.Snapshot, error) {
	t.Helper()
	path := mcdstest.Write(t, t.TempDir(), b)
	return mcds.Load(context.Background(), path, opts)
}

func quiet() mcds.Options {
	o := mcds.DefaultOptions()
	o.PhysiBoSS = false
	o.SettingsXML = ""
	return o
}

func column(t *testing.T, tb *table.Table, name string) *table.Column {
	t.Helper()
	c, ok := tb.Column(name)
	require.True(t, ok, "column %s", name)
	return c
}

func TestLoad_Metadata(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	assert.Equal(t, "output00000001.xml", s.XMLFile())
	assert.Equal(t, "MultiCellDS_2", s.MultiCellDSVersion())
	assert.Equal(t, "PhysiCell_1.14.0", s.PhysiCellVersion())
	assert.Equal(t, "2024-05-01T12:00:00Z", s.Created())
	assert.Equal(t, 60.0, s.Time())
	assert.Equal(t, 120.0, s.Runtime())
	md := s.Metadata()
	assert.Equal(t, "min", md.TimeUnit)
	assert.Equal(t, "sec", md.RuntimeUnit)
	assert.Equal(t, "micron", md.SpatialUnit)
	assert.Empty(t, s.Notices())
}

func TestLoad_Mesh(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	assert.Equal(t, [3][2]int{{0, 2}, {0, 1}, {0, 0}}, s.VoxelIJKRange())
	assert.Equal(t, [3][2]float64{{0, 20}, {0, 10}, {0, 0}}, s.MeshMNPRange())
	assert.Equal(t, [3][2]float64{{-5, 25}, {-5, 15}, {-5, 5}}, s.XYZRange())
	assert.Equal(t, [3]float64{10, 10, 10}, s.MeshSpacing())
	assert.Equal(t, 1000.0, s.VoxelVolume())
	assert.Equal(t, [3]int{3, 2, 1}, s.MeshShape())
	assert.Equal(t, [3][]int{{0, 1, 2}, {0, 1}, {0}}, s.VoxelIJKAxis())

	axes := s.MeshMNPAxis()
	axes[0][0] = 99
	assert.Equal(t, 0.0, s.MeshMNPAxis()[0][0], "axes are copies")

	ijk, err := s.VoxelIJK(9, 4, 0, true)
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 0, 0}, ijk)

	mnp, err := s.MeshMNP(14, 6, 1, true)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{10, 10, 0}, mnp)

	assert.True(t, s.IsInMesh(0, 0, 0))
	assert.False(t, s.IsInMesh(30, 0, 0))
	_, err = s.VoxelIJK(30, 0, 0, true)
	assert.ErrorIs(t, err, mcds.ErrNotInMesh)
	ijk, err = s.VoxelIJK(30, 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 0, 0}, ijk)
}

func TestLoad_Substrates(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	assert.True(t, s.HasMicroenv())
	assert.Equal(t, []string{"oxygen"}, s.SubstrateList())
	assert.Equal(t, map[string]string{"0": "oxygen"}, s.SubstrateDict())
	params := s.SubstrateTable()
	assert.Equal(t, 1, params.Len())
	assert.Equal(t, 0.1, column(t, params, "decay_rate").Floats[0])
	assert.Equal(t, 100000.0, column(t, params, "diffusion_coefficient").Floats[0])

	units := s.UnitDict()
	assert.Equal(t, "mmHg", units["oxygen"])
	assert.Equal(t, "min", units["time"])
	_, hasID := units["ID"]
	assert.False(t, hasID)
}

func TestLoad_ConcTable(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	conc, err := s.ConcTable(mcds.ConcQuery{})
	require.NoError(t, err)
	assert.Equal(t, 6, conc.Len())
	assert.Equal(t, []int64{0, 0, 1, 1, 2, 2}, column(t, conc, "voxel_i").Ints)
	assert.Equal(t, []int64{0, 1, 0, 1, 0, 1}, column(t, conc, "voxel_j").Ints)
	assert.Equal(t, []float64{0, 10, 100, 110, 200, 210}, column(t, conc, "oxygen").Floats)
	assert.Equal(t, 2.0, column(t, conc, "runtime").Floats[0])
	assert.Equal(t, "output00000001.xml", column(t, conc, "xmlfile").Strings[5])
}

func TestLoad_CellTable(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	assert.Equal(t, 2, s.NumCells())
	assert.Equal(t, "descriptor", s.CellTypeSource())
	assert.Equal(t, []string{"tumor", "immune"}, s.CellTypeList())
	assert.Equal(t, map[string]string{"0": "tumor", "1": "immune"}, s.CellTypeDict())

	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, column(t, ct, "ID").Ints)
	assert.Equal(t, []string{"tumor", "immune"}, column(t, ct, "cell_type").Strings)
	assert.Equal(t, []string{"live_cells_cycle_model", "apoptosis_death_model"}, column(t, ct, "cycle_model").Strings)
	assert.Equal(t, []string{"live", "apoptotic"}, column(t, ct, "current_phase").Strings)
	assert.Equal(t, []bool{false, true}, column(t, ct, "dead").Bools)
	assert.Equal(t, []int64{1, 1}, column(t, ct, "voxel_i").Ints)
	assert.Equal(t, []int64{2, 2}, column(t, ct, "cell_count_voxel").Ints)
	assert.Equal(t, []float64{0.002, 0.002}, column(t, ct, "cell_density_micron3").Floats)
	assert.Equal(t, []float64{5, 0}, column(t, ct, "velocity_vectorlength").Floats)
	assert.Equal(t, []float64{100, 100}, column(t, ct, "oxygen").Floats)
	assert.Equal(t, []float64{0.1, 0.1}, column(t, ct, "oxygen_decay_rate").Floats)
	assert.Equal(t, []float64{0.5, 0}, column(t, ct, "oxygen_secretion_rates").Floats)
	assert.Equal(t, []float64{1, 0.5}, column(t, ct, "tumor_cell_adhesion_affinities").Floats)
	assert.Equal(t, []float64{0.001, 0.001}, column(t, ct, "death_rates_0").Floats)

	names := ct.Names()
	assert.IsIncreasing(t, names, "columns are alphabetical")

	attrs := s.CellAttributeList()
	assert.Contains(t, attrs, "cell_type")
	assert.NotContains(t, attrs, "position_x")
	assert.NotContains(t, attrs, "ID")
}

func TestLoad_Graphs(t *testing.T) {
	s, err := load(t, mcdstest.Default(), quiet())
	require.NoError(t, err)

	want := map[string][]int{"0": {1}, "1": {0}}
	if diff := cmp.Diff(want, s.NeighborGraph().Lists()); diff != "" {
		t.Fatalf("neighbor graph (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, s.AttachedGraph().Edges())
	assert.Equal(t, []int{1}, s.SpringGraph().Neighbors(0))

	g := s.NeighborGraph()
	delete(g, 0)
	assert.Len(t, s.NeighborGraph(), 2, "graphs are copies")
}

func TestLoad_Options(t *testing.T) {
	opts := quiet()
	opts.Microenv = false
	opts.Graph = false
	s, err := load(t, mcdstest.Default(), opts)
	require.NoError(t, err)

	assert.False(t, s.HasMicroenv())
	assert.Empty(t, s.SubstrateList())
	assert.Empty(t, s.NeighborGraph())

	conc, err := s.ConcTable(mcds.ConcQuery{})
	require.NoError(t, err)
	assert.Equal(t, 6, conc.Len())
	assert.False(t, conc.Has("oxygen"))

	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.False(t, ct.Has("oxygen"))
	assert.True(t, ct.Has("secretion_rates_0"), "positional names without substrates")
	_, ok := s.UnitDict()["oxygen"]
	assert.False(t, ok)
}

func TestLoad_OutputPath(t *testing.T) {
	dir := t.TempDir()
	mcdstest.Write(t, dir, mcdstest.Default())
	opts := quiet()
	opts.OutputPath = dir
	s, err := mcds.Load(context.Background(), "output00000001.xml", opts)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path())
}

func TestLoad_Notices(t *testing.T) {
	b := mcdstest.Default()
	b.SkipSpringFile = true

	var buf bytes.Buffer
	opts := mcds.DefaultOptions()
	opts.Verbose = true
	opts.Logger = logging.NewLogger("warn", &buf)
	s, err := load(t, b, opts)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"settings file missing",
		"spring attached cells graph missing",
		"physiboss file missing",
	}, s.Notices())
	assert.Empty(t, s.SpringGraph())
	assert.Contains(t, buf.String(), "spring attached cells graph missing")
}

func TestLoad_SpringUndeclared(t *testing.T) {
	b := mcdstest.Default()
	b.OmitSpring = true
	s, err := load(t, b, quiet())
	require.NoError(t, err)
	assert.Equal(t, []string{"spring attached cells graph not declared"}, s.Notices())
	assert.Empty(t, s.SpringGraph())
}

func TestLoad_ZeroAgentCorruption(t *testing.T) {
	b := mcdstest.Default()
	b.CorruptCells = true
	s, err := load(t, b, quiet())
	require.NoError(t, err)

	assert.Equal(t, 0, s.NumCells())
	assert.Equal(t, []string{"corrupt cells matrix, assuming zero agents"}, s.Notices())
	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, ct.Len())
	assert.True(t, ct.Has("ID"))
}

func TestLoad_SettingsTypes(t *testing.T) {
	b := mcdstest.Default()
	b.CellTypes = nil
	b.Settings = map[int]string{0: "epithelial", 1: "macrophage"}
	opts := quiet()
	opts.SettingsXML = mcds.DefaultSettingsXML
	s, err := load(t, b, opts)
	require.NoError(t, err)

	assert.Equal(t, "settings", s.CellTypeSource())
	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"epithelial", "macrophage"}, column(t, ct, "cell_type").Strings)
	assert.True(t, ct.Has("macrophage_cell_adhesion_affinities"))
}

func TestLoad_ObservedTypes(t *testing.T) {
	b := mcdstest.Default()
	b.CellTypes = nil
	s, err := load(t, b, quiet())
	require.NoError(t, err)

	assert.Equal(t, "observed", s.CellTypeSource())
	assert.Equal(t, []string{"0", "1"}, s.CellTypeList())
	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.True(t, ct.Has("cell_adhesion_affinities_1"))
}

func TestLoad_NoTypeMapping(t *testing.T) {
	b := mcdstest.Default()
	b.CellTypes = nil
	b.Labels = []mcdstest.Label{
		{Name: "ID", Size: 1, Units: "none"},
		{Name: "position", Size: 3, Units: "microns"},
		{Name: "total_volume", Size: 1, Units: "cubic microns"},
	}
	b.Cells = [][]float64{{0, 9, 4, 0, 100}, {1, 11, 1, 0, 100}}
	_, err := load(t, b, quiet())
	assert.ErrorIs(t, err, mcds.ErrNoTypeMapping)
	assert.ErrorContains(t, err, "output00000001.xml")
}

func TestLoad_PhysiBoSS(t *testing.T) {
	b := mcdstest.Default()
	b.States = "ID,state\n0,A -- B\n1,<nil>\n"
	opts := quiet()
	opts.PhysiBoSS = true
	s, err := load(t, b, opts)
	require.NoError(t, err)

	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A -- B", "<nil>"}, column(t, ct, "state").Strings)
	assert.Equal(t, []bool{false, true}, column(t, ct, "state_nil").Bools)
	assert.Equal(t, []bool{true, false}, column(t, ct, "node_A").Bools)
}

func TestLoad_CustomTypes(t *testing.T) {
	opts := quiet()
	opts.CustomTypes = map[string]string{"total_volume": "int", "missing": "bool"}
	s, err := load(t, mcdstest.Default(), opts)
	require.NoError(t, err)
	ct, err := s.CellTable(mcds.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2494, 2494}, column(t, ct, "total_volume").Ints)
	assert.Equal(t, []string{"custom type for absent column ignored"}, s.Notices())

	opts.CustomTypes = map[string]string{"total_volume": "complex"}
	_, err = load(t, mcdstest.Default(), opts)
	assert.ErrorIs(t, err, mcds.ErrUnknownDataType)
}

func TestLoad_DuplicateID(t *testing.T) {
	b := mcdstest.Default()
	b.Cells[1][0] = 0
	_, err := load(t, b, quiet())
	assert.ErrorIs(t, err, mcds.ErrDuplicateID)
}

func TestLoad_Errors(t *testing.T) {
	_, err := mcds.Load(context.Background(), filepath.Join(t.TempDir(), "output00000009.xml"), quiet())
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir := t.TempDir()
	b := mcdstest.Default()
	path := mcdstest.Write(t, dir, b)
	require.NoError(t, os.Remove(filepath.Join(dir, b.CellsFile())))
	_, err = mcds.Load(context.Background(), path, quiet())
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir = t.TempDir()
	path = mcdstest.Write(t, dir, b)
	require.NoError(t, os.WriteFile(path, []byte(`<MultiCellDS version="2"><metadata/></MultiCellDS>`), 0o644))
	_, err = mcds.Load(context.Background(), path, quiet())
	assert.ErrorIs(t, err, mcds.ErrMissingNode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mcds.Load(ctx, mcdstest.Write(t, t.TempDir(), b), quiet())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_LabelWidthDisagreesWithSubstrates(t *testing.T) {
	b := mcdstest.Default()
	b.Substrates = append(b.Substrates, mcdstest.Substrate{Name: "glucose", Unit: "mM", Diffusion: 50, Decay: 0.01})
	// secretion_rates still declares one column.
	_, err := load(t, b, quiet())
	assert.ErrorIs(t, err, mcds.ErrSchemaMismatch)
}

func TestLoad_LabelWidthDisagreesWithCellTypes(t *testing.T) {
	b := mcdstest.Default()
	b.CellTypes = map[int]string{0: "tumor", 1: "immune", 2: "stroma"}
	// cell_adhesion_affinities still declares two columns.
	_, err := load(t, b, quiet())
	assert.ErrorIs(t, err, mcds.ErrSchemaMismatch)
}

func TestLoad_QueryWarningsAfterLoad(t *testing.T) {
	var buf bytes.Buffer
	opts := quiet()
	opts.Verbose = true
	opts.Logger = logging.NewLogger("warn", &buf)
	s, err := load(t, mcdstest.Default(), opts)
	require.NoError(t, err)
	before := s.Notices()

	for i := 0; i < 100; i++ {
		_, err := s.ConcTable(mcds.ConcQuery{ZSlice: mcds.Slice(0.123)})
		require.NoError(t, err)
		assert.False(t, s.IsInMesh(1e9, 0, 0))
	}

	// Later warnings reach the caller's logger but never the load notices.
	assert.Equal(t, before, s.Notices())
	assert.Contains(t, buf.String(), "z slice snapped to nearest mesh center")
	assert.Contains(t, buf.String(), "position out of bounds")
}
