package labels

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/mcds/xmldoc"
)

func TestExpand(t *testing.T) {
	ls := []Label{
		{Name: "ID", Width: 1, Unit: "none"},
		{Name: "position", Width: 3, Unit: "microns"},
		{Name: "death_rates", Width: 2, Unit: "1/min"},
		{Name: "secretion_rates", Width: 2, Unit: "1/min"},
		{Name: "attack_rates", Width: 2, Unit: "1/min"},
		{Name: "custom_vec", Width: 2, Unit: "dimensionless"},
	}
	ctx := Context{Substrates: []string{"oxygen", "drug"}, CellTypes: []string{"tumor", "immune"}}

	got := Names(Expand(ls, ctx))
	want := []string{
		"ID",
		"position_x", "position_y", "position_z",
		"death_rates_0", "death_rates_1",
		"oxygen_secretion_rates", "drug_secretion_rates",
		"tumor_attack_rates", "immune_attack_rates",
		"custom_vec_000", "custom_vec_001",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Expand mismatch (-want +got):\n%s", diff)
	}

	units := Units(Expand(ls, ctx))
	assert.Equal(t, "1/min", units["death_rates_1"])
	assert.Equal(t, "microns", units["position_z"])
	assert.Equal(t, "dimensionless", units["custom_vec_001"])
}

func TestExpand_PositionalFallback(t *testing.T) {
	ls := []Label{
		{Name: "uptake_rates", Width: 2},
		{Name: "cell_adhesion_affinities", Width: 3},
	}
	got := Names(Expand(ls, Context{}))
	assert.Equal(t, []string{
		"uptake_rates_0", "uptake_rates_1",
		"cell_adhesion_affinities_0", "cell_adhesion_affinities_1", "cell_adhesion_affinities_2",
	}, got)

}

func TestExpand_ResolvedTableWins(t *testing.T) {
	// The resolved table names the columns even when the declared width
	// disagrees, so the width check against the matrix still fails.
	got := Names(Expand([]Label{{Name: "cell_adhesion_affinities", Width: 3}}, Context{CellTypes: []string{"a", "b"}}))
	assert.Equal(t, []string{"a_cell_adhesion_affinities", "b_cell_adhesion_affinities"}, got)

	got = Names(Expand([]Label{{Name: "secretion_rates", Width: 1}}, Context{Substrates: []string{"oxygen", "glucose"}}))
	assert.Equal(t, []string{"oxygen_secretion_rates", "glucose_secretion_rates"}, got)
}

func TestExpand_DeathRatesScenario(t *testing.T) {
	got := Names(Expand([]Label{{Name: "death_rates", Width: 2}}, Context{}))
	assert.Equal(t, []string{"death_rates_0", "death_rates_1"}, got)
}

func TestClassify(t *testing.T) {
	cases := map[Label]Kind{
		{Name: "net_export_rates", Width: 1}:         KindPerSubstrate,
		{Name: "fusion_rates", Width: 1}:             KindPerCellType,
		{Name: "death_rates", Width: 2}:              KindPerDeathModel,
		{Name: "motility_bias_direction", Width: 3}:  KindSpatial,
		{Name: "migration_bias_direction", Width: 3}: KindSpatial,
		{Name: "total_volume", Width: 1}:             KindScalar,
		{Name: "custom_vec", Width: 4}:               KindVector,
	}
	for l, want := range cases {
		assert.Equal(t, want, Classify(l), l.Name)
	}
}

func TestRead(t *testing.T) {
	root, err := xmldoc.ReadBytes([]byte(`<simplified_data source="PhysiCell">
	  <labels>
	    <label index="0" size="1" units="none">ID</label>
	    <label index="1" size="3" units="microns">position</label>
	  </labels>
	</simplified_data>`))
	require.NoError(t, err)
	ls, err := Read(root)
	require.NoError(t, err)
	assert.Equal(t, []Label{{Name: "ID", Width: 1, Unit: "none"}, {Name: "position", Width: 3, Unit: "microns"}}, ls)
	assert.Equal(t, 1, Index(Expand(ls, Context{}), "position_x"))
	assert.Equal(t, -1, Index(Expand(ls, Context{}), "velocity_x"))

	bad, err := xmldoc.ReadBytes([]byte(`<simplified_data><labels><label units="none">ID</label></labels></simplified_data>`))
	require.NoError(t, err)
	_, err = Read(bad)
	require.Error(t, err)
}
