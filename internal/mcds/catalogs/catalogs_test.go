package catalogs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	assert.Equal(t, "flow_cytometry_separated_cycle_model", Decode(6, CycleModel, DeathModel))
	assert.Equal(t, "necrosis_death_model", Decode(101, CycleModel, DeathModel))
	assert.Equal(t, "necrotic_lysed", Decode(102, CyclePhase, DeathPhase))
	assert.Equal(t, "custom_phase", Decode(9999, CyclePhase, DeathPhase))
	assert.Equal(t, "42", Decode(42, CyclePhase, DeathPhase))
	assert.Equal(t, "-1", Decode(-1))
}

func TestConventionSetsAreDisjoint(t *testing.T) {
	sets := []map[string]struct{}{PerSubstrate, PerCellType, PerDeathModel, Spatial}
	seen := map[string]int{}
	for i, s := range sets {
		for name := range s {
			if j, ok := seen[name]; ok {
				t.Fatalf("%q in convention sets %d and %d", name, j, i)
			}
			seen[name] = i
		}
	}
	assert.True(t, Has(Spatial, "migration_bias_direction"))
	assert.True(t, Has(Spatial, "motility_bias_direction"))
}

func TestDigestStable(t *testing.T) {
	d := Digest()
	assert.Len(t, d, 64)
	assert.Equal(t, d, Digest())
}
