// Package catalogs holds the static code tables and column naming
// conventions of PhysiCell MultiCellDS output. Nothing here depends on a
// particular time step.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
)

// Codec tables, PhysiCell/core/PhysiCell_constants.
var (
	CycleModel = map[int]string{
		0: "advanced_Ki67_cycle_model",
		1: "basic_Ki67_cycle_model",
		2: "flow_cytometry_cycle_model",
		3: "live_apoptotic_cycle_model",
		4: "total_cells_cycle_model",
		5: "live_cells_cycle_model",
		6: "flow_cytometry_separated_cycle_model",
		7: "cycling_quiescent_model",
	}
	DeathModel = map[int]string{
		100:  "apoptosis_death_model",
		101:  "necrosis_death_model",
		102:  "autophagy_death_model",
		9999: "custom_cycle_model",
	}
	CyclePhase = map[int]string{
		0:    "Ki67_positive_premitotic",
		1:    "Ki67_positive_postmitotic",
		2:    "Ki67_positive",
		3:    "Ki67_negative",
		4:    "G0G1_phase",
		5:    "G0_phase",
		6:    "G1_phase",
		7:    "G1a_phase",
		8:    "G1b_phase",
		9:    "G1c_phase",
		10:   "S_phase",
		11:   "G2M_phase",
		12:   "G2_phase",
		13:   "M_phase",
		14:   "live",
		15:   "G1pm_phase",
		16:   "G1ps_phase",
		17:   "cycling",
		18:   "quiescent",
		9999: "custom_phase",
	}
	DeathPhase = map[int]string{
		100: "apoptotic",
		101: "necrotic_swelling",
		102: "necrotic_lysed",
		103: "necrotic",
		104: "debris",
	}
)

// Label convention sets. Membership decides how a compact label expands
// into matrix rows.
var (
	PerSubstrate = set(
		"chemotactic_sensitivities",
		"secretion_rates",
		"uptake_rates",
		"saturation_densities",
		"net_export_rates",
		"internalized_total_substrates",
		"fraction_released_at_death",
		"fraction_transferred_when_ingested",
	)
	PerCellType = set(
		"cell_adhesion_affinities",
		"live_phagocytosis_rates",
		"attack_rates",
		"immunogenicities",
		"fusion_rates",
		"transformation_rates",
	)
	PerDeathModel = set("death_rates")
	// Both bias direction spellings are accepted regardless of the declared
	// MultiCellDS version (migration_ in 1.0, motility_ in 0.5).
	Spatial = set(
		"migration_bias_direction",
		"motility_bias_direction",
		"motility_vector",
		"orientation",
		"position",
		"velocity",
	)
)

// Type names accepted by the cell table typing step.
const (
	TypeFloat    = "float"
	TypeInt      = "int"
	TypeBool     = "bool"
	TypeString   = "str"
	TypeCategory = "category"
)

// ColumnTypes lists every cell table column that is not a float.
var ColumnTypes = map[string]string{
	"ID":                             TypeInt,
	"cell_count_voxel":               TypeInt,
	"number_of_nuclei":               TypeInt,
	"maximum_number_of_attachments":  TypeInt,
	"contact_with_basement_membrane": TypeBool,
	"dead":                           TypeBool,
	"is_motile":                      TypeBool,
	"cell_type":                      TypeString,
	"chemotaxis_index":               TypeString,
	"cycle_model":                    TypeString,
	"current_phase":                  TypeString,
	"current_death_model":            TypeString,
}

// Coordinate columns survive every column filter.
var (
	ConcCoordinates = set(
		"ID",
		"voxel_i", "voxel_j", "voxel_k",
		"mesh_center_m", "mesh_center_n", "mesh_center_p",
		"time", "runtime",
		"xmlfile",
	)
	CellCoordinates = set(
		"ID",
		"voxel_i", "voxel_j", "voxel_k",
		"mesh_center_m", "mesh_center_n", "mesh_center_p",
		"position_x", "position_y", "position_z",
		"time", "runtime",
		"xmlfile",
	)
)

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Has reports whether name is a member of s.
func Has(s map[string]struct{}, name string) bool {
	_, ok := s[name]
	return ok
}

// Decode maps code through the given tables in order. Unmapped codes keep
// their decimal representation.
func Decode(code int, tables ...map[int]string) string {
	for _, t := range tables {
		if s, ok := t[code]; ok {
			return s
		}
	}
	return strconv.Itoa(code)
}

var (
	digestOnce sync.Once
	digest     string
)

// Digest fingerprints the static tables so an index can tell which
// decoding rules produced a row.
func Digest() string {
	digestOnce.Do(func() {
		doc := map[string]any{
			"cycle_model":     CycleModel,
			"death_model":     DeathModel,
			"cycle_phase":     CyclePhase,
			"death_phase":     DeathPhase,
			"per_substrate":   sortedKeys(PerSubstrate),
			"per_cell_type":   sortedKeys(PerCellType),
			"per_death_model": sortedKeys(PerDeathModel),
			"spatial":         sortedKeys(Spatial),
			"column_types":    ColumnTypes,
		}
		// encoding/json sorts map keys, so the output is canonical.
		b, _ := json.Marshal(doc)
		digest = sha256Hex(b)
	})
	return digest
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
