// Package mcdstest writes small but complete PhysiCell output bundles for
// tests.
package mcdstest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/mcds/encoding"
)

type Substrate struct {
	Name      string
	Unit      string
	Diffusion float64
	Decay     float64
	// Value gives the concentration at a voxel center; nil means 10*x + y.
	Value func(x, y, z float64) float64
}

type Label struct {
	Name  string
	Size  int
	Units string
}

// Bundle describes one time step. Zero fields fall back to Default.
type Bundle struct {
	XMLFile string
	Time    float64
	Runtime float64 // seconds

	X, Y, Z    []float64
	Substrates []Substrate

	// CellTypes is written as simplified_data/cell_types; nil omits it.
	CellTypes map[int]string
	Labels    []Label
	// Cells holds one slice per agent, one value per matrix row.
	Cells [][]float64
	// CorruptCells writes a cells file that is not a MAT v4 container.
	CorruptCells bool

	Neighbor string
	Attached string
	Spring   string
	// OmitSpring drops the spring graph node from the descriptor;
	// SkipSpringFile declares it but does not write the file.
	OmitSpring     bool
	SkipSpringFile bool

	// Settings, when non-nil, is written as PhysiCell_settings.xml.
	Settings map[int]string
	// States, when non-empty, is written as the PhysiBoSS state file.
	States string
}

// Default is a 3 x 2 x 1 mesh with spacing 10, one substrate, two typed
// agents sharing voxel (1, 0, 0) and all three graphs.
func Default() Bundle {
	return Bundle{
		XMLFile: "output00000001.xml",
		Time:    60,
		Runtime: 120,
		X:       []float64{0, 10, 20},
		Y:       []float64{0, 10},
		Z:       []float64{0},
		Substrates: []Substrate{
			{Name: "oxygen", Unit: "mmHg", Diffusion: 100000, Decay: 0.1},
		},
		CellTypes: map[int]string{0: "tumor", 1: "immune"},
		Labels: []Label{
			{"ID", 1, "none"},
			{"position", 3, "microns"},
			{"total_volume", 1, "cubic microns"},
			{"cell_type", 1, "none"},
			{"cycle_model", 1, "none"},
			{"current_phase", 1, "none"},
			{"dead", 1, "none"},
			{"velocity", 3, "micron/min"},
			{"death_rates", 2, "1/min"},
			{"secretion_rates", 1, "1/min"},
			{"cell_adhesion_affinities", 2, "dimensionless"},
		},
		Cells: [][]float64{
			// ID x y z vol type cycle phase dead vx vy vz dr0 dr1 sec adh0 adh1
			{0, 9, 4, 0, 2494, 0, 5, 14, 0, 3, 4, 0, 0.001, 0.002, 0.5, 1, 0.5},
			{1, 11, 1, 0, 2494, 1, 100, 100, 1, 0, 0, 0, 0.001, 0.002, 0, 0.5, 1},
		},
		Neighbor: "0: 1\n1: 0\n",
		Attached: "0:\n1:\n",
		Spring:   "0: 1\n1:\n",
	}
}

// Names of the files a bundle references, relative to its directory.
func (b Bundle) Prefix() string       { return strings.TrimSuffix(b.XMLFile, ".xml") }
func (b Bundle) MeshFile() string     { return "initial_mesh0.mat" }
func (b Bundle) MicroenvFile() string { return b.Prefix() + "_microenvironment0.mat" }
func (b Bundle) CellsFile() string    { return b.Prefix() + "_cells.mat" }
func (b Bundle) NeighborFile() string { return b.Prefix() + "_cell_neighbor_graph.txt" }
func (b Bundle) AttachedFile() string { return b.Prefix() + "_attached_cells_graph.txt" }
func (b Bundle) SpringFile() string   { return b.Prefix() + "_spring_attached_cells_graph.txt" }

func (b Bundle) spacing() [3]float64 {
	var out [3]float64
	for a, ax := range [3][]float64{b.X, b.Y, b.Z} {
		if len(ax) < 2 {
			out[a] = 10
			continue
		}
		out[a] = ax[1] - ax[0]
	}
	return out
}

// Write materializes b in dir and returns the descriptor path.
func Write(t testing.TB, dir string, b Bundle) string {
	t.Helper()
	sp := b.spacing()
	vol := sp[0] * sp[1] * sp[2]

	meshM := &encoding.Matrix{Name: "mesh", Rows: 4}
	envM := &encoding.Matrix{Name: "multiscale_microenvironment", Rows: 4 + len(b.Substrates)}
	for _, z := range b.Z {
		for _, y := range b.Y {
			for _, x := range b.X {
				meshM.Data = append(meshM.Data, x, y, z, vol)
				meshM.Cols++
				envM.Data = append(envM.Data, x, y, z, vol)
				for _, s := range b.Substrates {
					v := 10*x + y
					if s.Value != nil {
						v = s.Value(x, y, z)
					}
					envM.Data = append(envM.Data, v)
				}
				envM.Cols++
			}
		}
	}
	require.NoError(t, encoding.WriteMATFile(filepath.Join(dir, b.MeshFile()), meshM))
	require.NoError(t, encoding.WriteMATFile(filepath.Join(dir, b.MicroenvFile()), envM))

	rows := 0
	for _, l := range b.Labels {
		rows += l.Size
	}
	if b.CorruptCells {
		writeFile(t, dir, b.CellsFile(), "not a matrix")
	} else {
		cellsM := &encoding.Matrix{Name: "cells", Rows: rows}
		for _, agent := range b.Cells {
			require.Len(t, agent, rows, "agent row count")
			cellsM.Data = append(cellsM.Data, agent...)
			cellsM.Cols++
		}
		require.NoError(t, encoding.WriteMATFile(filepath.Join(dir, b.CellsFile()), cellsM))
	}

	writeFile(t, dir, b.NeighborFile(), b.Neighbor)
	writeFile(t, dir, b.AttachedFile(), b.Attached)
	if !b.OmitSpring && !b.SkipSpringFile {
		writeFile(t, dir, b.SpringFile(), b.Spring)
	}
	if b.Settings != nil {
		writeFile(t, dir, "PhysiCell_settings.xml", settingsXML(b.Settings))
	}
	if b.States != "" {
		writeFile(t, dir, "states_"+strings.TrimPrefix(b.Prefix(), "output")+".csv", b.States)
	}

	path := filepath.Join(dir, b.XMLFile)
	writeFile(t, dir, b.XMLFile, b.descriptor(sp))
	return path
}

func writeFile(t testing.TB, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%g", x)
	}
	return strings.Join(parts, " ")
}

func (b Bundle) descriptor(sp [3]float64) string {
	var w strings.Builder
	p := func(format string, args ...any) { fmt.Fprintf(&w, format+"\n", args...) }

	p(`<?xml version="1.0" encoding="UTF-8"?>`)
	p(`<MultiCellDS version="2" type="snapshot/simulation">`)
	p(`<metadata>`)
	p(`  <software><name>PhysiCell</name><version>1.14.0</version></software>`)
	p(`  <created>2024-05-01T12:00:00Z</created>`)
	p(`  <current_time units="min">%g</current_time>`, b.Time)
	p(`  <current_runtime units="sec">%g</current_runtime>`, b.Runtime)
	p(`</metadata>`)

	p(`<microenvironment><domain name="microenvironment">`)
	p(`  <mesh type="Cartesian" uniform="true" regular="true" units="micron">`)
	p(`    <bounding_box type="axis-aligned" units="micron">%g %g %g %g %g %g</bounding_box>`,
		b.X[0]-sp[0]/2, b.Y[0]-sp[1]/2, b.Z[0]-sp[2]/2,
		b.X[len(b.X)-1]+sp[0]/2, b.Y[len(b.Y)-1]+sp[1]/2, b.Z[len(b.Z)-1]+sp[2]/2)
	p(`    <x_coordinates delimiter=" ">%s</x_coordinates>`, joinFloats(b.X))
	p(`    <y_coordinates delimiter=" ">%s</y_coordinates>`, joinFloats(b.Y))
	p(`    <z_coordinates delimiter=" ">%s</z_coordinates>`, joinFloats(b.Z))
	p(`    <voxels type="matlab"><filename>%s</filename></voxels>`, b.MeshFile())
	p(`  </mesh>`)
	p(`  <variables>`)
	for i, s := range b.Substrates {
		p(`    <variable name="%s" units="%s" ID="%d"><physical_parameter_set>`, s.Name, s.Unit, i)
		p(`      <diffusion_coefficient units="micron^2/min">%g</diffusion_coefficient>`, s.Diffusion)
		p(`      <decay_rate units="1/min">%g</decay_rate>`, s.Decay)
		p(`    </physical_parameter_set></variable>`)
	}
	p(`  </variables>`)
	p(`  <data type="matlab"><filename>%s</filename></data>`, b.MicroenvFile())
	p(`</domain></microenvironment>`)

	p(`<cellular_information><cell_populations><cell_population type="individual"><custom>`)
	p(`  <simplified_data type="matlab" source="PhysiCell" data_version="2">`)
	if b.CellTypes != nil {
		ids := make([]int, 0, len(b.CellTypes))
		for id := range b.CellTypes {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		p(`    <cell_types>`)
		for _, id := range ids {
			p(`      <type ID="%d" type="%d">%s</type>`, id, id, b.CellTypes[id])
		}
		p(`    </cell_types>`)
	}
	p(`    <labels>`)
	idx := 0
	for _, l := range b.Labels {
		p(`      <label index="%d" size="%d" units="%s">%s</label>`, idx, l.Size, l.Units, l.Name)
		idx += l.Size
	}
	p(`    </labels>`)
	p(`    <filename>%s</filename>`, b.CellsFile())
	p(`  </simplified_data>`)
	p(`  <neighbor_graph type="text" source="PhysiCell" data_version="2"><filename>%s</filename></neighbor_graph>`, b.NeighborFile())
	p(`  <attached_cells_graph type="text" source="PhysiCell" data_version="2"><filename>%s</filename></attached_cells_graph>`, b.AttachedFile())
	if !b.OmitSpring {
		p(`  <spring_attached_cells_graph type="text" source="PhysiCell" data_version="2"><filename>%s</filename></spring_attached_cells_graph>`, b.SpringFile())
	}
	p(`</custom></cell_population></cell_populations></cellular_information>`)
	p(`</MultiCellDS>`)
	return w.String()
}

func settingsXML(types map[int]string) string {
	ids := make([]int, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var w strings.Builder
	w.WriteString("<PhysiCell_settings version=\"devel-version\">\n<cell_definitions>\n")
	for _, id := range ids {
		fmt.Fprintf(&w, "  <cell_definition name=%q ID=\"%d\"/>\n", types[id], id)
	}
	w.WriteString("</cell_definitions>\n</PhysiCell_settings>\n")
	return w.String()
}
