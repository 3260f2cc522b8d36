package mcds

import (
	"fmt"
	"log/slog"
	"maps"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds/catalogs"
	"mcdskit.dev/internal/mcds/celltype"
	"mcdskit.dev/internal/mcds/graph"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/substrate"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/mcds/units"
	"mcdskit.dev/internal/persistence/snapshot"
)

// Archive converts s into its persisted form.
func (s *Snapshot) Archive() snapshot.SnapshotV1 {
	a := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:       snapshot.Version,
			XMLFile:       s.xmlfile,
			Time:          s.meta.Time,
			Cells:         s.cells.Len(),
			Voxels:        s.conc.Len(),
			CatalogDigest: catalogs.Digest(),
		},
		Path: s.path,
		Metadata: snapshot.MetadataV1{
			MultiCellDSVersion: s.meta.MultiCellDSVersion,
			PhysiCellVersion:   s.meta.PhysiCellVersion,
			Created:            s.meta.Created,
			Time:               s.meta.Time,
			TimeUnit:           s.meta.TimeUnit,
			Runtime:            s.meta.Runtime,
			RuntimeUnit:        s.meta.RuntimeUnit,
			SpatialUnit:        s.meta.SpatialUnit,
		},
		Mesh: snapshot.MeshV1{
			Axes:     copyAxes(s.geom.Axes),
			MNPRange: s.geom.MNPRange,
			IJKRange: s.geom.IJKRange,
			XYZRange: s.geom.XYZRange,
			Spacing:  s.geom.Spacing,
			Volume:   s.geom.Volume,
			Centers:  copyAxes(s.geom.Centers),
			Unit:     s.geom.Unit,
		},
		Microenv:       s.field != nil,
		Conc:           exportTable(s.conc),
		Cells:          exportTable(s.cells),
		Attributes:     s.CellAttributeList(),
		CellTypes:      maps.Clone(map[int]string(s.cellTypes)),
		CellTypeSource: s.typeSource,
		Graphs: snapshot.GraphsV1{
			Neighbor: s.graphs[Neighbor].Adjacency(),
			Attached: s.graphs[Attached].Adjacency(),
			Spring:   s.graphs[Spring].Adjacency(),
		},
		Units:   map[string]string(s.units.Clone()),
		Notices: s.Notices(),
	}
	if s.field != nil {
		for _, sp := range s.field.Species {
			a.Species = append(a.Species, snapshot.SpeciesV1(sp))
		}
	}
	return a
}

// FromArchive rebuilds a Snapshot from its persisted form. A nil logger
// discards query notices.
func FromArchive(a snapshot.SnapshotV1, log *slog.Logger) (*Snapshot, error) {
	if a.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("archive version %d, want %d", a.Header.Version, snapshot.Version)
	}
	if log == nil {
		log = logging.Discard()
	}
	conc, err := importTable(a.Conc)
	if err != nil {
		return nil, fmt.Errorf("conc table: %w", err)
	}
	cellTable, err := importTable(a.Cells)
	if err != nil {
		return nil, fmt.Errorf("cell table: %w", err)
	}
	s := &Snapshot{
		path:    a.Path,
		xmlfile: a.Header.XMLFile,
		meta: Metadata{
			MultiCellDSVersion: a.Metadata.MultiCellDSVersion,
			PhysiCellVersion:   a.Metadata.PhysiCellVersion,
			Created:            a.Metadata.Created,
			Time:               a.Metadata.Time,
			TimeUnit:           a.Metadata.TimeUnit,
			Runtime:            a.Metadata.Runtime,
			RuntimeUnit:        a.Metadata.RuntimeUnit,
			SpatialUnit:        a.Metadata.SpatialUnit,
		},
		geom: &mesh.Geometry{
			Axes:     a.Mesh.Axes,
			MNPRange: a.Mesh.MNPRange,
			IJKRange: a.Mesh.IJKRange,
			XYZRange: a.Mesh.XYZRange,
			Spacing:  a.Mesh.Spacing,
			Volume:   a.Mesh.Volume,
			Centers:  a.Mesh.Centers,
			Unit:     a.Mesh.Unit,
		},
		conc:       conc,
		cells:      cellTable,
		attrs:      append([]string(nil), a.Attributes...),
		cellTypes:  celltype.Table(maps.Clone(a.CellTypes)),
		typeSource: a.CellTypeSource,
		graphs: [3]graph.Graph{
			graph.FromAdjacency(a.Graphs.Neighbor),
			graph.FromAdjacency(a.Graphs.Attached),
			graph.FromAdjacency(a.Graphs.Spring),
		},
		units:   units.Dict(a.Units).Clone(),
		notices: a.Notices,
		log:     log.With("xmlfile", a.Header.XMLFile),
	}
	if a.Microenv {
		species := make([]substrate.Species, 0, len(a.Species))
		for _, sp := range a.Species {
			species = append(species, substrate.Species(sp))
		}
		if s.field, err = substrate.FromConcTable(s.geom, species, conc); err != nil {
			return nil, fmt.Errorf("conc table: %w", err)
		}
	}
	return s, nil
}

func exportTable(t *table.Table) snapshot.TableV1 {
	out := snapshot.TableV1{Rows: t.Len()}
	for _, name := range t.Names() {
		c, _ := t.Column(name)
		cp := c.Clone()
		out.Columns = append(out.Columns, snapshot.ColumnV1{
			Name:    cp.Name,
			Kind:    uint8(cp.Kind),
			Floats:  cp.Floats,
			Ints:    cp.Ints,
			Bools:   cp.Bools,
			Strings: cp.Strings,
		})
	}
	return out
}

func importTable(a snapshot.TableV1) (*table.Table, error) {
	t := table.New(a.Rows)
	for _, c := range a.Columns {
		col := &table.Column{
			Name:    c.Name,
			Kind:    table.Kind(c.Kind),
			Floats:  c.Floats,
			Ints:    c.Ints,
			Bools:   c.Bools,
			Strings: c.Strings,
		}
		if err := t.Set(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}
