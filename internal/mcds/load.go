package mcds

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds/cells"
	"mcdskit.dev/internal/mcds/celltype"
	"mcdskit.dev/internal/mcds/encoding"
	"mcdskit.dev/internal/mcds/graph"
	"mcdskit.dev/internal/mcds/labels"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/physiboss"
	"mcdskit.dev/internal/mcds/substrate"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/mcds/units"
	"mcdskit.dev/internal/mcds/xmldoc"
)

// Metadata is the descriptor's metadata block.
type Metadata struct {
	MultiCellDSVersion string
	PhysiCellVersion   string
	Created            string
	Time               float64
	TimeUnit           string
	Runtime            float64 // wall time as stored, see RuntimeUnit
	RuntimeUnit        string
	SpatialUnit        string
}

// Graph kinds, in the order the descriptor lists them.
const (
	Neighbor = iota
	Attached
	Spring
)

var graphNodes = [3]string{"neighbor_graph", "attached_cells_graph", "spring_attached_cells_graph"}

// builder owns the mutable intermediates of one Load call. Nothing it
// holds is reachable from the Snapshot it builds except through copies
// or values it no longer touches.
type builder struct {
	opts    Options
	log     *slog.Logger
	notices *logging.Notices
	dir     string
	xmlfile string

	// queryLog skips the notice collector; the snapshot logs through it
	// after the load.
	queryLog *slog.Logger

	// parse
	meta            Metadata
	meshSpec        mesh.Spec
	species         []substrate.Species
	microenvFile    string
	labels          []labels.Label
	cellsFile       string
	descriptorTypes celltype.Table
	graphFiles      [3]string

	// fetch
	meshMat       *encoding.Matrix
	envMat        *encoding.Matrix
	cellsMat      *encoding.Matrix
	cellsErr      error
	settingsTypes celltype.Table
	graphs        [3]graph.Graph
	states        *physiboss.States

	// derive
	geom       *mesh.Geometry
	field      *substrate.Field
	conc       *table.Table
	cells      *table.Table
	cellTypes  celltype.Table
	typeSource string
	units      units.Dict
}

// Load decodes the time step described by xmlpath into a Snapshot.
func Load(ctx context.Context, xmlpath string, opts Options) (*Snapshot, error) {
	b := newBuilder(xmlpath, opts)
	if err := b.parse(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.xmlfile, err)
	}
	if err := b.fetch(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", b.xmlfile, err)
	}
	if err := b.derive(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.xmlfile, err)
	}
	b.log.Debug("done", "cells", b.cells.Len(), "voxels", b.conc.Len())
	return b.build(), nil
}

func newBuilder(xmlpath string, opts Options) *builder {
	b := &builder{opts: opts}
	b.xmlfile = filepath.Base(xmlpath)
	b.dir = opts.OutputPath
	if b.dir == "" {
		b.dir = filepath.Dir(xmlpath)
	}
	var inner slog.Handler
	if opts.Verbose && opts.Logger != nil {
		inner = opts.Logger.Handler()
	}
	if inner == nil {
		inner = logging.Discard().Handler()
	}
	b.notices = logging.NewNotices(inner)
	b.log = slog.New(b.notices).With("xmlfile", b.xmlfile)
	b.queryLog = slog.New(inner).With("xmlfile", b.xmlfile)
	return b
}

func (b *builder) file(name string) string {
	return filepath.Join(b.dir, name)
}

func (b *builder) parse() error {
	b.log.Debug("reading", "file", b.file(b.xmlfile))
	root, err := xmldoc.ReadFile(b.file(b.xmlfile))
	if err != nil {
		return err
	}
	if err := b.parseMetadata(root); err != nil {
		return err
	}

	domain, err := root.Require("microenvironment/domain")
	if err != nil {
		return err
	}
	meshNode, err := domain.Require("mesh")
	if err != nil {
		return err
	}
	b.meta.SpatialUnit = meshNode.Attr("units", "")
	if b.meshSpec, err = mesh.ReadSpec(meshNode); err != nil {
		return err
	}
	if b.opts.Microenv {
		if b.species, err = substrate.ReadSpecies(domain); err != nil {
			return err
		}
		fn, err := domain.Require("data/filename")
		if err != nil {
			return err
		}
		if b.microenvFile, err = fn.RequireText(); err != nil {
			return err
		}
	}

	custom, err := root.Require("cellular_information/cell_populations/cell_population/custom")
	if err != nil {
		return err
	}
	data, err := custom.Require("simplified_data[@source='PhysiCell']")
	if err != nil {
		return err
	}
	if b.labels, err = labels.Read(data); err != nil {
		return err
	}
	fn, err := data.Require("filename")
	if err != nil {
		return err
	}
	if b.cellsFile, err = fn.RequireText(); err != nil {
		return err
	}
	if b.descriptorTypes, err = celltype.ReadDescriptor(data); err != nil {
		return err
	}

	if b.opts.Graph {
		for i, node := range graphNodes {
			if i == Spring {
				if n := custom.Find(node + "/filename"); n.Valid() {
					b.graphFiles[i] = n.Text()
				} else {
					b.log.Warn("spring attached cells graph not declared")
				}
				continue
			}
			n, err := custom.Require(node + "/filename")
			if err != nil {
				return err
			}
			if b.graphFiles[i], err = n.RequireText(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) parseMetadata(root xmldoc.Node) error {
	md, err := root.Require("metadata")
	if err != nil {
		return err
	}
	b.meta.MultiCellDSVersion = "MultiCellDS_" + root.Attr("version", "")

	name, err := md.Require("software/name")
	if err != nil {
		return err
	}
	version, err := md.Require("software/version")
	if err != nil {
		return err
	}
	b.meta.PhysiCellVersion = name.Text() + "_" + version.Text()

	created, err := md.Require("created")
	if err != nil {
		return err
	}
	b.meta.Created = created.Text()

	t, err := md.Require("current_time")
	if err != nil {
		return err
	}
	if b.meta.Time, err = t.Float(); err != nil {
		return err
	}
	b.meta.TimeUnit = t.Attr("units", "")

	rt, err := md.Require("current_runtime")
	if err != nil {
		return err
	}
	if b.meta.Runtime, err = rt.Float(); err != nil {
		return err
	}
	b.meta.RuntimeUnit = rt.Attr("units", "")
	return nil
}

// fetch reads every referenced file concurrently. All reads finish before
// any derivation starts.
func (b *builder) fetch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	read := func(name string, fn func(path string) error) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := b.file(name)
			b.log.Debug("reading", "file", path)
			return fn(path)
		})
	}

	read(b.meshSpec.Filename, func(path string) (err error) {
		b.meshMat, err = matrix(path, "mesh")
		return err
	})
	if b.opts.Microenv {
		read(b.microenvFile, func(path string) (err error) {
			b.envMat, err = matrix(path, "multiscale_microenvironment")
			return err
		})
	}
	read(b.cellsFile, func(path string) error {
		ms, err := encoding.ReadMATFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err != nil {
			// Judged by cells.FromMatrix.
			b.cellsErr = err
			return nil
		}
		b.cellsMat, err = encoding.Variable(ms, "cells")
		return err
	})
	if b.opts.SettingsXML != "" {
		read(b.opts.SettingsXML, func(path string) error {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				b.log.Warn("settings file missing", "file", path)
				return nil
			}
			t, err := celltype.ReadSettings(path)
			if err != nil {
				return err
			}
			b.settingsTypes = t
			return nil
		})
	}
	for i, name := range b.graphFiles {
		if name == "" {
			continue
		}
		read(name, func(path string) error {
			if i != Spring {
				gr, err := graph.ReadFile(path)
				b.graphs[i] = gr
				return err
			}
			gr, found, err := graph.ReadOptional(path)
			if !found {
				b.log.Warn("spring attached cells graph missing", "file", path)
			}
			b.graphs[i] = gr
			return err
		})
	}
	if b.opts.PhysiBoSS {
		read(physiboss.StateFile(b.xmlfile), func(path string) error {
			st, err := physiboss.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				b.log.Warn("physiboss file missing", "file", path)
				return nil
			}
			b.states = st
			return err
		})
	}
	return g.Wait()
}

func matrix(path, name string) (*encoding.Matrix, error) {
	ms, err := encoding.ReadMATFile(path)
	if err != nil {
		return nil, err
	}
	return encoding.Variable(ms, name)
}

func (b *builder) derive() error {
	var err error
	if b.geom, err = mesh.Build(b.meshSpec, b.meshMat); err != nil {
		return err
	}
	if b.opts.Microenv {
		if b.field, err = substrate.Decode(b.geom, b.species, b.envMat); err != nil {
			return err
		}
	}
	stamp := substrate.Stamp{Time: b.meta.Time, Runtime: b.meta.Runtime / 60, XMLFile: b.xmlfile}
	b.conc = substrate.ConcTable(b.geom, b.field, stamp)

	chain := []celltype.Resolver{
		celltype.Descriptor{Types: b.descriptorTypes},
		celltype.Settings{Types: b.settingsTypes},
		celltype.Observed{},
	}
	types, source, ok := celltype.Resolve(chain, celltype.Observations{})
	lctx := labels.Context{Substrates: b.field.Names()}
	if ok {
		lctx.CellTypes = types.Ordered()
	}
	cols := labels.Expand(b.labels, lctx)

	raw, err := cells.FromMatrix(cols, b.cellsMat, b.cellsErr, b.log)
	if err != nil {
		return err
	}
	if !ok {
		types, source, ok = celltype.Resolve(chain, celltype.Observations{Loaded: true, Codes: cells.Codes(raw)})
	}
	if !ok && raw.Len() > 0 {
		return fmt.Errorf("%w: %d agents and no cell_types, settings or cell_type column", ErrNoTypeMapping, raw.Len())
	}
	b.cellTypes, b.typeSource = types, source
	b.log.Debug("cell types resolved", "source", source, "types", len(types))

	substrates := map[int]string{}
	for _, sp := range b.species {
		substrates[sp.ID] = sp.Name
	}
	b.cells, err = cells.Assemble(raw, cells.Env{
		Geometry:    b.geom,
		Conc:        b.conc,
		Field:       b.field,
		States:      b.states,
		CellTypes:   types,
		Substrates:  substrates,
		SpatialUnit: b.meta.SpatialUnit,
		Stamp:       stamp,
		CustomTypes: b.opts.CustomTypes,
	}, b.log)
	if err != nil {
		return err
	}

	ub := units.NewBuilder().Metadata(units.Meta{
		Time:    b.meta.TimeUnit,
		Runtime: b.meta.RuntimeUnit,
		Spatial: b.meta.SpatialUnit,
	})
	if b.opts.Microenv {
		ub.Species(b.species)
	}
	b.units = ub.Columns(cols).Build()

	for i := range b.graphs {
		if b.graphs[i] == nil {
			b.graphs[i] = graph.Graph{}
		}
	}
	return nil
}

func (b *builder) build() *Snapshot {
	s := &Snapshot{
		path:       b.dir,
		xmlfile:    b.xmlfile,
		meta:       b.meta,
		geom:       b.geom,
		field:      b.field,
		conc:       b.conc,
		cells:      b.cells,
		attrs:      cells.Attributes(b.cells),
		cellTypes:  b.cellTypes,
		typeSource: b.typeSource,
		graphs:     b.graphs,
		units:      b.units,
		notices:    b.notices.Messages(),
		log:        b.queryLog,
	}
	return s
}
