// Package units assembles the field name to unit dictionary of a time step.
package units

import (
	"sort"

	"mcdskit.dev/internal/mcds/labels"
	"mcdskit.dev/internal/mcds/substrate"
)

// Dict maps a field name to its unit.
type Dict map[string]string

// Meta holds the metadata units.
type Meta struct {
	Time    string
	Runtime string
	Spatial string
}

// Builder accumulates units in assembly order; later entries overwrite
// earlier ones of the same name.
type Builder struct {
	d Dict
}

func NewBuilder() *Builder { return &Builder{d: Dict{}} }

func (b *Builder) Metadata(m Meta) *Builder {
	b.d["time"] = m.Time
	b.d["runtime"] = m.Runtime
	b.d["spatial_unit"] = m.Spatial
	return b
}

// Species records the unit of each species and of its parameters.
func (b *Builder) Species(sp []substrate.Species) *Builder {
	for _, s := range sp {
		b.d[s.Name] = s.Unit
		b.d[s.Name+"_diffusion_coefficient"] = s.DiffusionUnit
		b.d[s.Name+"_decay_rate"] = s.DecayUnit
	}
	return b
}

// Columns records every expanded label column.
func (b *Builder) Columns(cols []labels.Column) *Builder {
	for _, c := range cols {
		b.d[c.Name] = c.Unit
	}
	return b
}

// Build returns the finished dictionary without ID.
func (b *Builder) Build() Dict {
	out := make(Dict, len(b.d))
	for k, v := range b.d {
		out[k] = v
	}
	delete(out, "ID")
	return out
}

// Clone copies d.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Names lists the dictionary keys in order.
func (d Dict) Names() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
