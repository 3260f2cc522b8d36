// Package query evaluates read-API queries against decoded time steps.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/protocol"
	"mcdskit.dev/internal/store"
)

// Source resolves a descriptor file name to a decoded step.
type Source interface {
	Get(ctx context.Context, xmlfile string) (*mcds.Snapshot, error)
}

// Fixed serves one already decoded step under its own file name.
type Fixed struct {
	Snap *mcds.Snapshot
}

func (f Fixed) Get(_ context.Context, xmlfile string) (*mcds.Snapshot, error) {
	if f.Snap == nil || xmlfile != f.Snap.XMLFile() {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, xmlfile)
	}
	return f.Snap, nil
}

// Answer runs one validated query. maxRows bounds table results.
func Answer(ctx context.Context, src Source, q protocol.QueryMsg, maxRows int) (protocol.ResultMsg, *protocol.Error) {
	res := protocol.NewResult(q)
	if q.Limit > maxRows && maxRows > 0 {
		return res, protocol.Errorf(protocol.ErrTooLarge, "limit %d exceeds server maximum %d", q.Limit, maxRows)
	}
	snap, err := src.Get(ctx, q.XMLFile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return res, protocol.Errorf(protocol.ErrNotFound, "%v", err)
		}
		return res, protocol.Errorf(protocol.ErrLoadFailed, "%v", err)
	}

	filter := mcds.Filter{Values: q.Values, Keep: q.Keep, Drop: q.Drop}
	switch q.What {
	case protocol.WhatInfo:
		res.Info = Info(snap)
	case protocol.WhatCells:
		t, err := snap.CellTable(filter)
		if err != nil {
			return res, queryError(err)
		}
		fill(&res, t, limit(q.Limit, maxRows))
	case protocol.WhatConc:
		t, err := snap.ConcTable(mcds.ConcQuery{Filter: filter, ZSlice: q.ZSlice, Strict: q.Strict})
		if err != nil {
			return res, queryError(err)
		}
		fill(&res, t, limit(q.Limit, maxRows))
	case protocol.WhatSubstrates:
		res.List = snap.SubstrateList()
		res.Dict = snap.SubstrateDict()
		fill(&res, snap.SubstrateTable(), limit(q.Limit, maxRows))
	case protocol.WhatCellTypes:
		res.List = snap.CellTypeList()
		res.Dict = snap.CellTypeDict()
	case protocol.WhatUnits:
		res.Units = snap.UnitDict()
	case protocol.WhatGraph:
		switch q.Graph {
		case protocol.GraphNeighbor:
			res.Graph = snap.NeighborGraph().Lists()
		case protocol.GraphAttached:
			res.Graph = snap.AttachedGraph().Lists()
		default:
			res.Graph = snap.SpringGraph().Lists()
		}
	default:
		return res, protocol.Errorf(protocol.ErrBadRequest, "unknown what %q", q.What)
	}
	return res, nil
}

func queryError(err error) *protocol.Error {
	switch {
	case errors.Is(err, mcds.ErrConflictingFilter):
		return protocol.Errorf(protocol.ErrConflictingFilter, "%v", err)
	case errors.Is(err, mcds.ErrSliceOffMesh):
		return protocol.Errorf(protocol.ErrSliceOffMesh, "%v", err)
	}
	return protocol.Errorf(protocol.ErrInternal, "%v", err)
}

func limit(requested, max int) int {
	if requested > 0 {
		return requested
	}
	return max
}

// fill copies up to n rows of t into res. n <= 0 means all rows.
func fill(res *protocol.ResultMsg, t *table.Table, n int) {
	res.Columns = t.Names()
	res.TotalRows = t.Len()
	rows := t.Len()
	if n > 0 && rows > n {
		rows = n
		res.Truncated = true
	}
	res.Rows = make([][]any, rows)
	for i := 0; i < rows; i++ {
		row := t.Row(i)
		for j, v := range row {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				row[j] = nil
			}
		}
		res.Rows[i] = row
	}
}

// Info summarizes s.
func Info(s *mcds.Snapshot) *protocol.InfoV1 {
	md := s.Metadata()
	return &protocol.InfoV1{
		XMLFile:            s.XMLFile(),
		MultiCellDSVersion: md.MultiCellDSVersion,
		PhysiCellVersion:   md.PhysiCellVersion,
		Created:            md.Created,
		Time:               md.Time,
		TimeUnit:           md.TimeUnit,
		Runtime:            md.Runtime,
		RuntimeUnit:        md.RuntimeUnit,
		SpatialUnit:        md.SpatialUnit,
		Cells:              s.NumCells(),
		MeshShape:          s.MeshShape(),
		VoxelIJKRange:      s.VoxelIJKRange(),
		XYZRange:           s.XYZRange(),
		Spacing:            s.MeshSpacing(),
		VoxelVolume:        s.VoxelVolume(),
		Substrates:         s.SubstrateList(),
		CellTypes:          s.CellTypeList(),
		CellTypeSource:     s.CellTypeSource(),
		Notices:            s.Notices(),
	}
}
