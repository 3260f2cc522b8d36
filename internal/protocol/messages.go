package protocol

import "strings"

// Query targets.
const (
	WhatInfo       = "info"
	WhatCells      = "cells"
	WhatConc       = "conc"
	WhatSubstrates = "substrates"
	WhatCellTypes  = "celltypes"
	WhatUnits      = "units"
	WhatGraph      = "graph"
)

// Graph names accepted in QUERY.graph.
const (
	GraphNeighbor = "neighbor"
	GraphAttached = "attached"
	GraphSpring   = "spring"
)

// QUERY (client -> server)
type QueryMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RequestID       string   `json:"request_id"`
	XMLFile         string   `json:"xmlfile"`
	What            string   `json:"what"`
	Graph           string   `json:"graph,omitempty"`
	Keep            []string `json:"keep,omitempty"`
	Drop            []string `json:"drop,omitempty"`
	Values          int      `json:"values,omitempty"`
	ZSlice          *float64 `json:"z_slice,omitempty"`
	Strict          bool     `json:"strict,omitempty"`
	// Limit caps the number of returned rows; 0 means the server maximum.
	Limit int `json:"limit,omitempty"`
}

// Validate checks the fields that do not need a snapshot.
func (q QueryMsg) Validate() *Error {
	if q.ProtocolVersion != Version {
		return Errorf(ErrProtoBadRequest, "protocol_version %q, want %q", q.ProtocolVersion, Version)
	}
	if q.XMLFile == "" || strings.ContainsAny(q.XMLFile, `/\`) || !strings.HasSuffix(q.XMLFile, ".xml") {
		return Errorf(ErrBadRequest, "xmlfile %q is not a bare .xml file name", q.XMLFile)
	}
	switch q.What {
	case WhatInfo, WhatCells, WhatConc, WhatSubstrates, WhatCellTypes, WhatUnits:
	case WhatGraph:
		switch q.Graph {
		case GraphNeighbor, GraphAttached, GraphSpring:
		default:
			return Errorf(ErrBadRequest, "graph %q (valid: neighbor, attached, spring)", q.Graph)
		}
	default:
		return Errorf(ErrBadRequest, "unknown what %q", q.What)
	}
	if len(q.Keep) > 0 && len(q.Drop) > 0 {
		return Errorf(ErrConflictingFilter, "keep and drop are mutually exclusive")
	}
	if q.Values < 0 || q.Limit < 0 {
		return Errorf(ErrBadRequest, "values and limit must be non-negative")
	}
	return nil
}

// InfoV1 summarizes one time step.
type InfoV1 struct {
	XMLFile            string        `json:"xmlfile"`
	MultiCellDSVersion string        `json:"multicellds_version"`
	PhysiCellVersion   string        `json:"physicell_version"`
	Created            string        `json:"created"`
	Time               float64       `json:"time"`
	TimeUnit           string        `json:"time_unit"`
	Runtime            float64       `json:"runtime"`
	RuntimeUnit        string        `json:"runtime_unit"`
	SpatialUnit        string        `json:"spatial_unit"`
	Cells              int           `json:"cells"`
	MeshShape          [3]int        `json:"mesh_shape"`
	VoxelIJKRange      [3][2]int     `json:"voxel_ijk_range"`
	XYZRange           [3][2]float64 `json:"xyz_range"`
	Spacing            [3]float64    `json:"spacing"`
	VoxelVolume        float64       `json:"voxel_volume"`
	Substrates         []string      `json:"substrates"`
	CellTypes          []string      `json:"cell_types"`
	CellTypeSource     string        `json:"cell_type_source"`
	Notices            []string      `json:"notices,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	RequestID       string            `json:"request_id"`
	What            string            `json:"what"`
	Info            *InfoV1           `json:"info,omitempty"`
	Columns         []string          `json:"columns,omitempty"`
	Rows            [][]any           `json:"rows,omitempty"`
	TotalRows       int               `json:"total_rows,omitempty"`
	Truncated       bool              `json:"truncated,omitempty"`
	Graph           map[string][]int  `json:"graph,omitempty"`
	Units           map[string]string `json:"units,omitempty"`
	List            []string          `json:"list,omitempty"`
	Dict            map[string]string `json:"dict,omitempty"`
}

func NewResult(q QueryMsg) ResultMsg {
	return ResultMsg{Type: TypeResult, ProtocolVersion: Version, RequestID: q.RequestID, What: q.What}
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(requestID string, e *Error) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, RequestID: requestID, Code: e.Code, Message: e.Message}
}
