package mcds

import (
	"errors"

	"mcdskit.dev/internal/mcds/cells"
	"mcdskit.dev/internal/mcds/celltype"
	"mcdskit.dev/internal/mcds/mesh"
	"mcdskit.dev/internal/mcds/substrate"
	"mcdskit.dev/internal/mcds/xmldoc"
)

// Sentinel errors. Loader and query errors wrap one of these with the
// offending values; test with errors.Is.
var (
	ErrMissingNode       = xmldoc.ErrMissingNode
	ErrInconsistentMesh  = mesh.ErrInconsistentMesh
	ErrSchemaMismatch    = substrate.ErrSchemaMismatch
	ErrUnknownDataType   = cells.ErrUnknownDataType
	ErrDuplicateID       = cells.ErrDuplicateID
	ErrNoTypeMapping     = celltype.ErrNoTypeMapping
	ErrConflictingFilter = errors.New("keep and drop are mutually exclusive")
	ErrSliceOffMesh      = errors.New("z slice is not a mesh center")
	ErrNotInMesh         = errors.New("position outside the mesh")
	ErrUnknownSubstrate  = errors.New("unknown substrate")
)
