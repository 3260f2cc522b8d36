package protocol

import "fmt"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Query layer.
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrNotFound          = "E_NOT_FOUND"
	ErrConflictingFilter = "E_CONFLICTING_FILTER"
	ErrSliceOffMesh      = "E_SLICE_OFF_MESH"
	ErrTooLarge          = "E_TOO_LARGE"

	// Loader.
	ErrLoadFailed = "E_LOAD_FAILED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrNotFound:          {},
	ErrConflictingFilter: {},
	ErrSliceOffMesh:      {},
	ErrTooLarge:          {},
	ErrLoadFailed:        {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error carries a wire code through Go error returns.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
