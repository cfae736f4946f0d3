package scene

import "errors"

// Format failure reasons. A *FormatError always wraps one of these.
var (
	ErrMissingVertexCount   = errors.New("missing vertex count")
	ErrMissingEndHeader     = errors.New("missing end_header")
	ErrUndeterminableLayout = errors.New("undeterminable layout")
	ErrTruncatedPayload     = errors.New("truncated payload")
)

// FormatError reports a scene file that cannot be decoded.
type FormatError struct {
	Err    error  // one of the Err* reasons above
	Detail string // optional context, e.g. byte counts
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return "scene format: " + e.Err.Error()
	}
	return "scene format: " + e.Err.Error() + ": " + e.Detail
}

func (e *FormatError) Unwrap() error { return e.Err }

// Reason returns the bare failure reason, e.g. "missing vertex count".
func (e *FormatError) Reason() string { return e.Err.Error() }

func formatErr(reason error, detail string) *FormatError {
	return &FormatError{Err: reason, Detail: detail}
}
