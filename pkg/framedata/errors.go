package framedata

import "errors"

// The error taxonomy shared by the reduction packages. Callers test
// with errors.Is; everything else wraps these with context.
var (
	ErrMissingKeyword = errors.New("header keyword not found")
	ErrShapeMismatch  = errors.New("frame shapes do not match")
	ErrUnitMismatch   = errors.New("frame units are not compatible")
)
