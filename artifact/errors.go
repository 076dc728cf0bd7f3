package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact with the given filename exists
	// in the set.
	ErrNotFound = errors.New("artifact not found")
)
