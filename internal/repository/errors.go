package repository

import "errors"

// ErrStaleState is returned when a guarded update matched no row because the
// row is no longer in the expected state.
var ErrStaleState = errors.New("row is not in the expected state")

// ErrNotFound is returned by updates addressed to a row that does not exist.
var ErrNotFound = errors.New("row not found")
