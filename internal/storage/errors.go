package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a conditional write matched no row because the
// stored revision or status changed since it was read.
var ErrConflict = errors.New("storage: conflicting update")
