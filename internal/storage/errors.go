package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint would be violated
// (e.g. registering an email that already has an OPAQUE record).
var ErrConflict = errors.New("conflict")
