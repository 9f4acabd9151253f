package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating a record whose identifier is taken.
var ErrDuplicate = errors.New("duplicate identifier")
