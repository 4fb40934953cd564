package repository

import "errors"

// ErrNotFound is returned when a requested document is not stored.
var ErrNotFound = errors.New("not found")
