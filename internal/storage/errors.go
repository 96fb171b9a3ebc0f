package storage

import "errors"

// ErrNotFound is returned when a run row, or a column the caller asked for
// (such as the stored report PDF), does not exist.
var ErrNotFound = errors.New("storage: not found")
