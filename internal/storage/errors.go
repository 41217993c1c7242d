package storage

import "errors"

// ErrNotFound is returned by store implementations for point lookups that
// match no record.
var ErrNotFound = errors.New("record not found")
