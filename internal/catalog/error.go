package catalog

import "errors"

// ErrNotFound is returned by Get-style queries when no row matches.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned when a unique constraint rejects an insert,
// e.g. CreateUser with an already-taken username (§3: "name unique").
var ErrConflict = errors.New("catalog: conflict")
