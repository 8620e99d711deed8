package btree

import "errors"

var (
	// ErrDuplicateKey is returned by Insert on a unique index when the
	// key already maps to a different locator (spec §4.7).
	ErrDuplicateKey = errors.New("btree: duplicate key")
	// ErrNotFound is returned by Delete/UpdateLocator when the
	// (key[, locator]) pair is not present in the index.
	ErrNotFound = errors.New("btree: key not found")
)
