package storage

import "errors"

// Common storage errors
var (
	// ErrNotFound is returned when no mounted layer resolves the path.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidArgument is returned for malformed paths, unsupported
	// formats and index/object mismatches.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReadOnly is returned when a write targets a path with no
	// writable mount.
	ErrReadOnly = errors.New("storage is read-only at this path")

	// ErrStorage wraps I/O failures in backing layers.
	ErrStorage = errors.New("storage failure")
)
