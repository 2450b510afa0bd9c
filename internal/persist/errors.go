package persist

import "errors"

var (
	// ErrInvalidArgument is returned by every explicit-routing operation
	// called with an empty or blank org id.  No I/O has happened.
	ErrInvalidArgument = errors.New("persist: org id is required")

	// ErrStaleObject is returned when an optimistic-lock update matched no
	// row: someone else updated or deleted it first.  Re-read and retry.
	ErrStaleObject = errors.New("persist: the object being updated is outdated")

	// ErrBadVersion is returned when a version column holds a non-integer.
	ErrBadVersion = errors.New("persist: version column is not an integer")
)
