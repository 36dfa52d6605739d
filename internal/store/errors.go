package store

import "errors"

var (
	// ErrNotFound is returned when an entity or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus is returned for unknown statuses and disallowed transitions.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidSnapshot is returned when a version snapshot is empty or corrupt.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrIndexUnavailable is returned when the full-text index is absent.
	ErrIndexUnavailable = errors.New("full-text index unavailable")
	// ErrNoPreviousVersion is returned when an entity has no version record to roll back to.
	ErrNoPreviousVersion = errors.New("no previous version")
)
