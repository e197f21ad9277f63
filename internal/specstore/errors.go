package specstore

import "errors"

var (
	// ErrNotFound is returned when no matching spec version exists.
	ErrNotFound = errors.New("specstore: spec version not found")

	// ErrNoDeployedVersion is returned by LastKnownGood when nothing was
	// ever deployed for the (spec, home) pair.
	ErrNoDeployedVersion = errors.New("specstore: no previously deployed version")

	// ErrVersionConflict is returned when a version string is reused for
	// different content.
	ErrVersionConflict = errors.New("specstore: version already exists with different content")

	// ErrInvalidSpec is returned when a spec is missing its identity.
	ErrInvalidSpec = errors.New("specstore: spec id and version are required")
)
