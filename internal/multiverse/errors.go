package multiverse

import "errors"

var (
	// ErrNodeNotFound is returned by mutations aimed at an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidDuration is returned for negative durations and for
	// durations above the configured maximum.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidPatch is returned for patches carrying non-finite values.
	ErrInvalidPatch = errors.New("invalid patch")

	// ErrNonFiniteState is returned when patching or stepping a node
	// produces a NaN or infinite attribute. Such a state is never cached.
	ErrNonFiniteState = errors.New("state is not finite")
)
