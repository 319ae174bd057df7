package manager

import "errors"

var (
	// ErrOwnerUnavailable is returned when the manager is not running.
	ErrOwnerUnavailable = errors.New("multiverse owner unavailable")

	// ErrCommandPanicked is returned to the caller of a command that
	// panicked. The manager keeps running.
	ErrCommandPanicked = errors.New("command panicked")
)
