package tooluse

import "errors"

var (
	// ErrBadArguments is returned when a call's arguments are missing or
	// malformed.
	ErrBadArguments = errors.New("bad tool arguments")

	// ErrUnavailable is returned for a tag with no implementation.
	ErrUnavailable = errors.New("tool unavailable")
)
