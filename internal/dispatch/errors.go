package dispatch

import "errors"

var (
	// ErrNoProfile is returned when a character has no usable profile.
	ErrNoProfile = errors.New("dispatch: no usable profile")

	// ErrEmptyWindow is returned when there is nothing to answer.
	ErrEmptyWindow = errors.New("dispatch: empty window")

	// ErrCannotReadImages is returned when the window holds images no
	// profile of the character can read.
	ErrCannotReadImages = errors.New("dispatch: cannot read images")

	// ErrEmptyResponse is returned when the backend answered with neither
	// content nor reasoning.
	ErrEmptyResponse = errors.New("dispatch: empty response")
)
