package runner

import "errors"

// Engine errors.
var (
	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrEmptyMessage indicates an entry without usable content.
	ErrEmptyMessage = errors.New("message has no content")

	// ErrNoTranscriber indicates a voice message arrived without a
	// transcriber configured.
	ErrNoTranscriber = errors.New("no transcriber configured")

	// ErrTranscription indicates a voice message could not be turned into text.
	ErrTranscription = errors.New("voice message could not be transcribed")
)
