// Package prompt turns a room's conversation records into the role-tagged
// turns sent to one character's backend.
package prompt

import "errors"

// Prompt errors.
var (
	// ErrTemplateRender indicates that the system prompt template failed.
	ErrTemplateRender = errors.New("prompt: template render failed")
)
