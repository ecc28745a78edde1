package prompt

import (
	"chorus/internal/chat"
	"chorus/internal/provider"
)

// Names resolves display names of characters for assistant turns.
type Names interface {
	Name(character string) string
}

// SystemData holds the fields available to system prompt templates.
type SystemData struct {
	Name      string
	Character string
	Provider  string
	Model     string
	Date      string
	Weekday   string
	Time      string
	Timezone  string
	Tools     bool
	Reasoning bool
}

// Prompt is the assembled input for one backend call.
type Prompt struct {
	// Messages are oldest first with the system turn at the front.
	Messages []provider.Message
	// Records is the clipped window the messages were built from, newest
	// first.
	Records []*chat.Record
	// System is the rendered system prompt.
	System string
	// Cost is the heuristic cost of Records plus the system prompt.
	Cost int
}
