package directive

import (
	"chorus/internal/chat"
	"chorus/internal/i18n"
)

// Names resolves display names of characters.
type Names interface {
	Name(character string) string
}

// MenuBuilder renders operation menu entries whose commands round-trip
// through Classify.
type MenuBuilder struct {
	Texts  chat.Texts
	Names  Names
	Locale string
}

func (b MenuBuilder) item(label string) chat.MenuItem {
	return chat.MenuItem{Label: label, Command: label}
}

// Kick returns the entry that removes character.
func (b MenuBuilder) Kick(character string) chat.MenuItem {
	return b.item(b.Texts.T(b.Locale, "kick", nil) + b.Names.Name(character))
}

// Add returns the entry that summons character.
func (b MenuBuilder) Add(character string) chat.MenuItem {
	return b.item(b.Texts.T(b.Locale, "add", nil) + b.Names.Name(character))
}

// Continue returns the entry that continues character's truncated reply.
func (b MenuBuilder) Continue(character string) chat.MenuItem {
	return b.item(b.Texts.T(b.Locale, "continue_bot", i18n.Vars{"botName": b.Names.Name(character)}))
}

// Clear returns the entry that clears history.
func (b MenuBuilder) Clear() chat.MenuItem {
	return b.item(b.Texts.T(b.Locale, "clear_context", nil))
}

// AddAll returns add entries for every character.
func (b MenuBuilder) AddAll(characters []string) []chat.MenuItem {
	items := make([]chat.MenuItem, 0, len(characters))
	for _, c := range characters {
		items = append(items, b.Add(c))
	}
	return items
}
