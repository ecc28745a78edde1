package tools

import "strings"

// Tag names one tool.
type Tag string

const (
	AddNote          Tag = "add_note"
	AddTodo          Tag = "add_todo"
	AddCalendar      Tag = "add_calendar"
	WebSearch        Tag = "web_search"
	ParseLink        Tag = "parse_link"
	MapsRegeo        Tag = "maps_regeo"
	MapsGeo          Tag = "maps_geo"
	MapsTextSearch   Tag = "maps_text_search"
	MapsAroundSearch Tag = "maps_around_search"
	MapsDirection    Tag = "maps_direction"
	DrawPicture      Tag = "draw_picture"
	GetSchedule      Tag = "get_schedule"
	GetCards         Tag = "get_cards"
)

var allTags = []Tag{
	AddNote, AddTodo, AddCalendar,
	WebSearch, ParseLink,
	MapsRegeo, MapsGeo, MapsTextSearch, MapsAroundSearch, MapsDirection,
	DrawPicture,
	GetSchedule, GetCards,
}

// Tags returns every tag in declaration order.
func Tags() []Tag {
	out := make([]Tag, len(allTags))
	copy(out, allTags)
	return out
}

// Parse maps a function name to its tag.
func Parse(name string) (Tag, bool) {
	for _, t := range allTags {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Known reports whether name is a tool tag.
func Known(name string) bool {
	_, ok := Parse(name)
	return ok
}

// IsDraft reports whether the tag stages a draft for user confirmation.
func (t Tag) IsDraft() bool {
	return t == AddNote || t == AddTodo || t == AddCalendar
}

// IsMaps reports whether the tag is a map lookup.
func (t Tag) IsMaps() bool {
	return strings.HasPrefix(string(t), "maps_")
}

// IsPrivateRead reports whether the tag reads the user's own data.
func (t Tag) IsPrivateRead() bool {
	return t == GetSchedule || t == GetCards
}
