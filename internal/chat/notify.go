package chat

import "context"

// Target addresses a notification.
type Target struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// Media kinds.
const (
	MediaImage = "image"
	MediaVoice = "voice"
)

// Media is an image or voice reply.
type Media struct {
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// MenuItem is one tappable operation. Command is the text sent back when
// the user picks it.
type MenuItem struct {
	Label   string `json:"label"`
	Command string `json:"command"`
}

// Menu is an operation menu with optional header and footer text.
type Menu struct {
	Header string     `json:"header,omitempty"`
	Items  []MenuItem `json:"items"`
	Footer string     `json:"footer,omitempty"`
}

// Notifier delivers replies to the user. Delivery is fire-and-forget: the
// engine logs returned errors and carries on.
type Notifier interface {
	SendText(ctx context.Context, to Target, character, text string) error
	SendMedia(ctx context.Context, to Target, character string, media Media) error
	SendMenu(ctx context.Context, to Target, menu Menu) error
	SendTyping(ctx context.Context, to Target) error
}
