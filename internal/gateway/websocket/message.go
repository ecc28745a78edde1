// Package websocket lets browser clients chat with a room and watch its
// notifications live.
package websocket

import "encoding/json"

// WSMessage represents a WebSocket message in either direction.
type WSMessage struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	User      string          `json:"user,omitempty"`
	Text      string          `json:"text,omitempty"`
	Character string          `json:"character,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BroadcastMessage wraps a message with its target topics. No topics means
// every client.
type BroadcastMessage struct {
	Topics []string
	Data   []byte
}

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeChat        = "chat"
	TypeContinue    = "continue"
	TypeTurn        = "turn"
	TypeNotify      = "notify"
	TypeError       = "error"
)

// RoomTopic is the topic carrying a room's notifications.
func RoomTopic(roomID string) string { return "room:" + roomID }

// UserTopic is the topic carrying a user's notifications.
func UserTopic(userID string) string { return "user:" + userID }

// topics returns the topics a subscribe or unsubscribe message names.
func (m WSMessage) topics() []string {
	var out []string
	if m.Room != "" {
		out = append(out, RoomTopic(m.Room))
	}
	if m.User != "" {
		out = append(out, UserTopic(m.User))
	}
	return out
}
