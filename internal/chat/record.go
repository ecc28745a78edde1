// Package chat holds the conversation data model shared by the engine and
// the narrow interfaces of its external collaborators.
package chat

import (
	"maps"
	"time"

	"chorus/internal/provider"
)

// Kind is the kind of a conversation record.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindSummary    Kind = "summary"
	KindClear      Kind = "clear"
	KindBackground Kind = "background"
	KindToolUse    Kind = "tool_use"
)

// MsgType is the media type of a user record.
type MsgType string

const (
	MsgText     MsgType = "text"
	MsgImage    MsgType = "image"
	MsgVoice    MsgType = "voice"
	MsgLocation MsgType = "location"
)

// Location is a shared map point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Record is one append-only entry of a room's conversation log.
type Record struct {
	ID      string  `json:"id"`
	RoomID  string  `json:"room_id"`
	UserID  string  `json:"user_id,omitempty"`
	Kind    Kind    `json:"kind"`
	MsgType MsgType `json:"msg_type,omitempty"`

	Text        string    `json:"text,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	AudioURL    string    `json:"audio_url,omitempty"`
	AudioBase64 string    `json:"audio_base64,omitempty"`
	Location    *Location `json:"location,omitempty"`

	Character    string          `json:"character,omitempty"`
	Model        string          `json:"model,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	BaseURL      string          `json:"base_url,omitempty"`
	Usage        *provider.Usage `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`

	// Tool call fields, set on tool_use records.
	ToolCallID string         `json:"tool_call_id,omitempty"`
	FuncName   string         `json:"func_name,omitempty"`
	FuncArgs   map[string]any `json:"func_args,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	DraftID    string         `json:"draft_id,omitempty"`

	SortStamp int64     `json:"sort_stamp"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of r that shares no mutable state with it.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.Usage != nil {
		u := *r.Usage
		out.Usage = &u
	}
	out.FuncArgs = maps.Clone(r.FuncArgs)
	out.Payload = maps.Clone(r.Payload)
	return &out
}

// HasImage reports whether the record still carries an unresolved image.
func (r *Record) HasImage() bool {
	return r.ImageURL != ""
}

// CompletionTokens returns the backend-reported completion count, or 0.
func (r *Record) CompletionTokens() int {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.CompletionTokens
}

// CloneRecords deep copies a window of records.
func CloneRecords(in []*Record) []*Record {
	if in == nil {
		return nil
	}
	out := make([]*Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
