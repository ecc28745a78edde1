// Package tools defines the tools characters may call, their schemas and
// the registry of external implementations.
package tools

import (
	"context"
)

type contextKey string

const (
	roomIDKey contextKey = "room_id"
	userIDKey contextKey = "user_id"
)

// WithRoomID returns a new context with the room ID attached.
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

// RoomIDFromContext retrieves the room ID from the context, if present.
func RoomIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(roomIDKey).(string)
	return id, ok
}

// WithUserID returns a new context with the user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the user ID from the context, if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// Tool is an externally implemented capability a character can call.
type Tool interface {
	// Name returns the tool tag.
	Name() string

	// Description is shown to the model.
	Description() string

	// Parameters returns the JSON Schema of the arguments.
	Parameters() map[string]any

	// Execute runs the tool. A failed lookup is reported through
	// ToolResult.IsError; the error return is kept for transport failures.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	// Content is the text stored on the tool_use record, usually markdown.
	Content string `json:"content"`

	// ModelText is the text the model sees as the result. Content is used
	// when it is empty.
	ModelText string `json:"model_text,omitempty"`

	// Payload is the structured result kept on the record.
	Payload map[string]any `json:"payload,omitempty"`

	// HasData reports whether a read found anything.
	HasData bool `json:"has_data,omitempty"`

	IsError bool `json:"is_error"`
}

// ForModel returns the text handed back to the model.
func (r ToolResult) ForModel() string {
	if r.ModelText != "" {
		return r.ModelText
	}
	return r.Content
}

// NewSuccessResult creates a successful result with the given content.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content, HasData: content != ""}
}

// NewErrorResult creates a failed result.
func NewErrorResult(errMsg string) ToolResult {
	return ToolResult{Content: errMsg, IsError: true}
}

// BaseTool carries the static part of a tool. Embed it and implement
// Execute.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  map[string]any
}

// Name returns the tool name.
func (t *BaseTool) Name() string {
	return t.ToolName
}

// Description returns the tool description.
func (t *BaseTool) Description() string {
	return t.ToolDescription
}

// Parameters returns the tool parameters schema.
func (t *BaseTool) Parameters() map[string]any {
	if t.ToolParameters == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return t.ToolParameters
}
