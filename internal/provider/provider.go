// Package provider defines the chat-completion backend contract shared by
// every character profile.
package provider

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider name used in logs and errors.
	Name() string

	// Models returns the models this backend serves.
	Models() []string

	// Chat sends a request and waits for the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Stream sends a request and returns incremental events. The channel is
	// closed after a done or error event.
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}
