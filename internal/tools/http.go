package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTool forwards a tool call to a JSON endpoint. The endpoint receives
// {"tool", "args", "room_id", "user_id"} and answers with a ToolResult.
type HTTPTool struct {
	BaseTool
	Endpoint string
	// Client is the HTTP client to use. If nil, one with Timeout is created.
	Client  *http.Client
	Timeout time.Duration
	// MaxResponseSize caps the response body in bytes.
	MaxResponseSize int64
	// Guard, when set, checks the link argument before forwarding.
	Guard *LinkGuard
}

type httpToolRequest struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	RoomID string         `json:"room_id,omitempty"`
	UserID string         `json:"user_id,omitempty"`
}

// NewHTTPTool creates the HTTP tool of a tag.
func NewHTTPTool(tag Tag, endpoint string) (*HTTPTool, error) {
	base, err := Base(tag)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, NewInvalidArgsError(string(tag), "endpoint is empty", nil)
	}
	t := &HTTPTool{
		BaseTool:        base,
		Endpoint:        endpoint,
		Timeout:         30 * time.Second,
		MaxResponseSize: 2 * 1024 * 1024,
	}
	if tag == ParseLink {
		t.Guard = &LinkGuard{}
	}
	return t, nil
}

// Execute posts the call and decodes the result.
func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	if t.Guard != nil {
		link, _ := args["link"].(string)
		if err := t.Guard.Check(ctx, link); err != nil {
			return NewErrorResult(err.Error()), nil
		}
	}

	req := httpToolRequest{Tool: t.Name(), Args: args}
	req.RoomID, _ = RoomIDFromContext(ctx)
	req.UserID, _ = UserIDFromContext(ctx)
	body, err := json.Marshal(req)
	if err != nil {
		return ToolResult{}, NewInvalidArgsError(t.Name(), "failed to marshal arguments", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, fmt.Errorf("tool %s: create request: %w", t.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "chorus/1.0")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: t.Timeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ToolResult{}, NewToolTimeoutError(t.Name(), t.Timeout.String())
		}
		return ToolResult{}, fmt.Errorf("tool %s: %w", t.Name(), err)
	}
	defer resp.Body.Close()

	limit := t.MaxResponseSize
	if limit <= 0 {
		limit = 2 * 1024 * 1024
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return ToolResult{}, fmt.Errorf("tool %s: read response: %w", t.Name(), err)
	}
	if resp.StatusCode >= 400 {
		return NewErrorResult(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))), nil
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return NewErrorResult("malformed tool response: " + err.Error()), nil
	}
	return result, nil
}
