package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chorus/internal/provider"
	"chorus/pkg/logger"
)

// ProcessStream turns an SSE body into provider events. Lines look like
// "data: {...}" and the stream ends with "data: [DONE]". The reader stops
// when ctx is done.
func ProcessStream(ctx context.Context, body io.ReadCloser) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent, 32)

	go func() {
		defer close(events)
		defer body.Close()

		emit := func(ev provider.ChatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				emit(provider.ChatEvent{Type: provider.EventTypeDone})
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Warn().Err(err).Str("data", data).Msg("skip malformed stream chunk")
				continue
			}
			if chunk.Error != nil {
				emit(provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: fmt.Errorf("[%s] %s", chunk.Error.Type, chunk.Error.Message),
				})
				return
			}

			usage := convertUsage(chunk.Usage)
			if len(chunk.Choices) == 0 {
				// trailing usage-only chunk
				if usage != nil {
					if !emit(provider.ChatEvent{Type: provider.EventTypeDone, ID: chunk.ID, Model: chunk.Model, Usage: usage}) {
						return
					}
				}
				continue
			}

			choice := chunk.Choices[0]
			delta := choice.Delta
			if r := delta.reasoning(); r != "" {
				if !emit(provider.ChatEvent{Type: provider.EventTypeThinking, ID: chunk.ID, Model: chunk.Model, Thinking: r}) {
					return
				}
			}
			if delta.Content != nil && *delta.Content != "" {
				if !emit(provider.ChatEvent{Type: provider.EventTypeContent, ID: chunk.ID, Model: chunk.Model, Delta: *delta.Content}) {
					return
				}
			}
			for i, tc := range delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				ok := emit(provider.ChatEvent{
					Type:      provider.EventTypeToolCall,
					ToolIndex: idx,
					ToolCall: &provider.ToolCall{
						ID:        tc.ID,
						Type:      "function",
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
				if !ok {
					return
				}
			}
			if choice.FinishReason != "" {
				if !emit(provider.ChatEvent{
					Type:         provider.EventTypeDone,
					ID:           chunk.ID,
					Model:        chunk.Model,
					FinishReason: choice.FinishReason,
					Usage:        usage,
				}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			emit(provider.ChatEvent{Type: provider.EventTypeError, Error: err})
		}
	}()

	return events
}

func convertUsage(u *chatUsage) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
