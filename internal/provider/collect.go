package provider

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrStreamClosed is returned when a stream ends without a done event.
var ErrStreamClosed = errors.New("stream closed before completion")

// Collect drains a stream into the same ChatResponse shape Chat returns.
// Tool call fragments are merged by index.
func Collect(ctx context.Context, events <-chan ChatEvent) (*ChatResponse, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		resp      ChatResponse
		calls     = map[int]*ToolCall{}
		done      bool
	)

	for !done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if content.Len() == 0 && len(calls) == 0 && resp.FinishReason == "" {
					return nil, ErrStreamClosed
				}
				done = true
				break
			}
			if ev.ID != "" {
				resp.ID = ev.ID
			}
			if ev.Model != "" {
				resp.Model = ev.Model
			}
			switch ev.Type {
			case EventTypeContent:
				content.WriteString(ev.Delta)
			case EventTypeThinking:
				reasoning.WriteString(ev.Thinking)
			case EventTypeToolCall:
				if ev.ToolCall == nil {
					continue
				}
				tc, ok := calls[ev.ToolIndex]
				if !ok {
					tc = &ToolCall{Type: "function"}
					calls[ev.ToolIndex] = tc
				}
				if ev.ToolCall.ID != "" {
					tc.ID = ev.ToolCall.ID
				}
				if ev.ToolCall.Name != "" {
					tc.Name = ev.ToolCall.Name
				}
				tc.Arguments += ev.ToolCall.Arguments
			case EventTypeDone:
				if ev.FinishReason != "" {
					resp.FinishReason = ev.FinishReason
				}
				if ev.Usage != nil {
					resp.Usage = ev.Usage
				}
				// Some vendors send usage in a trailing chunk after the finish
				// reason, so only [DONE] (no finish reason) ends collection.
				if ev.FinishReason == "" {
					done = true
				}
			case EventTypeError:
				return nil, ev.Error
			}
		}
	}

	resp.Content = content.String()
	resp.Reasoning = reasoning.String()
	if len(calls) > 0 {
		idx := make([]int, 0, len(calls))
		for i := range calls {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			resp.ToolCalls = append(resp.ToolCalls, *calls[i])
		}
		resp.FinishReason = FinishReasonToolCalls
	}
	if resp.FinishReason == "" {
		resp.FinishReason = FinishReasonStop
	}
	return &resp, nil
}
