// Package budget is the heuristic token accounting used to clip history and
// cap reply length. The constants are part of the contract and are not
// meant to be tuned against a real tokenizer.
package budget

import (
	"encoding/json"

	"chorus/internal/chat"
	"chorus/internal/provider"
)

const (
	// ImageCost is charged for an image without text.
	ImageCost = 600
	// AudioCost is charged for an audio prompt part.
	AudioCost = 1000
	// ToolCallOverhead is added to the estimated cost of a tool call.
	ToolCallOverhead = 10

	// MinReserved is the smallest number of tokens kept free for the reply.
	MinReserved = 1600
	// SubscriberWindow caps the window of subscribed users.
	SubscriberWindow = 32000
	// FreeWindow caps the window of everyone else.
	FreeWindow = 16000

	// MinReply and MaxReply bound the reply size of plain chat backends.
	MinReply = 280
	MaxReply = 360
	// MinReasoning is the reply floor of reasoning backends.
	MinReasoning = 1024
	// MinRest is the smallest reply budget worth a follow-up call.
	MinRest = 100

	// CompressThreshold is the history cost above which a summary is made.
	CompressThreshold = 6000
	// SummaryKeep is the cost of the newest history kept after a summary.
	SummaryKeep = 900
)

func isLatin(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// TextCost estimates the tokens of s: 0.4 per ASCII letter or digit and 1
// per any other character, rounded up.
func TextCost(s string) int {
	latin, other := 0, 0
	for _, r := range s {
		if isLatin(r) {
			latin++
		} else {
			other++
		}
	}
	// 0.4*latin + other, computed in fifths to keep the ceiling exact.
	fifths := 2*latin + 5*other
	return (fifths + 4) / 5
}

// RecordCost estimates the tokens of a history record.
func RecordCost(r *chat.Record) int {
	if r == nil {
		return 0
	}
	if r.Kind == chat.KindAssistant || r.Kind == chat.KindSummary {
		if n := r.CompletionTokens(); n > 0 {
			return n
		}
	}

	cost := 0
	if r.Text != "" {
		cost = TextCost(r.Text)
	} else if r.ImageURL != "" {
		cost = ImageCost
	}

	if r.Kind == chat.KindToolUse {
		estimate := ToolCallOverhead
		if r.FuncName != "" {
			estimate += TextCost(r.FuncName)
		}
		if len(r.FuncArgs) > 0 {
			if b, err := json.Marshal(r.FuncArgs); err == nil {
				estimate += TextCost(string(b))
			}
		}
		cost += max(r.CompletionTokens(), estimate)
	}
	return cost
}

// RecordsCost sums the cost of records.
func RecordsCost(records []*chat.Record) int {
	total := 0
	for _, r := range records {
		total += RecordCost(r)
	}
	return total
}

// PromptCost estimates the tokens of one prompt turn.
func PromptCost(m provider.Message) int {
	if !m.IsMultipart() {
		return TextCost(m.Content)
	}
	total := 0
	for _, p := range m.Parts {
		switch p.Type {
		case provider.PartText:
			total += TextCost(p.Text)
		case provider.PartImageURL:
			total += ImageCost
		case provider.PartInputAudio:
			total += AudioCost
		}
	}
	return total
}

// PromptsCost sums the cost of prompt turns.
func PromptsCost(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += PromptCost(m)
	}
	return total
}

// WindowTokens returns the usable window of a backend, capped by tier.
func WindowTokens(windowK int, subscribed bool) int {
	ceiling := FreeWindow
	if subscribed {
		ceiling = SubscriberWindow
	}
	return min(windowK*1000, ceiling)
}

// Reserved returns the tokens kept free for the reply in a window.
func Reserved(window int) int {
	return max(window/10, MinReserved)
}

// Clip keeps the newest records whose accumulated cost stays within the
// window minus its reserve. records is newest first. Windows of fewer than
// two records are returned as is.
func Clip(records []*chat.Record, windowK int, subscribed bool) []*chat.Record {
	if len(records) < 2 {
		return records
	}
	window := WindowTokens(windowK, subscribed)
	reach := window - Reserved(window)

	total := 0
	for i, r := range records {
		total += RecordCost(r)
		if total > reach {
			return records[:i]
		}
	}
	return records
}

// ReplyCap returns the max_tokens of a call. total is the prompt cost and
// first the newest record of the window.
func ReplyCap(total int, first *chat.Record, windowK int, reasoning bool) int {
	rest := windowK*1000 - total

	capTokens := max(2*RecordCost(first), MinReply)
	capTokens = min(capTokens, MaxReply)
	if reasoning {
		capTokens = max(capTokens, MinReasoning)
	}
	return min(capTokens, rest)
}

// NeedsCompression reports whether the history since the last summary is
// expensive enough to be summarized. records is newest first.
func NeedsCompression(records []*chat.Record) bool {
	if len(records) < 3 {
		return false
	}
	total := 0
	for _, r := range records {
		total += RecordCost(r)
		if r.Kind == chat.KindSummary {
			break
		}
	}
	return total > CompressThreshold
}

// SummaryPoint returns the index of the record where the newest-first walk
// crosses SummaryKeep, or the last index when it never does.
func SummaryPoint(records []*chat.Record) int {
	total, idx := 0, 0
	for i, r := range records {
		total += RecordCost(r)
		idx = i
		if total > SummaryKeep {
			break
		}
	}
	return idx
}
