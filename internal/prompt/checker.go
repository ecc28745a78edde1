package prompt

import (
	"slices"

	"chorus/internal/character"
	"chorus/internal/provider"
)

// MaxStrictTurns caps the turn count, system turns included, for backends
// that need strict role alternation.
const MaxStrictTurns = 8

// Check applies the role passes p needs to oldest-first msgs and returns a
// new slice. ack is the assistant text inserted after dangling tool turns.
func Check(msgs []provider.Message, p character.Profile, ack string) []provider.Message {
	out := cloneMessages(msgs)
	out = RemoveLeadingTool(out)
	if p.IsReasoning() || p.Meta.StrictAlternation {
		out = Interleave(out)
		out = Limit(out, MaxStrictTurns)
		out = EnsureFirstUser(out)
	}
	if p.Traits.InsertAckAfterTool {
		out = InsertAck(out, ack)
	}
	return out
}

func cloneMessages(msgs []provider.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// RemoveLeadingTool drops a tool result that lost its assistant call when
// the history was clipped: the turn right after the system turn, or the
// first turn when there is no system turn.
func RemoveLeadingTool(msgs []provider.Message) []provider.Message {
	if len(msgs) < 3 {
		return msgs
	}
	if msgs[0].Role == provider.RoleSystem {
		if msgs[1].Role == provider.RoleTool && msgs[1].ToolCallID != "" {
			return slices.Delete(msgs, 1, 2)
		}
		return msgs
	}
	if msgs[0].Role == provider.RoleTool && msgs[0].ToolCallID != "" {
		return slices.Delete(msgs, 0, 1)
	}
	return msgs
}

// Interleave drops turns before the first user turn other than system
// ones, then merges adjacent user/user and assistant/assistant pairs. When
// a pair cannot be merged the earlier turn is dropped.
func Interleave(msgs []provider.Message) []provider.Message {
	userSeen := false
	for i := 0; i < len(msgs)-1; i++ {
		cur := msgs[i]
		if !userSeen {
			if cur.Role == provider.RoleUser {
				userSeen = true
			} else if cur.Role != provider.RoleSystem {
				msgs = slices.Delete(msgs, i, i+1)
				i--
				continue
			}
		}

		next := msgs[i+1]
		if cur.Role != next.Role || (cur.Role != provider.RoleUser && cur.Role != provider.RoleAssistant) {
			continue
		}
		if merged, ok := Merge(cur, next); ok {
			msgs[i] = merged
			msgs = slices.Delete(msgs, i+1, i+2)
		} else {
			msgs = slices.Delete(msgs, i, i+1)
		}
		i--
	}
	return msgs
}

// MergeSeparator joins the texts of merged turns.
const MergeSeparator = "\n\n"

// Merge joins two same-role turns. Text joins text with MergeSeparator;
// parts are concatenated, with text promoted to a text part when mixed. A
// merged assistant turn loses its name. Turns without content cannot be
// merged.
func Merge(a, b provider.Message) (provider.Message, bool) {
	aEmpty := a.Content == "" && len(a.Parts) == 0
	bEmpty := b.Content == "" && len(b.Parts) == 0
	if aEmpty || bEmpty {
		return provider.Message{}, false
	}

	out := provider.Message{Role: a.Role}
	if a.Role != provider.RoleAssistant {
		out.Name = a.Name
	}
	switch {
	case !a.IsMultipart() && !b.IsMultipart():
		out.Content = a.Content + MergeSeparator + b.Content
	default:
		out.Parts = append(asParts(a), asParts(b)...)
	}
	return out, true
}

func asParts(m provider.Message) []provider.ContentPart {
	if m.IsMultipart() {
		parts := make([]provider.ContentPart, len(m.Parts))
		for i, p := range m.Parts {
			parts[i] = p.Clone()
		}
		return parts
	}
	return []provider.ContentPart{provider.TextPart(m.Content)}
}

// Limit removes the oldest non-system turns until at most max remain. The
// newest turn is always kept.
func Limit(msgs []provider.Message, max int) []provider.Message {
	for i := 0; len(msgs) > max && i < len(msgs)-1; i++ {
		if msgs[i].Role == provider.RoleSystem {
			continue
		}
		msgs = slices.Delete(msgs, i, i+1)
		i--
	}
	return msgs
}

// EnsureFirstUser drops turns until the first turn after a leading system
// turn is a user turn.
func EnsureFirstUser(msgs []provider.Message) []provider.Message {
	for i := 0; i < len(msgs); i++ {
		if i == 0 && msgs[i].Role == provider.RoleSystem {
			continue
		}
		if msgs[i].Role == provider.RoleUser {
			return msgs
		}
		msgs = slices.Delete(msgs, i, i+1)
		i--
	}
	return msgs
}

// InsertAck adds an assistant acknowledgement after every tool turn that is
// followed by neither an assistant nor another tool turn.
func InsertAck(msgs []provider.Message, ack string) []provider.Message {
	for i := 0; i < len(msgs)-1; i++ {
		if msgs[i].Role != provider.RoleTool {
			continue
		}
		next := msgs[i+1].Role
		if next == provider.RoleAssistant || next == provider.RoleTool {
			continue
		}
		msgs = slices.Insert(msgs, i+1, provider.TextMessage(provider.RoleAssistant, ack))
	}
	return msgs
}

// LastUserTurns returns the newest user turn and everything after it, or
// all of msgs when there is no user turn.
func LastUserTurns(msgs []provider.Message) []provider.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleUser {
			return msgs[i:]
		}
	}
	return msgs
}
