package tooluse

import (
	"strings"

	"chorus/internal/budget"
	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/prompt"
	"chorus/internal/provider"
)

// RestAfterTool trims msgs for the follow-up call after a tool result and
// returns the max_tokens of that call. msgs is the prompt before the call
// and its result are appended; newText is the result text about to be
// appended. ok is false when no budget worth a call is left.
//
// The cost of the previous call comes from its reported usage; without one
// the prompt estimate is used.
func RestAfterTool(msgs []provider.Message, usage *provider.Usage, p character.Profile, newText string) (out []provider.Message, rest int, ok bool) {
	if len(msgs) < 2 {
		return nil, 0, false
	}
	window := p.WindowK * 1000
	total := budget.PromptsCost(msgs)
	if usage != nil && usage.TotalTokens > 0 {
		total = usage.TotalTokens
	}

	out = msgs
	rest = window - total
	switch {
	case rest < 1:
		out = prompt.LastUserTurns(out)
		rest = window - budget.PromptsCost(out)
	case len(out) > 5 && out[0].Role == provider.RoleSystem:
		kept := make([]provider.Message, 0, 5)
		kept = append(kept, out[0])
		out = append(kept, out[len(out)-4:]...)
	case len(out) > 5:
		out = out[len(out)-5:]
	}
	rest -= budget.TextCost(newText)

	ceiling, floor := budget.MaxReply, budget.MinRest
	if p.IsReasoning() {
		ceiling, floor = budget.MinReasoning, budget.MinReasoning
	}
	rest = min(rest, ceiling)
	if rest < floor {
		if len(out) <= 3 {
			return nil, 0, false
		}
		out = out[len(out)-3:]
		rest = floor
	}
	return out, rest, true
}

// CallResult is an executed tool call with the text fed back to the
// backend.
type CallResult struct {
	Call provider.ToolCall
	Text string
}

func resultsText(done []CallResult) string {
	var b strings.Builder
	for _, d := range done {
		b.WriteString(d.Text)
	}
	return b.String()
}

// AppendResult adds one call and its result to msgs.
func AppendResult(msgs []provider.Message, p character.Profile, call provider.ToolCall, result string, texts chat.Texts, locale string) []provider.Message {
	return AppendResults(msgs, p, []CallResult{{Call: call, Text: result}}, texts, locale)
}

// AppendResults adds the executed calls of one response and their results
// to msgs. Backends with native tool support get one assistant turn
// carrying every call plus a tool turn per call; others get each call and
// result as plain text. The last result asks the backend to answer
// without tools.
func AppendResults(msgs []provider.Message, p character.Profile, done []CallResult, texts chat.Texts, locale string) []provider.Message {
	if len(done) == 0 {
		return msgs
	}
	last := len(done) - 1
	if p.Has(character.AbilityToolUse) {
		calls := make([]provider.ToolCall, len(done))
		for i, d := range done {
			calls[i] = d.Call
		}
		msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Name: p.Name, ToolCalls: calls})
		for i, d := range done {
			content := d.Text
			if i == last {
				content += "\n\n" + texts.T(locale, "do_not_use_tool", nil)
			}
			msgs = append(msgs, provider.Message{Role: provider.RoleTool, Content: content, ToolCallID: d.Call.ID})
		}
		return msgs
	}
	for _, d := range done {
		msgs = append(msgs,
			provider.Message{
				Role:    provider.RoleAssistant,
				Name:    p.Name,
				Content: texts.T(locale, "bot_call_tools", i18n.Vars{"funcName": d.Call.Name, "funcArgs": d.Call.Arguments}),
			},
			provider.TextMessage(provider.RoleUser, texts.T(locale, "result_of_tool", i18n.Vars{"msg": d.Text})),
		)
	}
	return msgs
}
