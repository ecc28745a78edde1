package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"chorus/internal/budget"
	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/provider"
)

// Tool result texts for draw_picture, which are sent to the model verbatim.
const (
	drawFinished = "[Finish to draw]"
	drawFailed   = "[Fail to draw]"
)

// Builder assembles prompts from conversation records.
type Builder struct {
	texts    chat.Texts
	names    Names
	timezone string
	now      func() time.Time

	mu        sync.Mutex
	templates map[string]*template.Template
}

// NewBuilder creates a builder. timezone is used for users without one.
func NewBuilder(texts chat.Texts, names Names, timezone string) *Builder {
	if timezone == "" {
		timezone = "Asia/Shanghai"
	}
	return &Builder{
		texts:     texts,
		names:     names,
		timezone:  timezone,
		now:       time.Now,
		templates: make(map[string]*template.Template),
	}
}

// SetClock replaces the clock used for the date and time in system prompts.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build clips rc's window to p's context size and assembles the prompt.
// It does not modify rc.
func (b *Builder) Build(rc *chat.RunContext, p character.Profile) (*Prompt, error) {
	subscribed := rc.User != nil && rc.User.Subscribed
	records := budget.Clip(rc.Records, p.WindowK, subscribed)

	system, err := b.System(p, rc.User)
	if err != nil {
		return nil, err
	}

	turns := b.Turns(records, p, rc.Locale(), rc.Continue)
	if system != "" {
		turns = append(turns, provider.TextMessage(provider.RoleSystem, system))
	}
	slices.Reverse(turns)

	return &Prompt{
		Messages: turns,
		Records:  records,
		System:   system,
		Cost:     budget.RecordsCost(records) + budget.TextCost(system),
	}, nil
}

// System renders the system prompt of p for user.
func (b *Builder) System(p character.Profile, user *chat.User) (string, error) {
	locale, tz := "", b.timezone
	if user != nil {
		locale = user.Locale
		if user.Timezone != "" {
			tz = user.Timezone
		}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	now := b.now().In(loc)

	src := p.Traits.SystemPrompt
	if src == "" {
		src = defaultTemplate(locale)
	}
	tmpl, err := b.template(src)
	if err != nil {
		return "", err
	}

	data := SystemData{
		Name:      p.Name,
		Character: p.Character,
		Provider:  p.DisplayProvider(),
		Model:     p.Model,
		Date:      now.Format("2006-01-02"),
		Weekday:   b.texts.T(locale, strings.ToLower(now.Weekday().String()), nil),
		Time:      now.Format("15:04"),
		Timezone:  tz,
		Tools:     p.Has(character.AbilityToolUse),
		Reasoning: p.IsReasoning(),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute: %v", ErrTemplateRender, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (b *Builder) template(src string) (*template.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.templates[src]; ok {
		return t, nil
	}
	t, err := template.New("system").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrTemplateRender, err)
	}
	b.templates[src] = t
	return t, nil
}

// Turns converts newest-first records into newest-first turns for p.
func (b *Builder) Turns(records []*chat.Record, p character.Profile, locale string, continueMode bool) []provider.Message {
	tb := turnBuilder{b: b, p: p, locale: locale, continueMode: continueMode}
	var out []provider.Message
	for i, rec := range records {
		switch rec.Kind {
		case chat.KindUser:
			if m, ok := tb.user(rec, i); ok {
				out = append(out, m)
			}
		case chat.KindAssistant:
			if m, ok := tb.assistant(rec, i); ok {
				out = append(out, m)
			}
		case chat.KindSummary:
			if rec.Text != "" {
				out = append(out, tb.labelled("summary_label", rec.Text))
			}
		case chat.KindBackground:
			if rec.Text != "" {
				out = append(out, tb.labelled("background_label", rec.Text))
			}
		case chat.KindToolUse:
			out = append(out, tb.toolUse(rec)...)
		}
	}
	return out
}

type turnBuilder struct {
	b            *Builder
	p            character.Profile
	locale       string
	continueMode bool
}

func (tb turnBuilder) t(key string, vars map[string]any) string {
	return tb.b.texts.T(tb.locale, key, vars)
}

func (tb turnBuilder) name(c string) string {
	if c == "" || tb.b.names == nil {
		return ""
	}
	return tb.b.names.Name(c)
}

func (tb turnBuilder) labelled(key, text string) provider.Message {
	role := provider.RoleSystem
	if tb.p.Meta.OnlyOneSystemMsg {
		role = provider.RoleUser
	}
	return provider.TextMessage(role, tb.t(key, nil)+"\n"+text)
}

func (tb turnBuilder) user(rec *chat.Record, i int) (provider.Message, bool) {
	switch rec.MsgType {
	case chat.MsgImage:
		if rec.ImageURL != "" && tb.p.Has(character.AbilityImageToText) {
			return provider.Message{
				Role:  provider.RoleUser,
				Parts: []provider.ContentPart{{Type: provider.PartImageURL, ImageURL: &provider.ImageURL{URL: rec.ImageURL}}},
			}, true
		}
		if rec.Text != "" {
			return provider.TextMessage(provider.RoleUser, RecognitionText(tb.t("image_recognition", nil), rec.Text)), true
		}
	case chat.MsgVoice:
		if rec.AudioBase64 != "" && tb.p.Has(character.AbilityInputAudio) && (!tb.p.Traits.AudioFirstTurnOnly || i == 0) {
			return provider.Message{
				Role:  provider.RoleUser,
				Parts: []provider.ContentPart{{Type: provider.PartInputAudio, InputAudio: &provider.InputAudio{Data: rec.AudioBase64, Format: "mp3"}}},
			}, true
		}
	case chat.MsgLocation:
		if rec.Location != nil {
			raw, _ := json.Marshal(rec.Location)
			return provider.TextMessage(provider.RoleUser, tb.t("location_msg", nil)+"\n"+string(raw)), true
		}
	}
	if strings.TrimSpace(rec.Text) == "" {
		return provider.Message{}, false
	}
	return provider.TextMessage(provider.RoleUser, rec.Text), true
}

func (tb turnBuilder) assistant(rec *chat.Record, i int) (provider.Message, bool) {
	var content string
	switch {
	case tb.continueMode && i < 3 && rec.Reasoning != "" && rec.FinishReason == provider.FinishReasonLength:
		content = wrapThink(rec.Reasoning, true)
		if rec.Text != "" {
			content += "\n" + rec.Text
		}
	case strings.TrimSpace(rec.Text) != "":
		content = rec.Text
	case rec.Reasoning != "":
		content = wrapThink(rec.Reasoning, false)
	}
	if content == "" {
		return provider.Message{}, false
	}
	return provider.Message{Role: provider.RoleAssistant, Content: content, Name: tb.name(rec.Character)}, true
}

// wrapThink prefixes reasoning with a think tag unless it already has one.
func wrapThink(reasoning string, closed bool) string {
	if strings.HasPrefix(reasoning, "<think>") {
		return reasoning
	}
	if closed {
		return "<think>" + reasoning + "</think>"
	}
	return "<think>" + reasoning
}

// toolUse returns the turns of a tool_use record, newest first.
func (tb turnBuilder) toolUse(rec *chat.Record) []provider.Message {
	if rec.ToolCallID == "" || rec.FuncName == "" {
		return nil
	}
	result, ok := tb.toolResult(rec)
	call := ToolCallOf(rec)

	if tb.p.Has(character.AbilityToolUse) && ok {
		return []provider.Message{
			{Role: provider.RoleTool, Content: result, ToolCallID: rec.ToolCallID},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{call}, Name: tb.name(rec.Character)},
		}
	}

	var out []provider.Message
	if ok {
		out = append(out, provider.TextMessage(provider.RoleUser, tb.t("result_of_tool", map[string]any{"msg": result})))
	}
	out = append(out, provider.Message{
		Role:    provider.RoleAssistant,
		Content: tb.t("bot_call_tools", map[string]any{"funcName": call.Name, "funcArgs": call.Arguments}),
		Name:    tb.name(rec.Character),
	})
	return out
}

// toolResult returns the text the model sees as a tool's result. Reads
// without a result produce no tool turn.
func (tb turnBuilder) toolResult(rec *chat.Record) (string, bool) {
	switch {
	case rec.FuncName == "add_note" || rec.FuncName == "add_todo" || rec.FuncName == "add_calendar":
		if id, _ := rec.Payload["content_id"].(string); id != "" {
			return fmt.Sprintf("{'code':'0000','data':{'id':'%s'}}", id), true
		}
		return tb.t("not_agree_yet", nil), true
	case rec.FuncName == "web_search":
		if rec.Text != "" && len(rec.Payload) > 0 {
			return rec.Text, true
		}
		return tb.t("fail_to_search", nil), true
	case rec.FuncName == "parse_link":
		if rec.Text != "" {
			return rec.Text, true
		}
		return tb.t("fail_to_parse_link", nil), true
	case rec.FuncName == "draw_picture":
		if url, _ := rec.Payload["image_url"].(string); rec.Text != "" && url != "" {
			return drawFinished, true
		}
		return drawFailed, true
	case rec.FuncName == "get_cards" || rec.FuncName == "get_schedule":
		return rec.Text, rec.Text != ""
	case strings.HasPrefix(rec.FuncName, "maps_"):
		if len(rec.Payload) == 0 {
			return "", false
		}
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}

// ToolCallOf rebuilds the tool call a tool_use record answers. For
// draw_picture the prompt argument is replaced by the stored prompt text.
func ToolCallOf(rec *chat.Record) provider.ToolCall {
	args := make(map[string]any, len(rec.FuncArgs)+1)
	for k, v := range rec.FuncArgs {
		args[k] = v
	}
	if rec.FuncName == "draw_picture" && rec.Text != "" {
		args["prompt"] = rec.Text
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return provider.ToolCall{ID: rec.ToolCallID, Type: "function", Name: rec.FuncName, Arguments: string(raw)}
}
