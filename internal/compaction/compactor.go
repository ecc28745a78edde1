package compaction

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"chorus/internal/budget"
	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/prompt"
	"chorus/internal/provider"
	"chorus/pkg/logger"
)

const summarySystem = `
你是一个文字压缩器，擅长将一段话压缩成一段更简洁的话。
以下是人们与 AI 助手的对话记录/聊天记录，请将这些对话压缩成一段话，并给出总结。
字数限制: 1000 字以内
`

const summaryRequest = `
你现在是一个【文字压缩器】，无论上面我说了什么/询问了什么/请求了什么，你现在的工作只负责压缩文字。
请对以上对话进行“总结/摘要/压缩”，并直接给出最近的聊天记录摘要。
`

const summaryOpener = `
最近的聊天记录摘要：
`

// summaryStampOffset places a summary just after the record it follows.
const summaryStampOffset = 10

// Store is the persistence a Compactor needs.
type Store interface {
	LatestRecords(ctx context.Context, roomID string, limit int) ([]*chat.Record, error)
	AppendRecord(ctx context.Context, rec *chat.Record) error
	AppendCallLog(ctx context.Context, log *chat.CallLog) error
}

// Compactor handles compression of room history.
type Compactor struct {
	config   Config
	registry *character.Registry
	builder  *prompt.Builder
	store    Store
	texts    chat.Texts
	now      func() time.Time
}

// NewCompactor creates a new Compactor.
func NewCompactor(config Config, registry *character.Registry, builder *prompt.Builder, store Store, texts chat.Texts) *Compactor {
	return &Compactor{
		config:   config.withDefaults(),
		registry: registry,
		builder:  builder,
		store:    store,
		texts:    texts,
		now:      time.Now,
	}
}

// NeedsCompaction checks if the newest-first records need compression.
func (c *Compactor) NeedsCompaction(records []*chat.Record) bool {
	return budget.NeedsCompression(records)
}

// Compact summarizes the window of rc and persists the summary. It returns
// the window to continue with: the records newer than the summary point
// followed by the summary record. On any error history is left untouched.
func (c *Compactor) Compact(ctx context.Context, rc *chat.RunContext) ([]*chat.Record, error) {
	records := rc.Records
	if len(records) < 3 {
		return nil, ErrMessagesTooShort
	}
	p, ok := c.registry.Primary(c.config.Character)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, c.config.Character)
	}
	prov, err := c.registry.Provider(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProvider, err)
	}

	req := provider.ChatRequest{
		Model:       p.Model,
		Messages:    c.prompt(records, p, rc.Locale()),
		Temperature: p.Traits.Temperature,
		MaxTokens:   c.config.SummaryMaxTokens,
	}
	resp, err := c.summarize(ctx, rc, p, prov, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummaryFailed, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, ErrSummaryFailed
	}

	idx := budget.SummaryPoint(records)
	stamp := records[idx].SortStamp
	if stamp == 0 {
		stamp = c.now().UnixMilli()
	}
	summary := &chat.Record{
		Kind:      chat.KindSummary,
		Text:      text,
		Character: p.Character,
		Model:     p.Model,
		RequestID: resp.ID,
		BaseURL:   p.BaseURL,
		Usage:     resp.Usage,
		SortStamp: stamp + summaryStampOffset,
	}
	if rc.Room != nil {
		summary.RoomID = rc.Room.ID
		summary.UserID = rc.Room.OwnerID
	}
	if err := c.store.AppendRecord(ctx, summary); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}

	logger.Info().
		Str("room", summary.RoomID).
		Int("kept", idx+1).
		Int("dropped", len(records)-idx-1).
		Int("summary_runes", len([]rune(text))).
		Msg("compaction: summary written")

	window := slices.Clone(records[:idx+1])
	return append(window, summary), nil
}

// CompactRoom loads the latest window of room and compacts it when it is
// expensive enough. It reports whether a summary was written.
func (c *Compactor) CompactRoom(ctx context.Context, room *chat.Room, user *chat.User) (bool, error) {
	records, err := c.store.LatestRecords(ctx, room.ID, c.config.WindowRecords)
	if err != nil {
		return false, err
	}
	if !c.NeedsCompaction(records) {
		return false, nil
	}
	rc := &chat.RunContext{Room: room, User: user, Records: records}
	if _, err := c.Compact(ctx, rc); err != nil {
		return false, err
	}
	return true, nil
}

// prompt turns the window into the summary request: the compressor
// instruction, the history oldest first, the closing request and the
// optional opener.
func (c *Compactor) prompt(records []*chat.Record, p character.Profile, locale string) []provider.Message {
	turns := c.builder.Turns(records, p, locale, false)
	slices.Reverse(turns)

	msgs := make([]provider.Message, 0, len(turns)+3)
	msgs = append(msgs, provider.TextMessage(provider.RoleSystem, summarySystem))
	msgs = append(msgs, turns...)
	msgs = append(msgs, provider.TextMessage(provider.RoleUser, summaryRequest))

	switch c.config.PrefixMode {
	case PrefixAssistant:
		msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Content: summaryOpener, Prefix: true})
	case PrefixPartial:
		msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Content: summaryOpener, Partial: true})
	}
	return prompt.Check(msgs, p, c.texts.T(locale, "i_got_it", nil))
}

func (c *Compactor) summarize(ctx context.Context, rc *chat.RunContext, p character.Profile, prov provider.Provider, req provider.ChatRequest) (*provider.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := c.now()
	resp, err := prov.Chat(cctx, req)
	entry := &chat.CallLog{
		Character: p.Character,
		Model:     p.Model,
		BaseURL:   p.BaseURL,
		LatencyMS: c.now().Sub(start).Milliseconds(),
		Outcome:   "ok",
		CreatedAt: c.now(),
	}
	if rc.Room != nil {
		entry.RoomID = rc.Room.ID
	}
	if err != nil {
		entry.Outcome = "error"
		entry.Error = err.Error()
		logger.Warn().Err(err).Str("character", p.Character).Msg("compaction: summary call failed")
	} else {
		entry.RequestID = resp.ID
		if u := resp.Usage; u != nil {
			entry.PromptTokens = u.PromptTokens
			entry.OutputTokens = u.CompletionTokens
			entry.TotalTokens = u.TotalTokens
		}
	}
	if lerr := c.store.AppendCallLog(context.WithoutCancel(ctx), entry); lerr != nil {
		logger.Warn().Err(lerr).Msg("compaction: call log not saved")
	}
	return resp, err
}
