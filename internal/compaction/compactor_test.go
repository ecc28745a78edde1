package compaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/prompt"
	"chorus/internal/provider"
	"chorus/internal/storage/memory"
)

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	chatFunc func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)

	mu   sync.Mutex
	reqs []provider.ChatRequest
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) Models() []string {
	return []string{"mock-model"}
}

func (m *mockProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return &provider.ChatResponse{ID: "sum-1", Content: "用户和助手聊了早饭和天气。", Usage: &provider.Usage{CompletionTokens: 20}}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, errors.New("not implemented")
}

var summarizer = character.Profile{
	Character: "deepseek",
	Name:      "DeepSeek",
	Model:     "deepseek-chat",
	BaseURL:   "https://api.deepseek.com/v1",
	APIKey:    "sk-test",
	Abilities: []character.Ability{character.AbilityChat},
	WindowK:   32,
}

type fixture struct {
	store *memory.Store
	mock  *mockProvider
	c     *Compactor
	room  *chat.Room
}

func newFixture(t *testing.T, mode PrefixMode) *fixture {
	t.Helper()
	registry := character.NewRegistry([]character.Profile{summarizer}, func(character.Profile) (provider.Provider, error) {
		return nil, errors.New("no backend in tests")
	})
	f := &fixture{
		store: memory.New(),
		mock:  &mockProvider{},
		room:  &chat.Room{ID: "r1", OwnerID: "u1"},
	}
	registry.Use(summarizer, f.mock)

	builder := prompt.NewBuilder(i18n.Default(), registry, "Asia/Shanghai")
	cfg := DefaultConfig()
	cfg.Character = "deepseek"
	cfg.PrefixMode = mode
	f.c = NewCompactor(cfg, registry, builder, f.store, i18n.Default())
	return f
}

// seed stores n alternating user/assistant records of runes Han
// characters each, one second apart, and returns them newest first.
func (f *fixture) seed(t *testing.T, n, runes int) []*chat.Record {
	t.Helper()
	base := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < n; i++ {
		rec := &chat.Record{RoomID: f.room.ID, UserID: f.room.OwnerID, Kind: chat.KindUser, Text: strings.Repeat("问", runes), SortStamp: base + int64(i)*1000}
		if i%2 == 1 {
			rec.Kind = chat.KindAssistant
			rec.Character = "deepseek"
			rec.Text = strings.Repeat("答", runes)
		}
		require.NoError(t, f.store.AppendRecord(context.Background(), rec))
	}
	records, err := f.store.LatestRecords(context.Background(), f.room.ID, 0)
	require.NoError(t, err)
	return records
}

func (f *fixture) summaries() []*chat.Record {
	var out []*chat.Record
	for _, r := range f.store.AllRecords(f.room.ID) {
		if r.Kind == chat.KindSummary {
			out = append(out, r)
		}
	}
	return out
}

func TestCompactor_NeedsCompaction(t *testing.T) {
	c := newFixture(t, PrefixNone).c
	rec := func(kind chat.Kind, runes int) *chat.Record {
		return &chat.Record{Kind: kind, Text: strings.Repeat("字", runes)}
	}

	tests := []struct {
		name     string
		records  []*chat.Record
		expected bool
	}{
		{"empty", nil, false},
		{"too few records", []*chat.Record{rec(chat.KindUser, 5000), rec(chat.KindAssistant, 5000)}, false},
		{"below threshold", []*chat.Record{rec(chat.KindUser, 2000), rec(chat.KindAssistant, 2000), rec(chat.KindUser, 2000)}, false},
		{"above threshold", []*chat.Record{rec(chat.KindUser, 2000), rec(chat.KindAssistant, 2000), rec(chat.KindUser, 2001)}, true},
		{"stops at summary", []*chat.Record{rec(chat.KindUser, 10), rec(chat.KindSummary, 10), rec(chat.KindUser, 9000)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.NeedsCompaction(tt.records))
		})
	}
}

func TestCompactor_Compact(t *testing.T) {
	f := newFixture(t, PrefixNone)
	records := f.seed(t, 6, 400)
	rc := &chat.RunContext{Room: f.room, User: &chat.User{ID: "u1", Locale: "zh-Hans"}, Records: records}

	window, err := f.c.Compact(context.Background(), rc)
	require.NoError(t, err)

	// 400 + 400 + 400 crosses 900 at the third newest record.
	require.Len(t, window, 4)
	assert.Equal(t, records[:3], window[:3])
	summary := window[3]
	assert.Equal(t, chat.KindSummary, summary.Kind)
	assert.Equal(t, "用户和助手聊了早饭和天气。", summary.Text)
	assert.Equal(t, records[2].SortStamp+10, summary.SortStamp)
	assert.Equal(t, "sum-1", summary.RequestID)
	assert.Equal(t, "deepseek-chat", summary.Model)

	stored := f.summaries()
	require.Len(t, stored, 1)
	assert.Equal(t, summary.ID, stored[0].ID)
	assert.Len(t, f.store.CallLogs(), 1)

	require.Len(t, f.mock.reqs, 1)
	req := f.mock.reqs[0]
	assert.Equal(t, "deepseek-chat", req.Model)
	assert.Equal(t, DefaultConfig().SummaryMaxTokens, req.MaxTokens)
	msgs := req.Messages
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "文字压缩器")
	last := msgs[len(msgs)-1]
	assert.Equal(t, provider.RoleUser, last.Role)
	assert.Contains(t, last.Content, "直接给出最近的聊天记录摘要")
	// system, six history turns, request
	assert.Len(t, msgs, 8)
}

func TestCompactor_PrefixModes(t *testing.T) {
	tests := []struct {
		mode    PrefixMode
		prefix  bool
		partial bool
	}{
		{PrefixAssistant, true, false},
		{PrefixPartial, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			f := newFixture(t, tt.mode)
			rc := &chat.RunContext{Room: f.room, Records: f.seed(t, 4, 400)}

			_, err := f.c.Compact(context.Background(), rc)
			require.NoError(t, err)

			msgs := f.mock.reqs[0].Messages
			last := msgs[len(msgs)-1]
			assert.Equal(t, provider.RoleAssistant, last.Role)
			assert.Contains(t, last.Content, "最近的聊天记录摘要：")
			assert.Equal(t, tt.prefix, last.Prefix)
			assert.Equal(t, tt.partial, last.Partial)
		})
	}
}

func TestCompactor_FailureLeavesHistory(t *testing.T) {
	tests := []struct {
		name string
		chat func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error)
	}{
		{"backend error", func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
			return nil, errors.New("API error")
		}},
		{"empty summary", func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
			return &provider.ChatResponse{Content: "  "}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, PrefixNone)
			f.mock.chatFunc = tt.chat
			rc := &chat.RunContext{Room: f.room, Records: f.seed(t, 4, 400)}

			window, err := f.c.Compact(context.Background(), rc)
			assert.ErrorIs(t, err, ErrSummaryFailed)
			assert.Nil(t, window)
			assert.Empty(t, f.summaries())
		})
	}
}

func TestCompactor_Preconditions(t *testing.T) {
	f := newFixture(t, PrefixNone)
	_, err := f.c.Compact(context.Background(), &chat.RunContext{Room: f.room, Records: f.seed(t, 2, 10)})
	assert.ErrorIs(t, err, ErrMessagesTooShort)

	f.c.config.Character = "nobody"
	_, err = f.c.Compact(context.Background(), &chat.RunContext{Room: f.room, Records: f.seed(t, 4, 10)})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Empty(t, f.mock.reqs)
}

func TestCompactor_CompactRoom(t *testing.T) {
	f := newFixture(t, PrefixNone)
	f.seed(t, 16, 400)
	user := &chat.User{ID: "u1", Locale: "zh-Hans"}

	done, err := f.c.CompactRoom(context.Background(), f.room, user)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, f.summaries(), 1)

	// The walk now stops at the summary.
	done, err = f.c.CompactRoom(context.Background(), f.room, user)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, f.mock.reqs, 1)
}

func TestParsePrefixMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PrefixMode
		wantErr bool
	}{
		{"", PrefixNone, false},
		{"none", PrefixNone, false},
		{" Prefix ", PrefixAssistant, false},
		{"partial", PrefixPartial, false},
		{"suffix", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePrefixMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePrefixMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
