package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/notify"
	"chorus/internal/prompt"
	"chorus/internal/provider"
	"chorus/internal/storage/memory"
	"chorus/internal/tools"
	"chorus/internal/tooluse"
)

// mockProvider answers Chat through chatFunc and remembers every request.
type mockProvider struct {
	chatFunc func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)

	mu   sync.Mutex
	reqs []provider.ChatRequest
}

func (m *mockProvider) Name() string     { return "mock" }
func (m *mockProvider) Models() []string { return []string{"mock-model"} }

func (m *mockProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Stream(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) requests() []provider.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.ChatRequest(nil), m.reqs...)
}

// script returns a chatFunc that walks through responses; the last one
// repeats.
func script(steps ...func() (*provider.ChatResponse, error)) func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
		mu.Lock()
		step := steps[min(i, len(steps)-1)]
		i++
		mu.Unlock()
		return step()
	}
}

func answer(text string) func() (*provider.ChatResponse, error) {
	return func() (*provider.ChatResponse, error) {
		return &provider.ChatResponse{
			ID:           "req-1",
			Content:      text,
			FinishReason: provider.FinishReasonStop,
			Usage:        &provider.Usage{PromptTokens: 40, CompletionTokens: 6, TotalTokens: 46},
		}, nil
	}
}

func failWith(err error) func() (*provider.ChatResponse, error) {
	return func() (*provider.ChatResponse, error) { return nil, err }
}

type fakeSpeaker struct {
	url    string
	err    error
	voices []string
}

func (s *fakeSpeaker) Speak(_ context.Context, _ string, voice string) (string, error) {
	s.voices = append(s.voices, voice)
	return s.url, s.err
}

type searchTool struct{ calls int }

func (s *searchTool) Name() string               { return string(tools.WebSearch) }
func (s *searchTool) Description() string        { return "" }
func (s *searchTool) Parameters() map[string]any { return nil }
func (s *searchTool) Execute(context.Context, map[string]any) (tools.ToolResult, error) {
	s.calls++
	return tools.ToolResult{Content: "Go 1.24 was released in February 2025"}, nil
}

func kimi(abilities ...character.Ability) character.Profile {
	return character.Profile{
		Character: "kimi",
		Name:      "Kimi",
		Model:     "moonshot-v1-8k",
		BaseURL:   "https://api.moonshot.cn/v1",
		APIKey:    "sk-test",
		Abilities: append([]character.Ability{character.AbilityChat}, abilities...),
		WindowK:   8,
		Priority:  10,
	}
}

type fixture struct {
	store    *memory.Store
	notifier *notify.Recorder
	registry *character.Registry
	tools    *tools.Registry
	speaker  *fakeSpeaker
	mocks    map[string]*mockProvider
	d        *Dispatcher
}

func (f *fixture) mock(p character.Profile) *mockProvider {
	return f.mocks[p.Key()]
}

// newFixture wires a Dispatcher over the memory store. Every profile gets
// a mockProvider that answers "ok" until the test replaces its chatFunc.
func newFixture(t *testing.T, profiles ...character.Profile) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		notifier: notify.NewRecorder(),
		tools:    tools.NewRegistry(),
		speaker:  &fakeSpeaker{url: "https://cdn.test/voice.mp3"},
		mocks:    make(map[string]*mockProvider),
	}
	f.registry = character.NewRegistry(profiles, func(p character.Profile) (provider.Provider, error) {
		return nil, errors.New("no backend in tests")
	})
	for _, p := range profiles {
		m := &mockProvider{chatFunc: script(answer("ok"))}
		f.mocks[p.Key()] = m
		f.registry.Use(p, m)
	}

	texts := i18n.Default()
	builder := prompt.NewBuilder(texts, f.registry, "Asia/Shanghai")
	builder.SetClock(func() time.Time { return time.Date(2025, 3, 3, 1, 30, 0, 0, time.UTC) })
	resolver := tooluse.NewResolver(tooluse.Config{
		Store:    f.store,
		Notifier: f.notifier,
		Texts:    texts,
		Names:    f.registry,
		Tools:    f.tools,
		LinkBase: "https://chorus.test",
	})
	f.d = New(Config{
		Registry:      f.registry,
		Builder:       builder,
		Resolver:      resolver,
		Store:         f.store,
		Notifier:      f.notifier,
		Texts:         texts,
		Speaker:       f.speaker,
		LinkBase:      "https://chorus.test/",
		CallTimeout:   time.Second,
		RateLimitWait: time.Millisecond,
	})
	return f
}

// turn stores a user message and returns the run context it triggers.
func (f *fixture) turn(t *testing.T, locale, text string) *chat.RunContext {
	t.Helper()
	room := &chat.Room{ID: "r1", OwnerID: "u1", Characters: []string{"kimi"}}
	trigger := &chat.Record{RoomID: room.ID, UserID: "u1", Kind: chat.KindUser, MsgType: chat.MsgText, Text: text}
	f.add(t, trigger)
	return f.context(t, room, locale, trigger)
}

func (f *fixture) add(t *testing.T, rec *chat.Record) {
	t.Helper()
	if err := f.store.AppendRecord(context.Background(), rec); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
}

func (f *fixture) context(t *testing.T, room *chat.Room, locale string, trigger *chat.Record) *chat.RunContext {
	t.Helper()
	records, err := f.store.LatestRecords(context.Background(), room.ID, 50)
	if err != nil {
		t.Fatalf("LatestRecords: %v", err)
	}
	return &chat.RunContext{
		Room:    room,
		User:    &chat.User{ID: room.OwnerID, Locale: locale},
		Trigger: trigger,
		Records: records,
	}
}

func (f *fixture) assistantRecords() []*chat.Record {
	var out []*chat.Record
	for _, r := range f.store.AllRecords("r1") {
		if r.Kind == chat.KindAssistant {
			out = append(out, r)
		}
	}
	return out
}
