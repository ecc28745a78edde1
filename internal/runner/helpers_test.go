package runner

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/notify"
	"chorus/internal/provider"
	"chorus/internal/storage/memory"
)

// dispatchCall is one recorded Dispatch invocation.
type dispatchCall struct {
	character string
	rc        chat.RunContext
}

// fakeDispatcher answers through fn and records every call. The default
// answer is a successful reply.
type fakeDispatcher struct {
	fn func(ctx context.Context, rc *chat.RunContext, c string) (*chat.RunResult, error)

	mu    sync.Mutex
	calls []dispatchCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, rc *chat.RunContext, c string) (*chat.RunResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{character: c, rc: rc.Clone()})
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx, rc, c)
	}
	return &chat.RunResult{Character: c, Status: chat.StatusYes, FinishReason: provider.FinishReasonStop}, nil
}

func (d *fakeDispatcher) characters() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.character)
	}
	slices.Sort(out)
	return out
}

func (d *fakeDispatcher) call(character string) (dispatchCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c.character == character {
			return c, true
		}
	}
	return dispatchCall{}, false
}

type fakeCompactor struct {
	needs  bool
	window func(rc *chat.RunContext) []*chat.Record
	err    error
	calls  int
}

func (c *fakeCompactor) NeedsCompaction([]*chat.Record) bool { return c.needs }

func (c *fakeCompactor) Compact(_ context.Context, rc *chat.RunContext) ([]*chat.Record, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.window(rc), nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	return t.text, t.err
}

type fakeRecognizer struct{ text string }

func (r fakeRecognizer) Describe(context.Context, string) (string, error) {
	return r.text, nil
}

func profile(c, name string, abilities ...character.Ability) character.Profile {
	return character.Profile{
		Character: c,
		Name:      name,
		Model:     c + "-chat",
		BaseURL:   "https://api." + c + ".test/v1",
		APIKey:    "sk-test",
		Abilities: append([]character.Ability{character.AbilityChat}, abilities...),
		WindowK:   32,
		Priority:  10,
	}
}

var testProfiles = []character.Profile{
	profile("kimi", "Kimi"),
	profile("deepseek", "DeepSeek"),
	profile("zhipu", "智谱"),
}

type fixture struct {
	store      *memory.Store
	notifier   *notify.Recorder
	dispatcher *fakeDispatcher
	engine     *Engine
}

func testConfig() Config {
	cfg := DefaultConfig().
		WithDelays(0, 0).
		WithLinks("https://chorus.test/", "https://chorus.test/renew")
	cfg.MenuDelay = 0
	cfg.VoiceHelloDelay = 0
	return cfg
}

// newFixture wires an Engine over the memory store with a fake dispatcher.
// The user u1 exists with a zh-Hans locale and owns a room holding members.
func newFixture(t *testing.T, cfg Config, profiles []character.Profile, members ...string) *fixture {
	t.Helper()
	registry := character.NewRegistry(profiles, func(character.Profile) (provider.Provider, error) {
		return nil, errors.New("no backend in tests")
	})
	f := &fixture{
		store:      memory.New(),
		notifier:   notify.NewRecorder(),
		dispatcher: &fakeDispatcher{},
	}
	e, err := New(cfg, f.store, registry, f.dispatcher, f.notifier, i18n.Default())
	require.NoError(t, err)
	f.engine = e

	ctx := context.Background()
	require.NoError(t, f.store.SaveUser(ctx, &chat.User{ID: "u1", Locale: i18n.ZhHans}))
	if members != nil {
		now := time.Now().Add(-time.Hour)
		require.NoError(t, f.store.CreateRoom(ctx, &chat.Room{ID: "r1", OwnerID: "u1", Characters: members, CreatedAt: now, UpdatedAt: now}))
	}
	return f
}

func (f *fixture) text(t *testing.T, text string) *Turn {
	t.Helper()
	turn, err := f.engine.HandleMessage(context.Background(), chat.Entry{UserID: "u1", MsgType: chat.MsgText, Text: text})
	require.NoError(t, err)
	return turn
}

func (f *fixture) user(t *testing.T) *chat.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	return u
}

func (f *fixture) room(t *testing.T) *chat.Room {
	t.Helper()
	r, err := f.store.GetRoomByOwner(context.Background(), "u1")
	require.NoError(t, err)
	return r
}

func (f *fixture) setQuota(t *testing.T, q chat.Quota) {
	t.Helper()
	require.NoError(t, f.store.UpdateQuota(context.Background(), "u1", q))
}

func (f *fixture) add(t *testing.T, rec *chat.Record) {
	t.Helper()
	rec.RoomID = "r1"
	rec.UserID = "u1"
	require.NoError(t, f.store.AppendRecord(context.Background(), rec))
}

func reply(c, finish string) *chat.Record {
	return &chat.Record{Kind: chat.KindAssistant, Character: c, Text: c + " says", FinishReason: finish}
}
