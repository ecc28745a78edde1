package tooluse

import (
	"context"
	"sync"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/notify"
	"chorus/internal/provider"
	"chorus/internal/storage/memory"
	"chorus/internal/tools"
)

type names map[string]string

func (n names) Name(c string) string { return n[c] }

type stubTool struct {
	tag    tools.Tag
	result tools.ToolResult
	err    error

	mu   sync.Mutex
	args []map[string]any
}

func (s *stubTool) Name() string               { return string(s.tag) }
func (s *stubTool) Description() string        { return "" }
func (s *stubTool) Parameters() map[string]any { return nil }
func (s *stubTool) Execute(_ context.Context, args map[string]any) (tools.ToolResult, error) {
	s.mu.Lock()
	s.args = append(s.args, args)
	s.mu.Unlock()
	return s.result, s.err
}

// fakeBackend answers follow-up calls from a script; the last response
// repeats.
type fakeBackend struct {
	responses []*provider.ChatResponse
	stale     bool

	calls     int
	maxTokens []int
	prompts   [][]provider.Message
}

func (f *fakeBackend) Call(_ context.Context, msgs []provider.Message, maxTokens int) (*provider.ChatResponse, error) {
	f.prompts = append(f.prompts, msgs)
	f.maxTokens = append(f.maxTokens, maxTokens)
	i := min(f.calls, len(f.responses)-1)
	f.calls++
	return f.responses[i], nil
}

func (f *fakeBackend) Prepare(context.Context, *provider.ChatResponse) bool {
	return !f.stale
}

type fakeDrawer struct {
	img *chat.Image
	err error
}

func (d fakeDrawer) Draw(context.Context, string, string) (*chat.Image, error) {
	return d.img, d.err
}

type fixture struct {
	store    *memory.Store
	notifier *notify.Recorder
	registry *tools.Registry
	resolver *Resolver
}

func newFixture(drawer chat.ImageGenerator, registered ...tools.Tool) *fixture {
	f := &fixture{
		store:    memory.New(),
		notifier: notify.NewRecorder(),
		registry: tools.NewRegistry(),
	}
	for _, t := range registered {
		f.registry.MustRegister(t)
	}
	f.resolver = NewResolver(Config{
		Store:    f.store,
		Notifier: f.notifier,
		Texts:    i18n.Default(),
		Names:    names{"kimi": "Kimi"},
		Tools:    f.registry,
		Drawer:   drawer,
		LinkBase: "https://chorus.test/",
	})
	return f
}

func kimi(abilities ...character.Ability) character.Profile {
	return character.Profile{
		Character: "kimi",
		Name:      "Kimi",
		Model:     "moonshot-v1-8k",
		BaseURL:   "https://api.moonshot.cn/v1",
		Abilities: append([]character.Ability{character.AbilityChat}, abilities...),
		WindowK:   8,
	}
}

func newTurn(locale string, p character.Profile) *Turn {
	return &Turn{
		RC: &chat.RunContext{
			Room: &chat.Room{ID: "r1", OwnerID: "u1", Characters: []string{"kimi"}},
			User: &chat.User{ID: "u1", Locale: locale},
		},
		Profile: p,
		Messages: []provider.Message{
			provider.TextMessage(provider.RoleSystem, "你叫Kimi"),
			provider.TextMessage(provider.RoleUser, "帮我查一下"),
		},
	}
}

func toolCall(name, args string) *provider.ChatResponse {
	return &provider.ChatResponse{
		ID:           "req-1",
		Model:        "moonshot-v1-8k",
		FinishReason: provider.FinishReasonToolCalls,
		ToolCalls:    []provider.ToolCall{{ID: "call_1", Type: "function", Name: name, Arguments: args}},
	}
}

func textReply(text string) *provider.ChatResponse {
	return &provider.ChatResponse{ID: "req-2", Content: text, FinishReason: provider.FinishReasonStop}
}
