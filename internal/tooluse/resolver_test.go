package tooluse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/provider"
	"chorus/internal/tools"
)

func TestHandlerTableCoversEveryTag(t *testing.T) {
	r := newFixture(nil).resolver
	for _, tag := range tools.Tags() {
		if r.handlers[tag] == nil {
			t.Errorf("no handler for %s", tag)
		}
	}
	assert.Len(t, r.handlers, len(tools.Tags()))
}

func TestOffered(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch}
	f := newFixture(fakeDrawer{}, search)

	assert.Nil(t, f.resolver.Offered(kimi()))
	assert.Equal(t,
		[]tools.Tag{tools.AddNote, tools.AddTodo, tools.AddCalendar, tools.WebSearch, tools.DrawPicture},
		f.resolver.Offered(kimi(character.AbilityToolUse)))

	defs, err := newFixture(nil).resolver.Definitions(kimi(character.AbilityToolUse))
	require.NoError(t, err)
	assert.Len(t, defs, 3)
}

func TestRunWithoutToolCall(t *testing.T) {
	f := newFixture(nil)
	be := &fakeBackend{}
	resp := textReply("你好")

	res, err := f.resolver.Run(context.Background(), newTurn("", kimi()), resp, be)
	require.NoError(t, err)
	assert.Same(t, resp, res.Final)
	assert.False(t, res.UsedTool)
	assert.Zero(t, be.calls)
}

func TestRunContinuesAfterSearch(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch, result: tools.ToolResult{
		Content: "Go 1.24 发布了",
		Payload: map[string]any{"results": 1},
		HasData: true,
	}}
	f := newFixture(nil, search)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("Go 1.24 已经发布。")}}
	turn := newTurn("zh-Hans", kimi(character.AbilityToolUse))

	res, err := f.resolver.Run(context.Background(), turn, toolCall("web_search", `{"q":"go 1.24"}`), be)
	require.NoError(t, err)
	require.NotNil(t, res.Final)
	assert.Equal(t, "Go 1.24 已经发布。", res.Final.Content)
	assert.True(t, res.UsedTool)
	assert.Equal(t, 1, res.Hops)
	assert.Equal(t, "go 1.24", search.args[0]["q"])

	// system, user, assistant tool call, tool result
	require.Len(t, be.prompts, 1)
	sent := be.prompts[0]
	require.Len(t, sent, 4)
	assert.Equal(t, provider.RoleAssistant, sent[2].Role)
	assert.Equal(t, "call_1", sent[3].ToolCallID)
	assert.True(t, strings.HasPrefix(sent[3].Content, "Go 1.24 发布了\n\n【请根据工具调用结果"))
	assert.Equal(t, []int{360}, be.maxTokens)

	records := f.store.AllRecords("r1")
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, chat.KindToolUse, rec.Kind)
	assert.Equal(t, "web_search", rec.FuncName)
	assert.Equal(t, "Go 1.24 发布了", rec.Text)
	assert.Equal(t, "req-1", rec.RequestID)
}

func TestRunStopsAtHopLimit(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch, result: tools.ToolResult{Content: "结果", Payload: map[string]any{"n": 1}}}
	f := newFixture(nil, search)
	loop := toolCall("web_search", `{"q":"again"}`)
	loop.Content = "我再搜一下最新消息。"
	be := &fakeBackend{responses: []*provider.ChatResponse{loop}}

	res, err := f.resolver.Run(context.Background(), newTurn("", kimi(character.AbilityToolUse)), loop, be)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxHops, res.Hops)
	assert.Equal(t, DefaultMaxHops, be.calls)
	assert.Len(t, f.store.AllRecords("r1"), DefaultMaxHops)

	require.NotNil(t, res.Final)
	assert.Equal(t, "我再搜一下最新消息。", res.Final.Content)
	assert.Equal(t, provider.FinishReasonStop, res.Final.FinishReason)
	assert.Empty(t, res.Final.ToolCalls)
	assert.Len(t, loop.ToolCalls, 1, "backend response left untouched")
}

func TestRunKeepsUserQuestionAcrossHops(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch, result: tools.ToolResult{Content: "结果", Payload: map[string]any{"n": 1}}}
	f := newFixture(nil, search)
	be := &fakeBackend{responses: []*provider.ChatResponse{
		toolCall("web_search", `{"q":"more"}`),
		textReply("查到了"),
	}}

	res, err := f.resolver.Run(context.Background(), newTurn("zh-Hans", kimi(character.AbilityToolUse)), toolCall("web_search", `{"q":"go"}`), be)
	require.NoError(t, err)
	require.NotNil(t, res.Final)
	assert.Equal(t, "查到了", res.Final.Content)
	require.Len(t, be.prompts, 2)

	roles := func(msgs []provider.Message) []string {
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.Role
		}
		return out
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool"}, roles(be.prompts[0]))
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "assistant", "tool"}, roles(be.prompts[1]))
	assert.Equal(t, "帮我查一下", be.prompts[1][1].Content)
}

func TestRunExecutesEveryDraftCall(t *testing.T) {
	f := newFixture(nil)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("unused")}}
	resp := &provider.ChatResponse{
		ID:           "req-1",
		FinishReason: provider.FinishReasonToolCalls,
		ToolCalls: []provider.ToolCall{
			{ID: "c1", Type: "function", Name: "add_todo", Arguments: `{"title":"买牛奶"}`},
			{ID: "c2", Type: "function", Name: "add_calendar", Arguments: `{"description":"开会","date":"2026-10-20","time":"09:30"}`},
		},
	}

	res, err := f.resolver.Run(context.Background(), newTurn("zh-Hans", kimi(character.AbilityToolUse)), resp, be)
	require.NoError(t, err)
	assert.Nil(t, res.Final)
	assert.True(t, res.UsedTool)
	assert.Zero(t, be.calls)

	records := f.store.AllRecords("r1")
	require.Len(t, records, 2)
	assert.Equal(t, "add_todo", records[0].FuncName)
	assert.Equal(t, "add_calendar", records[1].FuncName)
	assert.Len(t, f.store.Drafts(), 2)
	assert.Len(t, f.notifier.Texts(), 2)
}

func TestRunStopsAtFirstContinuingCall(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch, result: tools.ToolResult{Content: "结果", Payload: map[string]any{"n": 1}}}
	cards := &stubTool{tag: tools.GetCards, result: tools.ToolResult{ModelText: "1. 买牛奶", HasData: true}}
	f := newFixture(nil, search, cards)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("好的")}}
	resp := &provider.ChatResponse{
		ID:           "req-1",
		FinishReason: provider.FinishReasonToolCalls,
		ToolCalls: []provider.ToolCall{
			{ID: "c1", Type: "function", Name: "add_note", Arguments: `{"description":"周五交周报"}`},
			{ID: "c2", Type: "function", Name: "web_search", Arguments: `{"q":"周报模板"}`},
			{ID: "c3", Type: "function", Name: "get_cards", Arguments: `{"cardType":"TODO"}`},
		},
	}

	res, err := f.resolver.Run(context.Background(), newTurn("zh-Hans", kimi(character.AbilityToolUse)), resp, be)
	require.NoError(t, err)
	assert.Equal(t, "好的", res.Final.Content)
	assert.Empty(t, cards.args)
	assert.Len(t, f.store.AllRecords("r1"), 2)

	// one assistant turn with both executed calls, one tool turn per call
	require.Len(t, be.prompts, 1)
	sent := be.prompts[0]
	require.Len(t, sent, 5)
	require.Len(t, sent[2].ToolCalls, 2)
	assert.Equal(t, "c1", sent[2].ToolCalls[0].ID)
	assert.Equal(t, "c2", sent[2].ToolCalls[1].ID)
	assert.Equal(t, "c1", sent[3].ToolCallID)
	assert.Equal(t, "c2", sent[4].ToolCallID)
	assert.True(t, strings.HasPrefix(sent[4].Content, "结果\n\n"))
}

func TestRunSearchFailureEndsLoop(t *testing.T) {
	tests := []struct {
		name string
		tool *stubTool
		args string
	}{
		{"error result", &stubTool{tag: tools.WebSearch, result: tools.NewErrorResult("quota")}, `{"q":"x"}`},
		{"transport error", &stubTool{tag: tools.WebSearch, err: errors.New("dial tcp")}, `{"q":"x"}`},
		{"empty result", &stubTool{tag: tools.WebSearch}, `{"q":"x"}`},
		{"missing query", &stubTool{tag: tools.WebSearch}, `{}`},
		{"broken arguments", &stubTool{tag: tools.WebSearch}, `{"q":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil, tt.tool)
			be := &fakeBackend{responses: []*provider.ChatResponse{textReply("unused")}}

			res, err := f.resolver.Run(context.Background(), newTurn("zh-Hans", kimi(character.AbilityToolUse)), toolCall("web_search", tt.args), be)
			require.NoError(t, err)
			assert.Nil(t, res.Final)
			assert.True(t, res.UsedTool)
			assert.Zero(t, be.calls)

			records := f.store.AllRecords("r1")
			require.Len(t, records, 1)
			assert.Equal(t, "网络搜索失败", records[0].Text)
			assert.Empty(t, records[0].Payload)
			require.Len(t, res.Logs, 1)
			assert.Equal(t, chat.LogWorking, res.Logs[0].Kind)
		})
	}
}

func TestRunUnknownTool(t *testing.T) {
	f := newFixture(nil)
	res, err := f.resolver.Run(context.Background(), newTurn("en", kimi()), toolCall("read_file", `{}`), &fakeBackend{})
	require.NoError(t, err)
	assert.Nil(t, res.Final)
	records := f.store.AllRecords("r1")
	require.Len(t, records, 1)
	assert.Equal(t, "read_file", records[0].FuncName)
}

func TestRunStale(t *testing.T) {
	search := &stubTool{tag: tools.WebSearch, result: tools.ToolResult{Content: "结果", Payload: map[string]any{"n": 1}}}
	f := newFixture(nil, search)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("late")}, stale: true}

	res, err := f.resolver.Run(context.Background(), newTurn("", kimi()), toolCall("web_search", `{"q":"x"}`), be)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Nil(t, res.Final)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.resolver.Run(ctx, newTurn("", kimi()), toolCall("add_todo", `{"title":"x"}`), &fakeBackend{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrivateReadLogs(t *testing.T) {
	cards := &stubTool{tag: tools.GetCards, result: tools.ToolResult{ModelText: "1. 买牛奶", HasData: true}}
	f := newFixture(nil, cards)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("你有一条待办")}}

	res, err := f.resolver.Run(context.Background(), newTurn("en", kimi()), toolCall("get_cards", `{"cardType":"TODO"}`), be)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, chat.RunLog{Kind: chat.LogPrivacy, Text: "Kimi read latest to-dos"}, res.Logs[0])

	// flattened call for a backend without native tools
	sent := be.prompts[0]
	assert.Equal(t, "Tool call result:\n1. 买牛奶", sent[len(sent)-1].Content)
	assert.Equal(t, "Kimi read latest to-dos", f.store.AllRecords("r1")[0].Text)
}

func TestMapsKeepsPayloadOnly(t *testing.T) {
	geo := &stubTool{tag: tools.MapsGeo, result: tools.ToolResult{ModelText: "116.48,39.99", Payload: map[string]any{"location": "116.48,39.99"}}}
	f := newFixture(nil, geo)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("在这里")}}

	res, err := f.resolver.Run(context.Background(), newTurn("en", kimi(character.AbilityToolUse)), toolCall("maps_geo", `{"address":"望京"}`), be)
	require.NoError(t, err)
	assert.Equal(t, "Kimi searched the address", res.Logs[0].Text)
	rec := f.store.AllRecords("r1")[0]
	assert.Empty(t, rec.Text)
	assert.Equal(t, "116.48,39.99", rec.Payload["location"])
}

func TestParseLinkClipsPage(t *testing.T) {
	page := strings.Repeat("字", MaxLinkRunes+10)
	link := &stubTool{tag: tools.ParseLink, result: tools.ToolResult{Content: page}}
	f := newFixture(nil, link)
	be := &fakeBackend{responses: []*provider.ChatResponse{textReply("总结")}}

	_, err := f.resolver.Run(context.Background(), newTurn("", kimi(character.AbilityToolUse)), toolCall("parse_link", `{"link":"https://go.dev"}`), be)
	require.NoError(t, err)
	rec := f.store.AllRecords("r1")[0]
	assert.Equal(t, MaxLinkRunes+6, len([]rune(rec.Text)))
	assert.True(t, strings.HasSuffix(rec.Text, "......"))
}

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "  ", map[string]any{}, false},
		{"plain", `{"q":"go"}`, map[string]any{"q": "go"}, false},
		{"comments and trailing comma", "{\n// query\n\"q\": \"go\",\n}", map[string]any{"q": "go"}, false},
		{"broken", `{"q":`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArgs(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadArguments)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
