package budget

import (
	"strings"
	"testing"

	"chorus/internal/chat"
	"chorus/internal/provider"
)

func TestTextCost(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"hello", 2},
		{"hi", 1},
		{"abc12", 2},
		{"你好", 2},
		{"hi 你好", 4},
		{"!!", 2},
		{strings.Repeat("a", 10), 4},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := TextCost(tt.in); got != tt.want {
				t.Errorf("TextCost(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecordCost(t *testing.T) {
	tests := []struct {
		name string
		rec  *chat.Record
		want int
	}{
		{"user text", &chat.Record{Kind: chat.KindUser, Text: "你好吗"}, 3},
		{"user image", &chat.Record{Kind: chat.KindUser, ImageURL: "http://x"}, ImageCost},
		{"image with text prefers text", &chat.Record{Kind: chat.KindUser, Text: "猫", ImageURL: "http://x"}, 1},
		{"assistant with usage", &chat.Record{Kind: chat.KindAssistant, Text: "你好", Usage: &provider.Usage{CompletionTokens: 42}}, 42},
		{"assistant without usage", &chat.Record{Kind: chat.KindAssistant, Text: "你好"}, 2},
		{"summary with usage", &chat.Record{Kind: chat.KindSummary, Text: "x", Usage: &provider.Usage{CompletionTokens: 7}}, 7},
		{
			"tool estimate wins",
			&chat.Record{Kind: chat.KindToolUse, Text: "好", FuncName: "web_search", FuncArgs: map[string]any{"q": "go"}},
			// text 1 + (web_search 10 chars: 9 latin + "_" = 9*0.4+1 = 4.6 -> 5)
			// + (`{"q":"go"}`: 3 latin, 7 other = 8.2 -> 9) + 10
			1 + 5 + 9 + 10,
		},
		{
			"tool reported wins",
			&chat.Record{Kind: chat.KindToolUse, FuncName: "x", Usage: &provider.Usage{CompletionTokens: 500}},
			500,
		},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecordCost(tt.rec); got != tt.want {
				t.Errorf("RecordCost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPromptCost(t *testing.T) {
	m := provider.Message{Role: provider.RoleUser, Parts: []provider.ContentPart{
		provider.TextPart("你好"),
		{Type: provider.PartImageURL, ImageURL: &provider.ImageURL{URL: "x"}},
		{Type: provider.PartInputAudio, InputAudio: &provider.InputAudio{Data: "b64"}},
	}}
	if got, want := PromptCost(m), 2+ImageCost+AudioCost; got != want {
		t.Errorf("PromptCost = %d, want %d", got, want)
	}
	if got := PromptsCost([]provider.Message{provider.TextMessage("user", "你好"), m}); got != 2+2+ImageCost+AudioCost {
		t.Errorf("PromptsCost = %d", got)
	}
}

func TestWindowAndReserved(t *testing.T) {
	if got := WindowTokens(128, true); got != SubscriberWindow {
		t.Errorf("subscriber window = %d", got)
	}
	if got := WindowTokens(128, false); got != FreeWindow {
		t.Errorf("free window = %d", got)
	}
	if got := WindowTokens(8, true); got != 8000 {
		t.Errorf("small window = %d", got)
	}
	if got := Reserved(8000); got != MinReserved {
		t.Errorf("Reserved(8000) = %d", got)
	}
	if got := Reserved(32000); got != 3200 {
		t.Errorf("Reserved(32000) = %d", got)
	}
}

func records(costs ...int) []*chat.Record {
	out := make([]*chat.Record, len(costs))
	for i, c := range costs {
		out[i] = &chat.Record{Kind: chat.KindUser, Text: strings.Repeat("字", c)}
	}
	return out
}

func TestClip(t *testing.T) {
	// window 8k, reserved 1600, reach 6400
	tests := []struct {
		name    string
		costs   []int
		wantLen int
	}{
		{"single record kept", []int{100000}, 1},
		{"all fit", []int{1000, 1000, 1000}, 3},
		{"cut at crossing", []int{3000, 3000, 500, 1000}, 2},
		{"first record too big", []int{7000, 10}, 0},
		{"exact reach kept", []int{6400, 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clip(records(tt.costs...), 8, true)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestClipStaysWithinBudgetAndIsMonotonic(t *testing.T) {
	window := records(900, 1200, 30, 2500, 4000, 700, 3300, 10, 6000, 800)
	prev := -1
	for k := 1; k <= 40; k++ {
		got := Clip(window, k, true)
		w := WindowTokens(k, true)
		if cost := RecordsCost(got); len(got) != len(window) && cost > w-Reserved(w) {
			t.Fatalf("k=%d: clipped cost %d exceeds %d", k, cost, w-Reserved(w))
		}
		if len(got) < prev {
			t.Fatalf("k=%d: clip point went from %d to %d", k, prev, len(got))
		}
		prev = len(got)
	}
}

func TestReplyCap(t *testing.T) {
	short := &chat.Record{Kind: chat.KindUser, Text: "hi"}
	long := &chat.Record{Kind: chat.KindUser, Text: strings.Repeat("字", 170)}

	tests := []struct {
		name      string
		total     int
		first     *chat.Record
		windowK   int
		reasoning bool
		want      int
	}{
		{"floor", 10, short, 8, false, MinReply},
		{"double", 10, long, 8, false, 340},
		{"ceiling", 10, &chat.Record{Text: strings.Repeat("字", 500)}, 8, false, MaxReply},
		{"reasoning floor", 10, short, 64, true, MinReasoning},
		{"rest wins", 7900, short, 8, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplyCap(tt.total, tt.first, tt.windowK, tt.reasoning); got != tt.want {
				t.Errorf("ReplyCap = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSingleGreetingScenario(t *testing.T) {
	window := []*chat.Record{{Kind: chat.KindUser, Text: "hi"}}
	clipped := Clip(window, 8, true)
	if len(clipped) != 1 {
		t.Fatalf("clipped = %d records", len(clipped))
	}
	got := ReplyCap(RecordsCost(clipped), clipped[0], 8, false)
	if got < MinReply || got > MaxReply {
		t.Errorf("ReplyCap = %d, want within [%d, %d]", got, MinReply, MaxReply)
	}
}

func TestNeedsCompression(t *testing.T) {
	if NeedsCompression(records(7000, 7000)) {
		t.Error("fewer than three records never compress")
	}
	if !NeedsCompression(records(3000, 3000, 1)) {
		t.Error("6001 tokens should compress")
	}
	if NeedsCompression(records(3000, 3000)) {
		t.Error("two records never compress")
	}

	withSummary := records(2000, 2000, 10, 9000)
	withSummary[2].Kind = chat.KindSummary
	if NeedsCompression(withSummary) {
		t.Error("walk should stop at the summary")
	}
}

func TestSummaryPoint(t *testing.T) {
	if got := SummaryPoint(records(500, 300, 200, 100)); got != 2 {
		t.Errorf("SummaryPoint = %d, want 2", got)
	}
	if got := SummaryPoint(records(10, 10)); got != 1 {
		t.Errorf("SummaryPoint = %d, want last index", got)
	}
}
