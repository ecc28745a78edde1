package chat

import (
	"testing"

	"chorus/internal/provider"
)

func TestRecordCloneIsDeep(t *testing.T) {
	orig := &Record{
		ID:       "r1",
		Usage:    &provider.Usage{CompletionTokens: 5},
		Location: &Location{Latitude: 1},
		FuncArgs: map[string]any{"q": "go"},
		Payload:  map[string]any{"n": 1},
	}
	c := orig.Clone()
	c.Usage.CompletionTokens = 9
	c.Location.Latitude = 2
	c.FuncArgs["q"] = "rust"
	c.Payload["n"] = 2

	if orig.Usage.CompletionTokens != 5 || orig.Location.Latitude != 1 {
		t.Error("clone shares pointers with the original")
	}
	if orig.FuncArgs["q"] != "go" || orig.Payload["n"] != 1 {
		t.Error("clone shares maps with the original")
	}
	if (*Record)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestRunContextCloneIsolatesBranches(t *testing.T) {
	rc := RunContext{
		Room:    &Room{ID: "room", Characters: []string{"kimi"}},
		User:    &User{ID: "u", Locale: "en"},
		Records: []*Record{{ID: "a", Text: "hi"}},
	}
	branch := rc.Clone()
	branch.Records[0].Text = "changed"
	branch.Records = append(branch.Records, &Record{ID: "b"})
	branch.Room.Characters[0] = "deepseek"

	if rc.Records[0].Text != "hi" || len(rc.Records) != 1 {
		t.Error("records leaked across clones")
	}
	if rc.Room.Characters[0] != "kimi" {
		t.Error("room leaked across clones")
	}
	if rc.Locale() != "en" || rc.Target().RoomID != "room" {
		t.Error("accessors mismatch")
	}
}

func TestRoomHas(t *testing.T) {
	r := &Room{Characters: []string{"kimi", "deepseek"}}
	if !r.Has("kimi") || r.Has("zhipu") {
		t.Error("Has() mismatch")
	}
}
