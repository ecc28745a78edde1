package directive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/notify"
	"chorus/internal/room"
	"chorus/internal/storage/memory"
)

type testRoster struct{}

var names = map[string]string{"kimi": "Kimi", "deepseek": "DeepSeek", "zhipu": "智谱", "hunyuan": "混元"}

func (testRoster) Characters() []string { return []string{"kimi", "deepseek", "zhipu", "hunyuan"} }
func (testRoster) Retired(string) bool  { return false }
func (testRoster) Name(c string) string { return names[c] }

type fixture struct {
	exec  *Executor
	store *memory.Store
	rec   *notify.Recorder
	user  *chat.User
	room  *chat.Room
}

func newFixture(t *testing.T, members ...string) *fixture {
	t.Helper()
	store := memory.New()
	rooms := room.NewService(store, testRoster{}, 3)
	rec := notify.NewRecorder()
	user := &chat.User{ID: "u1", Locale: "zh-Hans"}
	r := &chat.Room{OwnerID: "u1", Characters: members, CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.CreateRoom(context.Background(), r))

	exec := NewExecutor(rooms, store, rec, i18n.Default(), testRoster{}, Limits{FreeQuota: 10, MemberQuota: 200, RenewLink: "https://renew"})
	return &fixture{exec: exec, store: store, rec: rec, user: user, room: r}
}

func (f *fixture) currentRoom(t *testing.T) *chat.Room {
	t.Helper()
	r, err := f.store.GetRoom(context.Background(), f.room.ID)
	require.NoError(t, err)
	return r
}

func TestKickRemovesExactlyOne(t *testing.T) {
	f := newFixture(t, "kimi", "deepseek", "zhipu")
	cmd := Classify("踢掉Kimi", []Candidate{{Character: "kimi", Name: "Kimi"}}, nil)
	require.Equal(t, Kick, cmd.Kind)

	require.NoError(t, f.exec.Execute(context.Background(), cmd, f.user))

	assert.Equal(t, []string{"deepseek", "zhipu"}, f.currentRoom(t).Characters)
	events := f.store.RoomEvents()
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventKick, events[0].Kind)
	assert.Equal(t, "kimi", events[0].Character)

	menus := f.rec.OfKind(notify.KindMenu)
	require.Len(t, menus, 1)
	assert.True(t, strings.HasPrefix(menus[0].Menu.Header, "Kimi已离开聊天室"))
	require.Len(t, menus[0].Menu.Items, 1)
	assert.Equal(t, "召唤混元", menus[0].Menu.Items[0].Command)
}

func TestKickAbsentCharacter(t *testing.T) {
	f := newFixture(t, "deepseek")
	require.NoError(t, f.exec.Execute(context.Background(), Command{Kind: Kick, Character: "kimi"}, f.user))

	assert.Equal(t, []string{"Kimi并不在群聊内"}, f.rec.Texts())
	assert.Empty(t, f.store.RoomEvents())
}

func TestAddGreetsAndLogs(t *testing.T) {
	f := newFixture(t, "deepseek")
	require.NoError(t, f.exec.Execute(context.Background(), Command{Kind: Add, Character: "kimi"}, f.user))

	assert.Equal(t, []string{"deepseek", "kimi"}, f.currentRoom(t).Characters)
	texts := f.rec.OfKind(notify.KindText)
	require.Len(t, texts, 1)
	assert.Equal(t, "kimi", texts[0].Character)
	assert.Contains(t, texts[0].Text, "Kimi")
	assert.Len(t, f.store.RoomEvents(), 1)
}

func TestAddExisting(t *testing.T) {
	f := newFixture(t, "kimi")
	require.NoError(t, f.exec.Execute(context.Background(), Command{Kind: Add, Character: "kimi"}, f.user))
	assert.Equal(t, []string{"Kimi已在群聊中"}, f.rec.Texts())
}

func TestClearAppendsBoundary(t *testing.T) {
	f := newFixture(t, "kimi")
	ctx := context.Background()
	require.NoError(t, f.store.AppendRecord(ctx, &chat.Record{RoomID: f.room.ID, Kind: chat.KindUser, Text: "old", SortStamp: 1}))

	require.NoError(t, f.exec.Execute(ctx, Command{Kind: ClearHistory}, f.user))

	window, err := f.store.LatestRecords(ctx, f.room.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, window)
	assert.Equal(t, []string{"已清空前面的历史记录"}, f.rec.Texts())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "kimi", "deepseek")
	f.user.Quota = chat.Quota{ConversationCount: 10, AdCredits: 4}

	require.NoError(t, f.exec.Execute(context.Background(), Command{Kind: GroupStatus}, f.user))

	texts := f.rec.Texts()
	require.Len(t, texts, 1)
	msg := texts[0]
	assert.Contains(t, msg, "【群聊成员】\nKimi\nDeepSeek\n")
	assert.Contains(t, msg, "AI会话: 10/10")
	assert.Contains(t, msg, "看视频兑换的剩余次数: 4")
	assert.NotContains(t, msg, "续费")
}

func TestBotNotAvailable(t *testing.T) {
	f := newFixture(t)
	f.user.Locale = "en"
	require.NoError(t, f.exec.Execute(context.Background(), Command{Kind: BotNotAvailable, BotName: "Claude"}, f.user))
	assert.Equal(t, []string{"💡 Claude is not available"}, f.rec.Texts())
}

func TestMenuCommandsRoundTrip(t *testing.T) {
	cands := []Candidate{{Character: "kimi", Name: "Kimi"}}
	for _, locale := range []string{"zh-Hans", "en"} {
		b := MenuBuilder{Texts: i18n.Default(), Names: testRoster{}, Locale: locale}
		cases := map[Kind]chat.MenuItem{
			Kick:         b.Kick("kimi"),
			Add:          b.Add("kimi"),
			Continue:     b.Continue("kimi"),
			ClearHistory: b.Clear(),
		}
		for want, item := range cases {
			if got := Classify(item.Command, cands, nil); got.Kind != want {
				t.Errorf("%s: %q classified as %v, want %v", locale, item.Command, got.Kind, want)
			}
		}
	}
}
