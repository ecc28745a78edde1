package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/chat"
	"chorus/internal/provider"
)

func TestRooms(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.UnixMilli(1_700_000_000_000)
	db.SetClock(func() time.Time { return now })

	room := &chat.Room{OwnerID: "u1", Characters: []string{"kimi", "deepseek"}}
	require.NoError(t, db.CreateRoom(ctx, room))
	require.NotEmpty(t, room.ID)

	got, err := db.GetRoomByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, []string{"kimi", "deepseek"}, got.Characters)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.NeedSystemTwoAt.IsZero())

	require.NoError(t, db.UpdateRoomCharacters(ctx, room.ID, nil))
	require.NoError(t, db.UpdateRoomVoice(ctx, room.ID, "female"))
	got, err = db.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Characters)
	assert.Equal(t, "female", got.VoicePreference)

	_, err = db.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.ErrorIs(t, db.UpdateRoomVoice(ctx, "missing", "male"), chat.ErrNotFound)
}

func TestDueRooms(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.UnixMilli(1_700_000_000_000)

	for i, owner := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.CreateRoom(ctx, &chat.Room{ID: owner, OwnerID: owner}))
		switch i {
		case 0:
			require.NoError(t, db.UpdateRoomSchedule(ctx, owner, now.Add(-time.Minute)))
		case 1:
			require.NoError(t, db.UpdateRoomSchedule(ctx, owner, now.Add(-time.Hour)))
		case 2:
			require.NoError(t, db.UpdateRoomSchedule(ctx, owner, now.Add(time.Hour)))
		}
	}

	due, err := db.DueRooms(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].ID)
	assert.Equal(t, "a", due[1].ID)

	due, err = db.DueRooms(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, db.UpdateRoomSchedule(ctx, "b", time.Time{}))
	due, err = db.DueRooms(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)
}

func texts(records []*chat.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}

func TestLatestRecords(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.UnixMilli(1_700_000_000_000)
	db.SetClock(func() time.Time { return now })

	appendAll := func(recs ...*chat.Record) {
		for _, r := range recs {
			r.RoomID = "r1"
			require.NoError(t, db.AppendRecord(ctx, r))
		}
	}
	appendAll(
		&chat.Record{Kind: chat.KindUser, Text: "old"},
		&chat.Record{Kind: chat.KindClear},
		&chat.Record{Kind: chat.KindUser, Text: "one"},
		&chat.Record{Kind: chat.KindAssistant, Character: "kimi", Text: "two", FinishReason: provider.FinishReasonLength},
		&chat.Record{Kind: chat.KindUser, Text: "three"},
	)

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all since clear", 0, []string{"three", "two", "one"}},
		{"limited", 2, []string{"three", "two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.LatestRecords(ctx, "r1", tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(got))
		})
	}

	t.Run("stamps strictly increase within a millisecond", func(t *testing.T) {
		got, err := db.LatestRecords(ctx, "r1", 0)
		require.NoError(t, err)
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i-1].SortStamp, got[i].SortStamp)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := db.LatestRecords(ctx, "r1", 2)
		require.NoError(t, err)
		rec, err := db.GetRecord(ctx, got[1].ID)
		require.NoError(t, err)
		assert.Equal(t, "kimi", rec.Character)
		assert.Equal(t, provider.FinishReasonLength, rec.FinishReason)

		rec.FinishReason = provider.FinishReasonStop
		require.NoError(t, db.UpdateRecord(ctx, rec))
		rec, err = db.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, provider.FinishReasonStop, rec.FinishReason)
	})

	t.Run("clear hides everything", func(t *testing.T) {
		appendAll(&chat.Record{Kind: chat.KindClear})
		got, err := db.LatestRecords(ctx, "r1", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	_, err := db.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.ErrorIs(t, db.UpdateRecord(ctx, &chat.Record{ID: "missing"}), chat.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	u := &chat.User{ID: "u1", Locale: "zh-Hans", Timezone: "Asia/Shanghai", Subscribed: true}
	require.NoError(t, db.SaveUser(ctx, u))
	require.NoError(t, db.UpdateQuota(ctx, "u1", chat.Quota{ConversationCount: 3, AdCredits: 1}))

	got, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", got.Timezone)
	assert.True(t, got.Subscribed)
	assert.Equal(t, chat.Quota{ConversationCount: 3, AdCredits: 1}, got.Quota)

	got.Locale = "en"
	require.NoError(t, db.SaveUser(ctx, got))
	got, err = db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "en", got.Locale)

	assert.ErrorIs(t, db.UpdateQuota(ctx, "nobody", chat.Quota{}), chat.ErrNotFound)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	draft := &chat.Draft{UserID: "u1", RoomID: "r1", Kind: chat.DraftTodo, Status: chat.DraftWaiting, Character: "kimi", Title: "买牛奶"}
	require.NoError(t, db.SaveDraft(ctx, draft))
	assert.NotEmpty(t, draft.ID)

	n, err := db.CountDrafts(ctx, "u1", chat.DraftWaiting)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.AppendCallLog(ctx, &chat.CallLog{RoomID: "r1", Character: "kimi", Outcome: "ok", TotalTokens: 12}))
	require.NoError(t, db.AppendRoomEvent(ctx, &chat.RoomEvent{RoomID: "r1", UserID: "u1", Kind: chat.EventKick, Character: "kimi"}))

	var calls, events int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM call_logs").Scan(&calls))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM room_events WHERE kind = 'kick'").Scan(&events))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, events)
}
