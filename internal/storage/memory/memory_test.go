package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"chorus/internal/chat"
)

func TestLatestRecordsStopsAtClear(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, rec := range []*chat.Record{
		{RoomID: "r", Kind: chat.KindUser, Text: "old"},
		{RoomID: "r", Kind: chat.KindClear},
		{RoomID: "r", Kind: chat.KindUser, Text: "a"},
		{RoomID: "r", Kind: chat.KindAssistant, Text: "b"},
	} {
		if err := s.AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}

	got, err := s.LatestRecords(ctx, "r", 10)
	if err != nil {
		t.Fatalf("LatestRecords: %v", err)
	}
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "a" {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestSortStampsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	fixed := time.UnixMilli(1000)
	s.SetClock(func() time.Time { return fixed })

	var stamps []int64
	for i := 0; i < 3; i++ {
		rec := &chat.Record{RoomID: "r", Kind: chat.KindUser}
		_ = s.AppendRecord(ctx, rec)
		stamps = append(stamps, rec.SortStamp)
	}
	if stamps[0] != 1000 || stamps[1] != 1001 || stamps[2] != 1002 {
		t.Errorf("stamps = %v", stamps)
	}
}

func TestExplicitSortStampIsHonoured(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetClock(func() time.Time { return time.UnixMilli(5000) })

	_ = s.AppendRecord(ctx, &chat.Record{RoomID: "r", Kind: chat.KindUser, Text: "u1"})
	_ = s.AppendRecord(ctx, &chat.Record{RoomID: "r", Kind: chat.KindUser, Text: "u2"})
	_ = s.AppendRecord(ctx, &chat.Record{RoomID: "r", Kind: chat.KindSummary, Text: "sum", SortStamp: 5000 + 10})

	got, _ := s.LatestRecords(ctx, "r", 0)
	if got[0].Text != "sum" {
		t.Errorf("newest = %q, want summary", got[0].Text)
	}
}

func TestRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetRoomByOwner(ctx, "u"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	room := &chat.Room{OwnerID: "u", Characters: []string{"kimi"}}
	_ = s.CreateRoom(ctx, room)
	_ = s.UpdateRoomCharacters(ctx, room.ID, []string{"kimi", "deepseek"})
	_ = s.UpdateRoomVoice(ctx, room.ID, "female")

	due := time.Now().Add(-time.Minute)
	_ = s.UpdateRoomSchedule(ctx, room.ID, due)

	got, err := s.GetRoomByOwner(ctx, "u")
	if err != nil {
		t.Fatalf("GetRoomByOwner: %v", err)
	}
	if len(got.Characters) != 2 || got.VoicePreference != "female" {
		t.Errorf("room = %+v", got)
	}
	rooms, _ := s.DueRooms(ctx, time.Now(), 10)
	if len(rooms) != 1 {
		t.Errorf("DueRooms = %d", len(rooms))
	}
	if err := s.UpdateRoomVoice(ctx, "missing", "x"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
