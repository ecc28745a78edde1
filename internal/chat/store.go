package chat

import (
	"context"
	"time"
)

// RoomStore persists rooms.
type RoomStore interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	GetRoomByOwner(ctx context.Context, ownerID string) (*Room, error)
	CreateRoom(ctx context.Context, room *Room) error
	UpdateRoomCharacters(ctx context.Context, roomID string, characters []string) error
	UpdateRoomVoice(ctx context.Context, roomID, voice string) error
	// UpdateRoomSchedule sets the background compression hint. A zero time
	// clears it.
	UpdateRoomSchedule(ctx context.Context, roomID string, at time.Time) error
	// DueRooms returns rooms whose compression hint is at or before now.
	DueRooms(ctx context.Context, now time.Time, limit int) ([]*Room, error)
}

// RecordStore persists the append-only conversation log.
type RecordStore interface {
	// AppendRecord inserts rec. Empty ID, CreatedAt and SortStamp are
	// filled in by the store.
	AppendRecord(ctx context.Context, rec *Record) error
	UpdateRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	// LatestRecords returns at most limit records of a room, newest first,
	// stopping before the most recent clear record.
	LatestRecords(ctx context.Context, roomID string, limit int) ([]*Record, error)
}

// UserStore persists users and their quota counters.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	UpdateQuota(ctx context.Context, userID string, quota Quota) error
}

// AuditStore persists drafts, call logs and membership events.
type AuditStore interface {
	SaveDraft(ctx context.Context, draft *Draft) error
	AppendCallLog(ctx context.Context, log *CallLog) error
	AppendRoomEvent(ctx context.Context, ev *RoomEvent) error
}

// Store is the complete persistence contract.
type Store interface {
	RoomStore
	RecordStore
	UserStore
	AuditStore
	Close() error
}
