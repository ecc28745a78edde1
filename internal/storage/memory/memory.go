// Package memory is an in-process chat.Store used by the local REPL and
// by tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"chorus/internal/chat"
)

var _ chat.Store = (*Store)(nil)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*chat.Room
	records  map[string][]*chat.Record
	users    map[string]*chat.User
	drafts   []*chat.Draft
	calls    []*chat.CallLog
	events   []*chat.RoomEvent
	lastSort map[string]int64
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:    make(map[string]*chat.Room),
		records:  make(map[string][]*chat.Record),
		users:    make(map[string]*chat.User),
		lastSort: make(map[string]int64),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetRoom(_ context.Context, id string) (*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) GetRoomByOwner(_ context.Context, ownerID string) (*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.OwnerID == ownerID {
			return r.Clone(), nil
		}
	}
	return nil, chat.ErrNotFound
}

func (s *Store) CreateRoom(_ context.Context, room *chat.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
		room.UpdatedAt = room.CreatedAt
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *Store) update(id string, fn func(r *chat.Room)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return chat.ErrNotFound
	}
	fn(r)
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdateRoomCharacters(_ context.Context, roomID string, characters []string) error {
	return s.update(roomID, func(r *chat.Room) { r.Characters = slices.Clone(characters) })
}

func (s *Store) UpdateRoomVoice(_ context.Context, roomID, voice string) error {
	return s.update(roomID, func(r *chat.Room) { r.VoicePreference = voice })
}

func (s *Store) UpdateRoomSchedule(_ context.Context, roomID string, at time.Time) error {
	return s.update(roomID, func(r *chat.Room) { r.NeedSystemTwoAt = at })
}

func (s *Store) DueRooms(_ context.Context, now time.Time, limit int) ([]*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Room
	for _, r := range s.rooms {
		if r.NeedSystemTwoAt.IsZero() || r.NeedSystemTwoAt.After(now) {
			continue
		}
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *chat.Room) int { return a.NeedSystemTwoAt.Compare(b.NeedSystemTwoAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendRecord(_ context.Context, rec *chat.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.SortStamp == 0 {
		stamp := now.UnixMilli()
		if last := s.lastSort[rec.RoomID]; stamp <= last {
			stamp = last + 1
		}
		rec.SortStamp = stamp
	}
	if rec.SortStamp > s.lastSort[rec.RoomID] {
		s.lastSort[rec.RoomID] = rec.SortStamp
	}
	s.records[rec.RoomID] = append(s.records[rec.RoomID], rec.Clone())
	return nil
}

func (s *Store) UpdateRecord(_ context.Context, rec *chat.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.records[rec.RoomID]
	for i, r := range list {
		if r.ID == rec.ID {
			list[i] = rec.Clone()
			return nil
		}
	}
	return chat.ErrNotFound
}

func (s *Store) GetRecord(_ context.Context, id string) (*chat.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.records {
		for _, r := range list {
			if r.ID == id {
				return r.Clone(), nil
			}
		}
	}
	return nil, chat.ErrNotFound
}

func (s *Store) LatestRecords(_ context.Context, roomID string, limit int) ([]*chat.Record, error) {
	s.mu.RLock()
	sorted := slices.Clone(s.records[roomID])
	s.mu.RUnlock()

	// Stable sort keeps insertion order for equal stamps; reversing the
	// ascending order gives newest first.
	slices.SortStableFunc(sorted, func(a, b *chat.Record) int {
		switch {
		case a.SortStamp < b.SortStamp:
			return -1
		case a.SortStamp > b.SortStamp:
			return 1
		}
		return 0
	})
	slices.Reverse(sorted)

	var out []*chat.Record
	for _, r := range sorted {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.Kind == chat.KindClear {
			break
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) SaveUser(_ context.Context, user *chat.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Store) UpdateQuota(_ context.Context, userID string, quota chat.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return chat.ErrNotFound
	}
	u.Quota = quota
	return nil
}

func (s *Store) SaveDraft(_ context.Context, draft *chat.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	cp := *draft
	s.drafts = append(s.drafts, &cp)
	return nil
}

func (s *Store) AppendCallLog(_ context.Context, log *chat.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	cp := *log
	s.calls = append(s.calls, &cp)
	return nil
}

func (s *Store) AppendRoomEvent(_ context.Context, ev *chat.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Drafts returns the staged drafts.
func (s *Store) Drafts() []*chat.Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.drafts)
}

// CallLogs returns the recorded backend calls.
func (s *Store) CallLogs() []*chat.CallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.calls)
}

// RoomEvents returns the membership events.
func (s *Store) RoomEvents() []*chat.RoomEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// AllRecords returns every record of a room in insertion order, clear
// records included.
func (s *Store) AllRecords(roomID string) []*chat.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.CloneRecords(s.records[roomID])
}
