// Package room manages room membership: lazy creation, adding and kicking
// characters, and picking characters to suggest.
package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chorus/internal/chat"
)

// Roster is the view of the character registry the room service needs.
type Roster interface {
	Characters() []string
	Retired(character string) bool
}

// Store is the persistence the room service needs.
type Store interface {
	chat.RoomStore
	LatestRecords(ctx context.Context, roomID string, limit int) ([]*chat.Record, error)
}

// Service manages rooms.
type Service struct {
	store  Store
	roster Roster
	max    int
	now    func() time.Time
}

// NewService creates a room service. maxCharacters bounds room membership.
func NewService(store Store, roster Roster, maxCharacters int) *Service {
	if maxCharacters < 1 {
		maxCharacters = 3
	}
	return &Service{store: store, roster: roster, max: maxCharacters, now: time.Now}
}

// Max returns the membership limit.
func (s *Service) Max() int { return s.max }

// GetOrCreate returns the owner's room, creating it on first use. A new
// room gets random available characters; wanted, when available, takes the
// first seat.
func (s *Service) GetOrCreate(ctx context.Context, ownerID, wanted string) (*chat.Room, error) {
	r, err := s.store.GetRoomByOwner(ctx, ownerID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return nil, fmt.Errorf("get room: %w", err)
	}

	characters := s.Fill()
	if wanted != "" && lo.Contains(s.roster.Characters(), wanted) && !lo.Contains(characters, wanted) {
		if len(characters) > 0 {
			characters[0] = wanted
		} else {
			characters = append(characters, wanted)
		}
	}

	now := s.now()
	r = &chat.Room{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Characters: characters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRoom(ctx, r); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return r, nil
}

// Fill picks the initial characters of a new room.
func (s *Service) Fill() []string {
	all := s.roster.Characters()
	if len(all) <= s.max {
		return slices.Clone(all)
	}
	pool := lo.Reject(all, func(c string, _ int) bool { return s.roster.Retired(c) })
	if len(pool) == 0 {
		return slices.Clone(all[:s.max])
	}
	return lo.Samples(pool, s.max)
}

// Kick removes character from the room. It reports false when the
// character was not a member.
func (s *Service) Kick(ctx context.Context, r *chat.Room, character string) (bool, error) {
	if !r.Has(character) {
		return false, nil
	}
	next := lo.Without(r.Characters, character)
	if err := s.store.UpdateRoomCharacters(ctx, r.ID, next); err != nil {
		return false, fmt.Errorf("kick %s: %w", character, err)
	}
	r.Characters = next
	r.UpdatedAt = s.now()
	return true, nil
}

// Add appends character to the room. A full room first drops its first
// retired member, or its oldest one.
func (s *Service) Add(ctx context.Context, r *chat.Room, character string) error {
	next := append([]string(nil), r.Characters...)
	if len(next) >= s.max {
		_, idx, found := lo.FindIndexOf(next, func(c string) bool { return s.roster.Retired(c) })
		if !found {
			idx = 0
		}
		next = append(next[:idx], next[idx+1:]...)
	}
	next = append(next, character)
	if err := s.store.UpdateRoomCharacters(ctx, r.ID, next); err != nil {
		return fmt.Errorf("add %s: %w", character, err)
	}
	r.Characters = next
	r.UpdatedAt = s.now()
	return nil
}

// JustCreated reports whether the room was created within the last two
// seconds.
func (s *Service) JustCreated(r *chat.Room) bool {
	return s.now().Sub(r.CreatedAt) < 2*time.Second
}

// NonUsed returns up to five random available characters that did not
// speak among the room's latest records.
func (s *Service) NonUsed(ctx context.Context, roomID string) ([]string, error) {
	records, err := s.store.LatestRecords(ctx, roomID, 10)
	if err != nil {
		return nil, fmt.Errorf("latest records: %w", err)
	}
	var recent []string
	for _, rec := range records {
		if len(recent) > 2 {
			break
		}
		if rec.Character != "" && !lo.Contains(recent, rec.Character) {
			recent = append(recent, rec.Character)
		}
	}
	candidates := lo.Without(s.roster.Characters(), recent...)
	return lo.Samples(candidates, 5), nil
}

// Suggestions returns characters to offer in an operation menu: available,
// not resting and not in the room. A full room gets none; otherwise two or
// three are picked at random.
func (s *Service) Suggestions(r *chat.Room) []string {
	n := len(r.Characters)
	if n >= s.max {
		return nil
	}
	pool := lo.Reject(s.roster.Characters(), func(c string, _ int) bool {
		return r.Has(c) || s.roster.Retired(c)
	})
	if len(pool) <= 2 {
		return pool
	}
	pick := 3
	if n >= s.max-1 {
		pick = 2
	}
	return lo.Samples(pool, pick)
}

// KickOrder lists the room's characters for kick entries: characters that
// failed or went stale first, then the ones that replied. Rooms with fewer
// than two characters get none.
func KickOrder(characters []string, results []*chat.RunResult) []string {
	if len(characters) < 2 {
		return nil
	}
	byChar := lo.SliceToMap(lo.Compact(results), func(r *chat.RunResult) (string, *chat.RunResult) {
		return r.Character, r
	})
	failed, ok := lo.FilterReject(characters, func(c string, _ int) bool {
		r, found := byChar[c]
		return !found || r.Status != chat.StatusYes
	})
	return append(failed, ok...)
}
