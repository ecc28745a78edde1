package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chorus/internal/chat"
)

const roomColumns = "id, owner_id, characters, voice_preference, need_system_two_at, created_at, updated_at"

func (s *Store) GetRoom(ctx context.Context, id string) (*chat.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id))
}

func (s *Store) GetRoomByOwner(ctx context.Context, ownerID string) (*chat.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE owner_id = $1", ownerID))
}

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
		room.UpdatedAt = room.CreatedAt
	}
	characters := room.Characters
	if characters == nil {
		characters = []string{}
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO rooms ("+roomColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		room.ID, room.OwnerID, characters, room.VoicePreference,
		nullTime(room.NeedSystemTwoAt), room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *Store) UpdateRoomCharacters(ctx context.Context, roomID string, characters []string) error {
	if characters == nil {
		characters = []string{}
	}
	return s.updateRoom(ctx, roomID, "characters", characters)
}

func (s *Store) UpdateRoomVoice(ctx context.Context, roomID, voice string) error {
	return s.updateRoom(ctx, roomID, "voice_preference", voice)
}

func (s *Store) UpdateRoomSchedule(ctx context.Context, roomID string, at time.Time) error {
	return s.updateRoom(ctx, roomID, "need_system_two_at", nullTime(at))
}

func (s *Store) updateRoom(ctx context.Context, roomID, column string, value any) error {
	return mustAffect(s.pool.Exec(ctx,
		"UPDATE rooms SET "+column+" = $1, updated_at = $2 WHERE id = $3",
		value, s.now(), roomID,
	))
}

func (s *Store) DueRooms(ctx context.Context, now time.Time, limit int) ([]*chat.Room, error) {
	query := "SELECT " + roomColumns + " FROM rooms WHERE need_system_two_at IS NOT NULL AND need_system_two_at <= $1 ORDER BY need_system_two_at"
	args := []any{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*chat.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func scanRoom(row pgx.Row) (*chat.Room, error) {
	var r chat.Room
	var systemTwo *time.Time
	err := row.Scan(&r.ID, &r.OwnerID, &r.Characters, &r.VoicePreference, &systemTwo, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if systemTwo != nil {
		r.NeedSystemTwoAt = *systemTwo
	}
	return &r, nil
}
