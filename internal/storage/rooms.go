package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chorus/internal/chat"
)

const roomColumns = "id, owner_id, characters, voice_preference, need_system_two_at, created_at, updated_at"

// GetRoom 按 ID 获取群聊
func (db *DB) GetRoom(ctx context.Context, id string) (*chat.Room, error) {
	return scanRoom(db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = ?", id))
}

// GetRoomByOwner 获取用户拥有的群聊
func (db *DB) GetRoomByOwner(ctx context.Context, ownerID string) (*chat.Room, error) {
	return scanRoom(db.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE owner_id = ?", ownerID))
}

// CreateRoom 创建群聊，空 ID 与时间由存储补齐
func (db *DB) CreateRoom(ctx context.Context, room *chat.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = db.now()
		room.UpdatedAt = room.CreatedAt
	}
	characters, err := json.Marshal(nonNil(room.Characters))
	if err != nil {
		return fmt.Errorf("marshal characters: %w", err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO rooms ("+roomColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		room.ID, room.OwnerID, string(characters), room.VoicePreference,
		toMillis(room.NeedSystemTwoAt), toMillis(room.CreatedAt), toMillis(room.UpdatedAt),
	)
	return err
}

// UpdateRoomCharacters 替换成员列表
func (db *DB) UpdateRoomCharacters(ctx context.Context, roomID string, characters []string) error {
	data, err := json.Marshal(nonNil(characters))
	if err != nil {
		return fmt.Errorf("marshal characters: %w", err)
	}
	return db.updateRoom(ctx, roomID, "characters = ?", string(data))
}

// UpdateRoomVoice 设置语音偏好
func (db *DB) UpdateRoomVoice(ctx context.Context, roomID, voice string) error {
	return db.updateRoom(ctx, roomID, "voice_preference = ?", voice)
}

// UpdateRoomSchedule 设置后台压缩时间，零值表示清除
func (db *DB) UpdateRoomSchedule(ctx context.Context, roomID string, at time.Time) error {
	return db.updateRoom(ctx, roomID, "need_system_two_at = ?", toMillis(at))
}

func (db *DB) updateRoom(ctx context.Context, roomID, set string, value any) error {
	result, err := db.ExecContext(ctx,
		"UPDATE rooms SET "+set+", updated_at = ? WHERE id = ?",
		value, toMillis(db.now()), roomID,
	)
	if err != nil {
		return err
	}
	return mustAffect(result)
}

// DueRooms 返回压缩时间已到的群聊，最早的在前
func (db *DB) DueRooms(ctx context.Context, now time.Time, limit int) ([]*chat.Room, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE need_system_two_at > 0 AND need_system_two_at <= ? ORDER BY need_system_two_at ASC LIMIT ?",
		toMillis(now), limit,
	)
	if err != nil {
		return nil, err
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*chat.Room, error) {
	var r chat.Room
	var characters string
	var systemTwo, created, updated int64
	err := row.Scan(&r.ID, &r.OwnerID, &characters, &r.VoicePreference, &systemTwo, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(characters), &r.Characters); err != nil {
		return nil, fmt.Errorf("unmarshal characters: %w", err)
	}
	r.NeedSystemTwoAt = fromMillis(systemTwo)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
