package storage

import (
	"context"

	"github.com/google/uuid"

	"chorus/internal/chat"
)

// SaveDraft 暂存角色生成的草稿
func (db *DB) SaveDraft(ctx context.Context, draft *chat.Draft) error {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = db.now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO drafts (id, user_id, room_id, kind, status, character, title, descr, date, time, remind_me, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.UserID, draft.RoomID, draft.Kind, draft.Status, draft.Character,
		draft.Title, draft.Desc, draft.Date, draft.Time, draft.RemindMe, toMillis(draft.CreatedAt),
	)
	return err
}

// AppendCallLog 记录一次后端调用
func (db *DB) AppendCallLog(ctx context.Context, log *chat.CallLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = db.now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO call_logs (id, room_id, character, model, base_url, request_id, latency_ms,
			prompt_tokens, output_tokens, total_tokens, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.RoomID, log.Character, log.Model, log.BaseURL, log.RequestID, log.LatencyMS,
		log.PromptTokens, log.OutputTokens, log.TotalTokens, log.Outcome, log.Error, toMillis(log.CreatedAt),
	)
	return err
}

// AppendRoomEvent 记录成员变更
func (db *DB) AppendRoomEvent(ctx context.Context, ev *chat.RoomEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = db.now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO room_events (id, room_id, user_id, kind, character, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.ID, ev.RoomID, ev.UserID, ev.Kind, ev.Character, toMillis(ev.CreatedAt),
	)
	return err
}

// CountDrafts 统计用户处于某状态的草稿数
func (db *DB) CountDrafts(ctx context.Context, userID, status string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM drafts WHERE user_id = ? AND status = ?", userID, status,
	).Scan(&n)
	return n, err
}
