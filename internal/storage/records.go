package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chorus/internal/chat"
)

// AppendRecord 追加一条对话记录。排序戳在同一群聊内严格递增，
// 同一毫秒内写入的记录依次加一。
func (db *DB) AppendRecord(ctx context.Context, rec *chat.Record) error {
	now := db.now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	return db.WithTx(ctx, func(tx *Tx) error {
		if rec.SortStamp == 0 {
			var last int64
			if err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(sort_stamp), 0) FROM records WHERE room_id = ?", rec.RoomID,
			).Scan(&last); err != nil {
				return err
			}
			stamp := now.UnixMilli()
			if stamp <= last {
				stamp = last + 1
			}
			rec.SortStamp = stamp
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO records (id, room_id, kind, sort_stamp, data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			rec.ID, rec.RoomID, string(rec.Kind), rec.SortStamp, string(data), toMillis(rec.CreatedAt),
		)
		return err
	})
}

// UpdateRecord 覆盖已有记录的内容
func (db *DB) UpdateRecord(ctx context.Context, rec *chat.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	result, err := db.ExecContext(ctx,
		"UPDATE records SET kind = ?, sort_stamp = ?, data = ? WHERE id = ?",
		string(rec.Kind), rec.SortStamp, string(data), rec.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(result)
}

// GetRecord 获取单条记录
func (db *DB) GetRecord(ctx context.Context, id string) (*chat.Record, error) {
	var data string
	err := db.QueryRowContext(ctx, "SELECT data FROM records WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// LatestRecords 返回最近的记录，新的在前，遇到最近一次清空即停止。
// limit 为 0 时不限制条数。
func (db *DB) LatestRecords(ctx context.Context, roomID string, limit int) ([]*chat.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		WITH last_clear AS (
		    SELECT sort_stamp, seq FROM records
		    WHERE room_id = ? AND kind = ?
		    ORDER BY sort_stamp DESC, seq DESC LIMIT 1
		)
		SELECT data FROM records r
		WHERE r.room_id = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM last_clear c
		      WHERE r.sort_stamp < c.sort_stamp
		         OR (r.sort_stamp = c.sort_stamp AND r.seq <= c.seq)
		  )
		ORDER BY r.sort_stamp DESC, r.seq DESC
		LIMIT ?`,
		roomID, string(chat.KindClear), roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*chat.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func decodeRecord(data string) (*chat.Record, error) {
	var rec chat.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}
