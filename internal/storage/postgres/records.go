package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chorus/internal/chat"
)

// AppendRecord takes a per-room advisory lock so concurrent writers get
// strictly increasing sort stamps.
func (s *Store) AppendRecord(ctx context.Context, rec *chat.Record) error {
	now := s.now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", rec.RoomID); err != nil {
		return fmt.Errorf("lock room: %w", err)
	}
	if rec.SortStamp == 0 {
		var last int64
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(sort_stamp), 0) FROM records WHERE room_id = $1", rec.RoomID,
		).Scan(&last); err != nil {
			return fmt.Errorf("last sort stamp: %w", err)
		}
		rec.SortStamp = max(now.UnixMilli(), last+1)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO records (id, room_id, kind, sort_stamp, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		rec.ID, rec.RoomID, string(rec.Kind), rec.SortStamp, data, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateRecord(ctx context.Context, rec *chat.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return mustAffect(s.pool.Exec(ctx,
		"UPDATE records SET kind = $1, sort_stamp = $2, data = $3 WHERE id = $4",
		string(rec.Kind), rec.SortStamp, data, rec.ID,
	))
}

func (s *Store) GetRecord(ctx context.Context, id string) (*chat.Record, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, "SELECT data FROM records WHERE id = $1", id).Scan(&data); err != nil {
		return nil, notFound(err)
	}
	return decodeRecord(data)
}

func (s *Store) LatestRecords(ctx context.Context, roomID string, limit int) ([]*chat.Record, error) {
	query := `
		WITH last_clear AS (
		    SELECT sort_stamp, seq FROM records
		    WHERE room_id = $1 AND kind = $2
		    ORDER BY sort_stamp DESC, seq DESC LIMIT 1
		)
		SELECT data FROM records r
		WHERE r.room_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM last_clear c
		      WHERE (r.sort_stamp, r.seq) <= (c.sort_stamp, c.seq)
		  )
		ORDER BY r.sort_stamp DESC, r.seq DESC`
	args := []any{roomID, string(chat.KindClear)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*chat.Record, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		return decodeRecord(data)
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return records, nil
}

func decodeRecord(data []byte) (*chat.Record, error) {
	var rec chat.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}
