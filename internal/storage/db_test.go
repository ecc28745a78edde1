package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chorus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "chorus.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, dbPath, db.Path())

	var result int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&result))
	assert.Equal(t, 1, result)
}

func TestOpen_Pragmas(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fkEnabled int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled))
	assert.Equal(t, 1, fkEnabled)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	insert := func(id string) func(*Tx) error {
		return func(tx *Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO room_events (id, room_id, user_id, kind, created_at) VALUES (?, 'r1', 'u1', 'add', 1)", id)
			return err
		}
	}
	count := func(id string) int {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM room_events WHERE id = ?", id).Scan(&n))
		return n
	}

	t.Run("commit", func(t *testing.T) {
		require.NoError(t, db.WithTx(ctx, insert("e1")))
		assert.Equal(t, 1, count("e1"))
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTx(ctx, func(tx *Tx) error {
			if err := insert("e2")(tx); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, count("e2"))
	})
}

func TestClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "chorus.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var result int
	assert.Error(t, db.QueryRow("SELECT 1").Scan(&result))
}
