package storage

import (
	"context"
	"database/sql"
	"errors"

	"chorus/internal/chat"
)

// GetUser 获取用户及其额度
func (db *DB) GetUser(ctx context.Context, id string) (*chat.User, error) {
	var u chat.User
	var created int64
	err := db.QueryRowContext(ctx,
		`SELECT id, locale, timezone, subscribed, conversation_count, cluster_count, ad_credits, created_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Locale, &u.Timezone, &u.Subscribed,
		&u.Quota.ConversationCount, &u.Quota.ClusterCount, &u.Quota.AdCredits, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// SaveUser 新建或覆盖用户
func (db *DB) SaveUser(ctx context.Context, user *chat.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = db.now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, locale, timezone, subscribed, conversation_count, cluster_count, ad_credits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			locale = excluded.locale,
			timezone = excluded.timezone,
			subscribed = excluded.subscribed,
			conversation_count = excluded.conversation_count,
			cluster_count = excluded.cluster_count,
			ad_credits = excluded.ad_credits`,
		user.ID, user.Locale, user.Timezone, user.Subscribed,
		user.Quota.ConversationCount, user.Quota.ClusterCount, user.Quota.AdCredits,
		toMillis(user.CreatedAt),
	)
	return err
}

// UpdateQuota 写回额度计数
func (db *DB) UpdateQuota(ctx context.Context, userID string, quota chat.Quota) error {
	result, err := db.ExecContext(ctx,
		"UPDATE users SET conversation_count = ?, cluster_count = ?, ad_credits = ? WHERE id = ?",
		quota.ConversationCount, quota.ClusterCount, quota.AdCredits, userID,
	)
	if err != nil {
		return err
	}
	return mustAffect(result)
}
