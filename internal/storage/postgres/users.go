package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chorus/internal/chat"
)

func (s *Store) GetUser(ctx context.Context, id string) (*chat.User, error) {
	var u chat.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, locale, timezone, subscribed, conversation_count, cluster_count, ad_credits, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Locale, &u.Timezone, &u.Subscribed,
		&u.Quota.ConversationCount, &u.Quota.ClusterCount, &u.Quota.AdCredits, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, user *chat.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, locale, timezone, subscribed, conversation_count, cluster_count, ad_credits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			locale = EXCLUDED.locale,
			timezone = EXCLUDED.timezone,
			subscribed = EXCLUDED.subscribed,
			conversation_count = EXCLUDED.conversation_count,
			cluster_count = EXCLUDED.cluster_count,
			ad_credits = EXCLUDED.ad_credits`,
		user.ID, user.Locale, user.Timezone, user.Subscribed,
		user.Quota.ConversationCount, user.Quota.ClusterCount, user.Quota.AdCredits, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateQuota(ctx context.Context, userID string, quota chat.Quota) error {
	return mustAffect(s.pool.Exec(ctx,
		"UPDATE users SET conversation_count = $1, cluster_count = $2, ad_credits = $3 WHERE id = $4",
		quota.ConversationCount, quota.ClusterCount, quota.AdCredits, userID,
	))
}

func (s *Store) SaveDraft(ctx context.Context, draft *chat.Draft) error {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drafts (id, user_id, room_id, kind, status, character, title, descr, date, time, remind_me, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		draft.ID, draft.UserID, draft.RoomID, draft.Kind, draft.Status, draft.Character,
		draft.Title, draft.Desc, draft.Date, draft.Time, draft.RemindMe, draft.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *Store) AppendCallLog(ctx context.Context, log *chat.CallLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_logs (id, room_id, character, model, base_url, request_id, latency_ms,
			prompt_tokens, output_tokens, total_tokens, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ID, log.RoomID, log.Character, log.Model, log.BaseURL, log.RequestID, log.LatencyMS,
		log.PromptTokens, log.OutputTokens, log.TotalTokens, log.Outcome, log.Error, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (s *Store) AppendRoomEvent(ctx context.Context, ev *chat.RoomEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO room_events (id, room_id, user_id, kind, character, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		ev.ID, ev.RoomID, ev.UserID, ev.Kind, ev.Character, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert room event: %w", err)
	}
	return nil
}
