package runner

import (
	"context"
	"math/rand/v2"
	"time"

	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/pkg/logger"
)

// maxQuota returns the user's conversation ceiling.
func (e *Engine) maxQuota(u *chat.User) int {
	if u.Subscribed {
		return e.config.MemberQuota
	}
	return e.config.FreeQuota
}

// hasQuota reports whether the user may start another turn. Ad credits
// extend the ceiling.
func (e *Engine) hasQuota(u *chat.User) bool {
	return u.Quota.ConversationCount < e.maxQuota(u) || u.Quota.AdCredits > 0
}

func (e *Engine) warnQuota(ctx context.Context, u *chat.User, r *chat.Room) {
	msg := e.t(u, "quota_exhausted", i18n.Vars{
		"usedTimes": u.Quota.ConversationCount,
		"maxTimes":  e.maxQuota(u),
		"link":      e.config.RenewLink,
	})
	e.sendText(ctx, target(u, r), msg)
}

// addQuota counts one successful turn and returns the new count. Free users
// past their ceiling spend an ad credit. Rooms of users with enough turns
// get a background compression hint.
func (e *Engine) addQuota(ctx context.Context, u *chat.User, r *chat.Room) int {
	q := u.Quota
	q.ConversationCount++
	if q.ConversationCount > e.config.FreeQuota && !u.Subscribed && q.AdCredits > 0 {
		q.AdCredits--
	}
	u.Quota = q
	if err := e.store.UpdateQuota(ctx, u.ID, q); err != nil {
		logger.Warn().Err(err).Str("user", u.ID).Msg("runner: quota not saved")
	}
	if q.ConversationCount >= e.config.SystemTwoMin {
		e.scheduleSystemTwo(ctx, r)
	}
	return q.ConversationCount
}

// scheduleSystemTwo sets the room's compression hint: a day out the first
// time, an hour out afterwards, plus up to half an hour of jitter. A hint
// already due within two hours is kept.
func (e *Engine) scheduleSystemTwo(ctx context.Context, r *chat.Room) {
	now := e.now()
	last := r.NeedSystemTwoAt
	if last.After(now) && last.Before(now.Add(2*time.Hour)) {
		return
	}
	wait := time.Hour
	if last.IsZero() {
		wait = 23 * time.Hour
	}
	at := now.Add(wait + time.Duration(1+rand.IntN(30))*time.Minute)
	if err := e.store.UpdateRoomSchedule(ctx, r.ID, at); err != nil {
		logger.Warn().Err(err).Str("room", r.ID).Msg("runner: compression hint not saved")
		return
	}
	r.NeedSystemTwoAt = at
}
