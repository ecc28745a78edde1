package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"chorus/internal/chat"
	"chorus/internal/directive"
	"chorus/internal/provider"
	"chorus/pkg/logger"
)

// continuePlan is the window a character continues from.
type continuePlan struct {
	character string
	records   []*chat.Record
}

// Continue resumes truncated replies in a room, optionally only those of
// one character.
func (e *Engine) Continue(ctx context.Context, roomID, character string) (*Turn, error) {
	r, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	u, err := e.store.GetUser(ctx, r.OwnerID)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		u = &chat.User{ID: r.OwnerID}
	case err != nil:
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.Locale == "" {
		u.Locale = e.config.Locale
	}
	if !e.hasQuota(u) {
		e.warnQuota(ctx, u, r)
		return &Turn{RoomID: r.ID, Outcome: OutcomeRejected}, nil
	}
	return e.continueRoom(ctx, u, r, character)
}

// continueRoom re-runs every character whose latest replies were cut off.
// Continuations never fall back to a secondary profile and skip the
// fallback menu.
func (e *Engine) continueRoom(ctx context.Context, u *chat.User, r *chat.Room, selected string) (*Turn, error) {
	turn := &Turn{RoomID: r.ID, Command: directive.Continue.String(), Outcome: OutcomeNoReply}
	records, err := e.store.LatestRecords(ctx, r.ID, e.config.ContinueWindow)
	if err != nil {
		return nil, fmt.Errorf("latest records: %w", err)
	}

	plans := e.continuable(records, selected)
	if len(plans) == 0 {
		e.sendText(ctx, target(u, r), e.t(u, "no_more_to_continue", nil))
		turn.Outcome = OutcomeNothingToContinue
		return turn, nil
	}

	base := chat.RunContext{Room: r, User: u, Continue: true}
	jobs := make([]job, 0, len(plans))
	for _, p := range plans {
		rc := base.Clone()
		rc.Records = chat.CloneRecords(p.records)
		jobs = append(jobs, job{character: p.character, rc: rc})
	}
	if err := e.notifier.SendTyping(ctx, base.Target()); err != nil {
		logger.Warn().Err(err).Str("room", r.ID).Msg("runner: send typing failed")
	}
	results := e.fanOut(ctx, jobs)
	turn.Results = lo.Compact(results)
	if !lo.SomeBy(turn.Results, (*chat.RunResult).Succeeded) {
		return turn, nil
	}
	turn.Outcome = OutcomeReplied
	e.addQuota(ctx, u, r)
	return turn, nil
}

// continuable splits the newest-first records at the latest user message
// and collects, per character, the truncated replies after it. A character
// whose newest reply finished is skipped. Each plan's window is its
// truncated replies followed by the user message and everything older.
func (e *Engine) continuable(records []*chat.Record, selected string) []continuePlan {
	idx := slices.IndexFunc(records, func(r *chat.Record) bool { return r.Kind == chat.KindUser })
	if idx < 1 {
		return nil
	}
	after, rest := records[:idx], records[idx:]

	var plans []continuePlan
	stopped := make(map[string]bool)
	for _, rec := range after {
		c := rec.Character
		if rec.Kind != chat.KindAssistant || c == "" || stopped[c] {
			continue
		}
		if selected != "" && c != selected {
			continue
		}
		if !e.registry.IsAvailable(c) {
			continue
		}
		switch rec.FinishReason {
		case provider.FinishReasonStop:
			stopped[c] = true
		case provider.FinishReasonLength:
			i := slices.IndexFunc(plans, func(p continuePlan) bool { return p.character == c })
			if i < 0 {
				plans = append(plans, continuePlan{character: c})
				i = len(plans) - 1
			}
			plans[i].records = append(plans[i].records, rec)
		}
	}
	for i := range plans {
		plans[i].records = append(plans[i].records, rest...)
	}
	return plans
}
