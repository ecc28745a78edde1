package runner

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/pkg/logger"
)

const (
	// stalenessWindow is how many records the staleness check reads.
	stalenessWindow = 10
	// typingQuiet suppresses the typing indicator while the user is still
	// sending messages.
	typingQuiet = 15 * time.Second
)

// job is one character's share of a turn.
type job struct {
	character string
	rc        chat.RunContext
}

// orchestrate fans a normal turn out to the room's available characters.
// quick skips the random wait.
func (e *Engine) orchestrate(ctx context.Context, rc *chat.RunContext, quick bool) *Turn {
	turn := &Turn{RoomID: rc.Room.ID, Outcome: OutcomeNoReply}
	characters := lo.Filter(rc.Room.Characters, func(c string, _ int) bool {
		return e.registry.IsAvailable(c)
	})
	if len(characters) == 0 {
		logger.Warn().Str("room", rc.Room.ID).Msg("runner: no available characters in the room")
		return turn
	}

	// 1. 随机等待，期间有新消息则放弃本轮
	if d := e.delay(characters, quick || rc.VoiceMode); d > 0 {
		if !e.sleep(ctx, d) {
			return turn
		}
		if !e.current(ctx, rc) {
			turn.Outcome = OutcomeStale
			return turn
		}
	}

	// 2. 压缩历史
	if e.compactor != nil && e.compactor.NeedsCompaction(rc.Records) {
		window, err := e.compactor.Compact(ctx, rc)
		if err != nil {
			logger.Warn().Err(err).Str("room", rc.Room.ID).Msg("runner: compaction skipped")
		} else {
			rc.Records = window
		}
		if !e.current(ctx, rc) {
			turn.Outcome = OutcomeStale
			return turn
		}
	}

	// 3. 并发派发，每个角色持有自己的副本
	jobs := make([]job, 0, len(characters))
	for _, c := range characters {
		jobs = append(jobs, job{character: c, rc: rc.Clone()})
	}
	if !rc.VoiceMode {
		e.typing(ctx, rc)
	}
	results := e.fanOut(ctx, jobs)
	turn.Results = lo.Compact(results)

	// 4. 汇总
	var (
		succeeded, usedTool, usedVoice bool
		logs                           []chat.RunLog
	)
	for _, res := range turn.Results {
		if !res.Succeeded() {
			continue
		}
		succeeded = true
		usedTool = usedTool || res.UsedTool
		usedVoice = usedVoice || res.VoiceReplied
		logs = append(logs, res.Logs...)
	}
	if !succeeded {
		if len(turn.Results) > 0 && lo.EveryBy(turn.Results, func(r *chat.RunResult) bool { return r.Status == chat.StatusHasNewMsg }) {
			turn.Outcome = OutcomeStale
		}
		return turn
	}
	turn.Outcome = OutcomeReplied

	// 5. 额度、语音提示与兜底菜单
	count := e.addQuota(ctx, rc.User, rc.Room)
	if !e.hasQuota(rc.User) {
		e.warnQuota(ctx, rc.User, rc.Room)
		return turn
	}
	if usedVoice && rc.Room.VoicePreference == "" {
		e.voiceHello(ctx, rc)
		return turn
	}
	if len(logs) > 0 || (count%3 == 2 && !usedTool) {
		e.fallbackMenu(ctx, rc, results, logs)
	}
	return turn
}

// fanOut runs every job concurrently and waits for all of them. A failed
// character leaves a nil result; it never affects its siblings.
func (e *Engine) fanOut(ctx context.Context, jobs []job) []*chat.RunResult {
	results := make([]*chat.RunResult, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			rc := j.rc
			res, err := e.dispatcher.Dispatch(ctx, &rc, j.character)
			if err != nil {
				logger.Warn().Err(err).
					Str("room", rc.Room.ID).
					Str("character", j.character).
					Bool("continue", rc.Continue).
					Msg("runner: character did not reply")
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// delay picks the random wait before dispatching. Turns with a reasoning
// character skip it.
func (e *Engine) delay(characters []string, quick bool) time.Duration {
	if quick || e.config.MaxDelay <= 0 {
		return 0
	}
	reasoning := lo.SomeBy(characters, func(c string) bool {
		return lo.SomeBy(e.registry.Profiles(c), character.Profile.IsReasoning)
	})
	if reasoning {
		return 0
	}
	span := e.config.MaxDelay - e.config.MinDelay
	if span <= 0 {
		return e.config.MinDelay
	}
	return e.config.MinDelay + time.Duration(rand.Int64N(int64(span)+1))
}

// current reports whether the trigger is still the newest user message.
func (e *Engine) current(ctx context.Context, rc *chat.RunContext) bool {
	if rc.Trigger == nil {
		return true
	}
	records, err := e.store.LatestRecords(ctx, rc.Room.ID, stalenessWindow)
	if err != nil {
		logger.Warn().Err(err).Str("room", rc.Room.ID).Msg("runner: staleness check failed")
		return false
	}
	for _, r := range records {
		if r.Kind == chat.KindUser {
			return r.ID == rc.Trigger.ID
		}
	}
	return false
}

// typing shows the typing indicator unless the previous message is a user
// message from the last few seconds, which already triggered one.
func (e *Engine) typing(ctx context.Context, rc *chat.RunContext) {
	if recs := rc.Records; len(recs) >= 3 {
		prev := recs[1]
		if prev.Kind == chat.KindUser && e.now().Sub(prev.CreatedAt) < typingQuiet {
			return
		}
	}
	if err := e.notifier.SendTyping(ctx, rc.Target()); err != nil {
		logger.Warn().Err(err).Str("room", rc.Room.ID).Msg("runner: send typing failed")
	}
}
