package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"chorus/internal/chat"
	"chorus/pkg/logger"
)

// RoomSource is the part of the store a sweep reads and writes.
type RoomSource interface {
	DueRooms(ctx context.Context, now time.Time, limit int) ([]*chat.Room, error)
	UpdateRoomSchedule(ctx context.Context, roomID string, at time.Time) error
	GetUser(ctx context.Context, id string) (*chat.User, error)
}

// RoomCompactor compresses one room's history.
type RoomCompactor interface {
	CompactRoom(ctx context.Context, room *chat.Room, user *chat.User) (bool, error)
}

// Config configures the sweeper.
type Config struct {
	// Spec is a cron expression, with or without a seconds field, or a
	// descriptor such as "@every 5m".
	Spec string
	// Location for time zone handling. Default is time.Local.
	Location *time.Location
	// Batch caps the rooms handled per sweep. Default is 20.
	Batch int
	// Retry controls retries of a failing room within one sweep.
	Retry RetryPolicy
	// Timeout bounds a whole sweep. Default is 10 minutes.
	Timeout time.Duration
}

// Sweeper compresses rooms whose background compression hint is due and
// clears the hint afterwards.
type Sweeper struct {
	cron      *cron.Cron
	entry     cron.EntryID
	store     RoomSource
	compactor RoomCompactor
	config    Config
	history   *History

	mu       sync.Mutex
	running  bool
	sweeping atomic.Bool
	wg       sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a schedule expression.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, &InvalidScheduleError{Schedule: spec, Message: err.Error()}
	}
	return sched, nil
}

// NewSweeper creates a sweeper. It does not schedule anything until Start.
func NewSweeper(store RoomSource, compactor RoomCompactor, config Config) (*Sweeper, error) {
	if _, err := ParseSpec(config.Spec); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Batch <= 0 {
		config.Batch = 20
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	return &Sweeper{
		cron:      cron.New(cron.WithParser(parser), cron.WithLocation(config.Location)),
		store:     store,
		compactor: compactor,
		config:    config,
		history:   NewHistory(0),
		now:       time.Now,
		sleep:     sleep,
	}, nil
}

// History returns the recorded sweep reports.
func (s *Sweeper) History() *History {
	return s.history
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	id, err := s.cron.AddFunc(s.config.Spec, s.tick)
	if err != nil {
		return &InvalidScheduleError{Schedule: s.config.Spec, Message: err.Error()}
	}
	s.entry = id
	s.cron.Start()
	s.running = true

	logger.Info().Str("spec", s.config.Spec).Int("batch", s.config.Batch).Msg("cron: sweeper started")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	ctx := s.cron.Stop()
	s.cron.Remove(s.entry)
	s.running = false
	s.mu.Unlock()

	<-ctx.Done()
	s.wg.Wait()
	logger.Info().Msg("cron: sweeper stopped")
	return nil
}

// Next returns the next scheduled sweep, or the zero time when stopped.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Sweeper) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		logger.Error().Err(err).Msg("cron: sweep failed")
	}
}

// RunOnce sweeps one batch of due rooms now. Overlapping calls return
// ErrSweepInProgress.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return Report{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	report := Report{StartedAt: s.now()}
	rooms, err := s.store.DueRooms(ctx, report.StartedAt, s.config.Batch)
	if err != nil {
		return report, fmt.Errorf("due rooms: %w", err)
	}
	report.Due = len(rooms)

	for _, room := range rooms {
		if ctx.Err() != nil {
			break
		}
		compacted, err := s.compact(ctx, room)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			logger.Warn().Err(err).Str("room", room.ID).Msg("cron: room compaction failed")
		case compacted:
			report.Compacted++
		default:
			report.Skipped++
		}
		// The hint is cleared even on failure; the next turn past the
		// threshold schedules the room again.
		if err := s.store.UpdateRoomSchedule(ctx, room.ID, time.Time{}); err != nil {
			logger.Warn().Err(err).Str("room", room.ID).Msg("cron: clear schedule failed")
		}
	}

	report.FinishedAt = s.now()
	s.history.Add(report)
	if report.Due > 0 {
		logger.Info().
			Int("due", report.Due).
			Int("compacted", report.Compacted).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Dur("took", report.Duration()).
			Msg("cron: sweep finished")
	}
	return report, ctx.Err()
}

func (s *Sweeper) compact(ctx context.Context, room *chat.Room) (bool, error) {
	user, err := s.store.GetUser(ctx, room.OwnerID)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		user = &chat.User{ID: room.OwnerID}
	case err != nil:
		return false, fmt.Errorf("get user: %w", err)
	}

	for attempt := 0; ; attempt++ {
		compacted, err := s.compactor.CompactRoom(ctx, room, user)
		if err == nil {
			return compacted, nil
		}
		if !s.config.Retry.ShouldRetry(attempt, err) || !s.sleep(ctx, s.config.Retry.NextDelay(attempt)) {
			return false, &CompactionFailedError{RoomID: room.ID, Attempts: attempt + 1, Cause: err}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
