// Package cron runs the background compression sweep on a robfig/cron
// schedule.
package cron

import (
	"errors"
	"fmt"
)

// Sentinel errors for sweep operations.
var (
	// ErrSchedulerNotRunning indicates Stop was called on an idle sweeper.
	ErrSchedulerNotRunning = errors.New("cron: scheduler not running")

	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("cron: scheduler already running")

	// ErrSweepInProgress indicates a sweep was requested while another one
	// is still working through its batch.
	ErrSweepInProgress = errors.New("cron: sweep in progress")
)

// InvalidScheduleError indicates an invalid cron schedule expression.
type InvalidScheduleError struct {
	Schedule string
	Message  string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("cron: invalid schedule '%s': %s", e.Schedule, e.Message)
}

// Is implements errors.Is for InvalidScheduleError.
func (e *InvalidScheduleError) Is(target error) bool {
	_, ok := target.(*InvalidScheduleError)
	return ok
}

// ErrInvalidSchedule is a sentinel for errors.Is matching.
var ErrInvalidSchedule = &InvalidScheduleError{}

// CompactionFailedError is a room whose compression kept failing.
type CompactionFailedError struct {
	RoomID   string
	Attempts int
	Cause    error
}

func (e *CompactionFailedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("cron: room '%s' compaction failed after %d attempts: %v", e.RoomID, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("cron: room '%s' compaction failed: %v", e.RoomID, e.Cause)
}

func (e *CompactionFailedError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for CompactionFailedError.
func (e *CompactionFailedError) Is(target error) bool {
	_, ok := target.(*CompactionFailedError)
	return ok
}

// ErrCompactionFailed is a sentinel for errors.Is matching.
var ErrCompactionFailed = &CompactionFailedError{}
