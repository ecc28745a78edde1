package cron

import (
	"slices"
	"sync"
	"time"
)

// Report summarizes one sweep.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Due        int       `json:"due"`
	Compacted  int       `json:"compacted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
}

// Duration returns how long the sweep ran.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DefaultHistorySize is the number of reports kept by NewHistory(0).
const DefaultHistorySize = 50

// History keeps the most recent sweep reports in memory.
type History struct {
	mu      sync.RWMutex
	reports []Report
	size    int
}

// NewHistory creates a history holding at most size reports.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add appends a report, dropping the oldest one when full.
func (h *History) Add(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
	if over := len(h.reports) - h.size; over > 0 {
		h.reports = slices.Delete(h.reports, 0, over)
	}
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []Report {
	h.mu.RLock()
	out := slices.Clone(h.reports)
	h.mu.RUnlock()

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Last returns the newest report.
func (h *History) Last() (Report, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.reports) == 0 {
		return Report{}, false
	}
	return h.reports[len(h.reports)-1], true
}
