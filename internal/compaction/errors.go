// Package compaction replaces the oldest part of a long room history with
// a model-written summary record.
package compaction

import "errors"

// Compaction errors.
var (
	// ErrSummaryFailed indicates that the summary backend returned no text.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrNoProvider indicates that no usable profile serves the summarizer.
	ErrNoProvider = errors.New("compaction: summarizer not configured")

	// ErrMessagesTooShort indicates that there are not enough records to compact.
	ErrMessagesTooShort = errors.New("compaction: not enough records to compact")
)
