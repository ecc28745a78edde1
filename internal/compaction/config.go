package compaction

import (
	"fmt"
	"strings"
	"time"
)

// PrefixMode selects how the summary opener is sent to the backend.
type PrefixMode string

const (
	// PrefixNone sends no opener.
	PrefixNone PrefixMode = "none"
	// PrefixAssistant sends the opener as an assistant turn with prefix:true.
	PrefixAssistant PrefixMode = "prefix"
	// PrefixPartial sends the opener as an assistant turn with partial:true.
	PrefixPartial PrefixMode = "partial"
)

// ParsePrefixMode accepts the configured mode names; empty means none.
func ParsePrefixMode(s string) (PrefixMode, error) {
	switch m := PrefixMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", PrefixNone:
		return PrefixNone, nil
	case PrefixAssistant, PrefixPartial:
		return m, nil
	}
	return "", fmt.Errorf("compaction: unknown prefix mode %q", s)
}

// Config holds configuration for history compaction.
type Config struct {
	// Character is the character whose primary profile writes summaries.
	Character string

	// PrefixMode selects the summary opener.
	// Default: none
	PrefixMode PrefixMode

	// Timeout bounds one summary call.
	// Default: 59s
	Timeout time.Duration

	// SummaryMaxTokens is the maximum tokens for a summary.
	// Default: 1200
	SummaryMaxTokens int

	// WindowRecords is how many records CompactRoom reads.
	// Default: 40
	WindowRecords int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		PrefixMode:       PrefixNone,
		Timeout:          59 * time.Second,
		SummaryMaxTokens: 1200,
		WindowRecords:    40,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PrefixMode == "" {
		c.PrefixMode = def.PrefixMode
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = def.SummaryMaxTokens
	}
	if c.WindowRecords <= 0 {
		c.WindowRecords = def.WindowRecords
	}
	return c
}
