package runner

import (
	"fmt"
	"time"
)

// Config holds configuration for the engine.
type Config struct {
	// Locale is used for users that have none.
	// Default is zh-Hans.
	Locale string `json:"locale"`

	// MaxCharacters bounds room membership.
	// Default is 3.
	MaxCharacters int `json:"max_characters"`

	// MaxInputRunes is the longest text message accepted.
	// Default is 3000.
	MaxInputRunes int `json:"max_input_runes"`

	// WindowRecords is how many records a normal turn reads.
	// Default is 40.
	WindowRecords int `json:"window_records"`

	// ContinueWindow is how many records a continue command scans.
	// Default is 16.
	ContinueWindow int `json:"continue_window"`

	// MinDelay and MaxDelay bound the random wait before dispatching,
	// during which a newer message makes the turn stale. Zero MaxDelay
	// disables the wait.
	MinDelay time.Duration `json:"min_delay"`
	MaxDelay time.Duration `json:"max_delay"`

	// MenuDelay is the pause before the fallback menu.
	// Default is 900ms.
	MenuDelay time.Duration `json:"menu_delay"`

	// VoiceHelloDelay is the pause before the voice reply tip.
	// Default is 2.5s.
	VoiceHelloDelay time.Duration `json:"voice_hello_delay"`

	// FreeQuota and MemberQuota are the conversation ceilings of free users
	// and subscribers.
	FreeQuota   int `json:"free_quota"`
	MemberQuota int `json:"member_quota"`

	// SystemTwoMin is the conversation count from which rooms get a
	// background compression hint.
	SystemTwoMin int `json:"system_two_min"`

	// DefaultVoice is stored as the room's voice after the first voice turn.
	DefaultVoice string `json:"default_voice"`

	// RenewLink is offered when the quota is used up.
	RenewLink string `json:"renew_link"`

	// LinkBase is the site that hosts the AI console.
	LinkBase string `json:"link_base"`

	// Unavailable are brand names that answer "not available".
	Unavailable []string `json:"unavailable,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Locale:          "zh-Hans",
		MaxCharacters:   3,
		MaxInputRunes:   3000,
		WindowRecords:   40,
		ContinueWindow:  16,
		MinDelay:        2 * time.Second,
		MaxDelay:        4 * time.Second,
		MenuDelay:       900 * time.Millisecond,
		VoiceHelloDelay: 2500 * time.Millisecond,
		FreeQuota:       10,
		MemberQuota:     200,
		SystemTwoMin:    5,
		DefaultVoice:    "female",
	}
}

// WithDelays returns a copy of the config with the specified wait bounds.
func (c Config) WithDelays(lo, hi time.Duration) Config {
	c.MinDelay = lo
	c.MaxDelay = hi
	return c
}

// WithQuota returns a copy of the config with the specified ceilings.
func (c Config) WithQuota(free, member int) Config {
	c.FreeQuota = free
	c.MemberQuota = member
	return c
}

// WithLinks returns a copy of the config with the specified links.
func (c Config) WithLinks(base, renew string) Config {
	c.LinkBase = base
	c.RenewLink = renew
	return c
}

// WithUnavailable returns a copy of the config with the specified brands.
func (c Config) WithUnavailable(names []string) Config {
	c.Unavailable = names
	return c
}

// Validate returns an error if the configuration is invalid.
func (c Config) Validate() error {
	switch {
	case c.MaxCharacters <= 0:
		return fmt.Errorf("%w: max_characters must be positive", ErrInvalidConfig)
	case c.MaxInputRunes <= 0:
		return fmt.Errorf("%w: max_input_runes must be positive", ErrInvalidConfig)
	case c.WindowRecords <= 0:
		return fmt.Errorf("%w: window_records must be positive", ErrInvalidConfig)
	case c.ContinueWindow < 2:
		return fmt.Errorf("%w: continue_window must be at least 2", ErrInvalidConfig)
	case c.MinDelay < 0 || (c.MaxDelay != 0 && c.MaxDelay < c.MinDelay):
		return fmt.Errorf("%w: delay bounds %s..%s", ErrInvalidConfig, c.MinDelay, c.MaxDelay)
	case c.FreeQuota < 0 || c.MemberQuota < 0:
		return fmt.Errorf("%w: quota must not be negative", ErrInvalidConfig)
	}
	return nil
}
