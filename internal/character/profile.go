// Package character describes the configured AI characters and the backend
// profiles that serve them.
package character

import (
	"strings"
	"time"

	"chorus/internal/config"
)

// Ability is a capability flag of a backend profile.
type Ability string

const (
	AbilityChat        Ability = "chat"
	AbilityToolUse     Ability = "tool_use"
	AbilityImageToText Ability = "image_to_text"
	AbilityInputAudio  Ability = "input_audio"
	AbilityReasoning   Ability = "reasoning"
)

// Meta carries vendor quirks consulted by the prompt builder.
type Meta struct {
	// OnlyOneSystemMsg restricts the prompt to a single system turn; summary
	// and background records are sent as user turns instead.
	OnlyOneSystemMsg bool
	// ThinkingInContent means the backend returns reasoning wrapped in
	// <think> tags inside the content.
	ThinkingInContent bool
	// StrictAlternation enables the role alternation passes.
	StrictAlternation bool
	DefaultHeaders    map[string]string
}

// Traits are the per-character behaviour switches.
type Traits struct {
	Temperature         float64
	Timeout             time.Duration
	RetryWithSecondary  bool
	AppendContinueTurn  bool
	StringifyToolParams bool
	InsertAckAfterTool  bool
	AudioFirstTurnOnly  bool
	SystemPrompt        string
}

// Profile is one immutable backend configuration of a character.
type Profile struct {
	Character         string
	Name              string
	Alias             []string
	Model             string
	Provider          string
	SecondaryProvider string
	BaseURL           string
	APIKey            string
	Abilities         []Ability
	WindowK           int
	Priority          int
	Retired           bool
	Speaks            bool
	Stream            bool
	Meta              Meta
	Traits            Traits
}

// FromConfig converts a configured character entry into a Profile.
func FromConfig(c config.CharacterConfig) Profile {
	abilities := make([]Ability, 0, len(c.Abilities))
	for _, a := range c.Abilities {
		abilities = append(abilities, Ability(strings.ToLower(strings.TrimSpace(a))))
	}
	if len(abilities) == 0 {
		abilities = append(abilities, AbilityChat)
	}
	name := c.Name
	if name == "" {
		name = c.Character
	}
	return Profile{
		Character:         c.Character,
		Name:              name,
		Alias:             append([]string(nil), c.Alias...),
		Model:             c.Model,
		Provider:          c.Provider,
		SecondaryProvider: c.SecondaryProvider,
		BaseURL:           c.BaseURL,
		APIKey:            c.ResolveAPIKey(),
		Abilities:         abilities,
		WindowK:           c.WindowK,
		Priority:          c.Priority,
		Retired:           c.Retired,
		Speaks:            c.Speaks,
		Stream:            c.Stream,
		Meta: Meta{
			OnlyOneSystemMsg:  c.OnlyOneSystemMsg,
			ThinkingInContent: c.ThinkingInContent,
			StrictAlternation: c.StrictAlternation,
			DefaultHeaders:    c.DefaultHeaders,
		},
		Traits: Traits{
			Temperature:         c.Traits.Temperature,
			Timeout:             c.Traits.Timeout,
			RetryWithSecondary:  c.Traits.RetryWithSecondary,
			AppendContinueTurn:  c.Traits.AppendContinueTurn,
			StringifyToolParams: c.Traits.StringifyToolParams,
			InsertAckAfterTool:  c.Traits.InsertAckAfterTool,
			AudioFirstTurnOnly:  c.Traits.AudioFirstTurnOnly,
			SystemPrompt:        c.Traits.SystemPrompt,
		},
	}
}

// Has reports whether the profile declares ability a.
func (p Profile) Has(a Ability) bool {
	for _, have := range p.Abilities {
		if have == a {
			return true
		}
	}
	return false
}

// IsReasoning reports whether the profile is a reasoning model.
func (p Profile) IsReasoning() bool {
	return p.Has(AbilityReasoning)
}

// Usable reports whether the profile can be called at all: it is not
// retired, names a model and has credentials or a keyless local endpoint.
func (p Profile) Usable() bool {
	if p.Retired || p.Model == "" || p.BaseURL == "" {
		return false
	}
	if p.APIKey != "" {
		return true
	}
	return isLocalEndpoint(p.BaseURL)
}

func isLocalEndpoint(base string) bool {
	b := strings.ToLower(base)
	return strings.Contains(b, "://localhost") || strings.Contains(b, "://127.0.0.1")
}

// Key identifies the backend connection of the profile.
func (p Profile) Key() string {
	return p.Character + "|" + p.Provider + "|" + p.Model + "|" + p.BaseURL
}

// Matches reports whether text names this character by display name, alias
// or character id. Comparison is case-insensitive and exact.
func (p Profile) Matches(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	if t == strings.ToLower(p.Name) || t == strings.ToLower(p.Character) {
		return true
	}
	for _, a := range p.Alias {
		if t == strings.ToLower(a) {
			return true
		}
	}
	return false
}

var secondaryDisplay = map[string]string{
	"siliconflow":   "北京硅基流动",
	"gitee-ai":      "Gitee AI",
	"qiniu":         "七牛云",
	"tencent-lkeap": "腾讯云",
	"suanleme":      "算了么",
}

var providerDisplay = map[string]string{
	"aliyun-bailian":  "阿里云",
	"baichuan":        "北京百川智能",
	"deepseek":        "杭州深度求索",
	"minimax":         "上海稀宇科技",
	"moonshot":        "北京月之暗面",
	"stepfun":         "上海阶跃星辰",
	"tencent-hunyuan": "腾讯",
	"zero-one":        "北京零一万物",
	"zhipu":           "北京智谱华章",
}

// DisplayProvider returns the human readable vendor shown in the system
// prompt. A secondary (reseller) provider wins over the model vendor.
func (p Profile) DisplayProvider() string {
	if name, ok := secondaryDisplay[p.SecondaryProvider]; ok {
		return name
	}
	if name, ok := providerDisplay[p.Provider]; ok {
		return name
	}
	if p.SecondaryProvider != "" {
		return p.SecondaryProvider
	}
	return p.Provider
}
