// Package directive recognizes human commands typed into the chat, such as
// kicking or summoning a character, clearing history or asking for the
// room status.
package directive

import (
	"strings"
	"unicode/utf8"
)

// Kind is the kind of a recognized command.
type Kind int

const (
	None Kind = iota
	Kick
	Add
	BotNotAvailable
	ClearHistory
	Continue
	GroupStatus
)

var kindNames = map[Kind]string{
	None:            "none",
	Kick:            "kick",
	Add:             "add",
	BotNotAvailable: "bot_not_available",
	ClearHistory:    "clear_history",
	Continue:        "continue",
	GroupStatus:     "group_status",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether the turn ends once the command has run. Only
// continue falls through to normal processing.
func (k Kind) Terminal() bool {
	return k != None && k != Continue
}

// Candidate is a character that commands may name.
type Candidate struct {
	Character string
	Name      string
	Alias     []string
}

func (c Candidate) matches(lower string) bool {
	if lower == strings.ToLower(c.Name) || lower == strings.ToLower(c.Character) {
		return true
	}
	for _, a := range c.Alias {
		if lower == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// Command is the result of classification.
type Command struct {
	Kind Kind
	// Character is the named character for kick, add and continue.
	Character string
	// BotName is the unsupported brand for BotNotAvailable.
	BotName string
}

// Prefix lists.
var (
	KickPrefixes = []string{"踢掉", "Kick", "Remove", "T调"}
	AddPrefixes  = []string{
		"召唤", "召喚", "Summon", "summon",
		"我要", "I want", "i want",
		"添加", "新增", "Add", "add",
		"呼叫", "Call", "call",
		"@", "呼唤", "呼喚",
	}
	ContinuePrefixes = []string{"继续", "繼續", "Continue"}
	ClearPhrases     = []string{
		"清空", "清空上文", "清空上下文", "清空历史", "清空歷史", "清空历史纪录", "清空歷史紀錄",
		"清除上文", "清除上下文", "清除历史", "清除歷史", "清除历史纪录", "清除歷史紀錄",
		"消除上文", "消除上下文", "消除历史", "消除歷史", "消除历史纪录", "消除歷史紀錄",
		"Clear chat", "Clear history", "Clear context",
	}
	StatusExact = []string{"AI", "额度", "額度"}
	StatusFuzzy = []string{
		"群聊状态", "查看群聊状态", "群聊有谁", "群聊还有谁", "群里还有谁",
		"群聊狀態", "檢視群聊狀態", "群組裡有誰", "群組還有誰", "群組中還有誰",
		"Status", "Group Status", "群状态", "状态",
	}
	// DefaultUnavailable are brands users ask for that are not offered.
	DefaultUnavailable = []string{"ChatGPT", "GPT", "豆包", "Claude"}
)

// Normalize trims text and turns '+' into spaces.
func Normalize(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), "+", " ")
}

// Classify maps text onto exactly one command. Checks run in a fixed order:
// kick, add, unavailable brand, clear, continue, status.
func Classify(text string, candidates []Candidate, unavailable []string) Command {
	t := Normalize(text)
	if t == "" {
		return Command{Kind: None}
	}

	if c, ok := commanded(KickPrefixes, t, candidates); ok {
		return Command{Kind: Kick, Character: c.Character}
	}
	if c, ok := commanded(AddPrefixes, t, candidates); ok {
		return Command{Kind: Add, Character: c.Character}
	}
	lower := strings.ToLower(t)
	for _, c := range candidates {
		if c.matches(lower) {
			return Command{Kind: Add, Character: c.Character}
		}
	}
	if name, ok := unavailableBrand(t, unavailable); ok {
		return Command{Kind: BotNotAvailable, BotName: name}
	}
	if matched(ClearPhrases, t, false) {
		return Command{Kind: ClearHistory}
	}
	if matched(ContinuePrefixes, t, false) {
		return Command{Kind: Continue}
	}
	if c, ok := commanded(ContinuePrefixes, t, candidates); ok {
		return Command{Kind: Continue, Character: c.Character}
	}
	if matched(StatusExact, t, false) || matched(StatusFuzzy, t, true) {
		return Command{Kind: GroupStatus}
	}
	return Command{Kind: None}
}

// cutPrefix returns the lower-cased text after the first prefix that text
// starts with, compared case-insensitively.
func cutPrefix(prefixes []string, text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range prefixes {
		lp := strings.ToLower(p)
		if strings.HasPrefix(lower, lp) {
			return strings.TrimSpace(lower[len(lp):]), true
		}
	}
	return "", false
}

func commanded(prefixes []string, text string, candidates []Candidate) (Candidate, bool) {
	rest, ok := cutPrefix(prefixes, text)
	if !ok {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if c.matches(rest) {
			return c, true
		}
	}
	return Candidate{}, false
}

func unavailableBrand(text string, unavailable []string) (string, bool) {
	rest, ok := cutPrefix(AddPrefixes, text)
	if !ok {
		return "", false
	}
	for _, name := range unavailable {
		if strings.ToLower(name) == rest {
			return name, true
		}
	}
	return "", false
}

// matched compares text against phrases case-insensitively. With fuzzy set,
// text may also start with a phrase and exceed it by at most two runes.
func matched(phrases []string, text string, fuzzy bool) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		lp := strings.ToLower(p)
		if lower == lp {
			return true
		}
		if !fuzzy || !strings.HasPrefix(lower, lp) {
			continue
		}
		if utf8.RuneCountInString(lower)-utf8.RuneCountInString(lp) <= 2 {
			return true
		}
	}
	return false
}
