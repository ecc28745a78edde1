package dispatch

import (
	"regexp"
	"strings"

	"chorus/internal/character"
	"chorus/internal/provider"
)

var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// Openers that reasoning models without a reasoning field tend to start
// their visible deliberation with.
var deliberationOpeners = []string{"Alright, ", "好的，", "嗯，", "好，", "好吧，", "用户问"}

// Normalize splits resp into reply text and reasoning for p. A response
// with only reasoning is marked as truncated. It returns ErrEmptyResponse
// when there is nothing to show.
func Normalize(resp *provider.ChatResponse, p character.Profile) error {
	content, reasoning := resp.Content, resp.Reasoning
	if content == "" {
		if reasoning == "" {
			return ErrEmptyResponse
		}
		markTruncated(resp)
	}

	if reasoning == "" && p.IsReasoning() {
		content, reasoning = splitThinking(resp, p, content)
	}

	resp.Content = strings.TrimSpace(content)
	resp.Reasoning = strings.TrimSpace(reasoning)
	if resp.Content == "" && resp.Reasoning == "" {
		return ErrEmptyResponse
	}
	return nil
}

func splitThinking(resp *provider.ChatResponse, p character.Profile, content string) (string, string) {
	if loc := thinkPattern.FindStringSubmatchIndex(content); loc != nil {
		return content[loc[1]:], content[loc[2]:loc[3]]
	}
	if after, ok := strings.CutPrefix(content, "<think>"); ok {
		markTruncated(resp)
		return "", after
	}
	if resp.FinishReason == provider.FinishReasonLength && !p.Meta.ThinkingInContent {
		for _, opener := range deliberationOpeners {
			if strings.HasPrefix(content, opener) {
				return "", content
			}
		}
	}
	return content, ""
}

func markTruncated(resp *provider.ChatResponse) {
	if resp.FinishReason == provider.FinishReasonStop {
		resp.FinishReason = provider.FinishReasonLength
	}
}

// DropLastLine removes the last line of a truncated reply, which is
// usually cut mid-sentence. Replies shorter than five lines are kept.
func DropLastLine(resp *provider.ChatResponse) {
	if resp.FinishReason != provider.FinishReasonLength || resp.Content == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(resp.Content, " \t\r\n"), "\n")
	if len(lines) < 5 {
		return
	}
	resp.Content = strings.Join(lines[:len(lines)-1], "\n")
}
