package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/jsonc"

	"chorus/internal/provider"
	"chorus/internal/tools"
)

var (
	callPrefixes = []string{"调用工具:", "調用工具:", "Call a tool:"}
	argsPrefixes = []string{"参数:", "參數:", "Arguments:"}
	funcPrefixes = []string{"function ", "function: "}
	fencePrefix  = []string{"```json", "```JSON"}
)

// Transform reshapes a raw response before it is handled. Tool calls the
// model wrote as text are turned into real ones and an <assistant> wrapper
// is removed; native tool calls pass through untouched. It reports whether
// resp changed.
func Transform(resp *provider.ChatResponse) bool {
	if resp.FinishReason != provider.FinishReasonStop {
		return false
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return false
	}

	for _, salvage := range []func(string) (string, string, bool){
		labelledCall,
		namedCall,
		fencedCall,
		drawCall,
	} {
		if name, args, ok := salvage(text); ok {
			fillToolCall(resp, name, args)
			return true
		}
	}
	return stripAssistantTag(resp, text)
}

func fillToolCall(resp *provider.ChatResponse, name, args string) {
	resp.Content = ""
	resp.ToolCalls = []provider.ToolCall{{
		ID:        "call_" + lo.RandomString(5, lo.AlphanumericCharset),
		Type:      "function",
		Name:      name,
		Arguments: args,
	}}
	resp.FinishReason = provider.FinishReasonToolCalls
}

func cutAfterAny(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if i := strings.Index(s, p); i >= 0 {
			return s[i+len(p):], true
		}
	}
	return "", false
}

func cutPrefixAny(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if after, ok := strings.CutPrefix(s, p); ok {
			return after, true
		}
	}
	return "", false
}

// splitName returns the tool name on the first line and the rest.
func splitName(s string) (string, string, bool) {
	name, rest, ok := strings.Cut(strings.TrimLeft(s, " \t"), "\n")
	name = strings.TrimSpace(name)
	if !ok || !tools.Known(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

// labelledCall matches
//
//	Call a tool: web_search
//	Arguments: {"q":"..."}
func labelledCall(text string) (string, string, bool) {
	rest, ok := cutAfterAny(text, callPrefixes)
	if !ok {
		return "", "", false
	}
	name, rest, ok := splitName(rest)
	if !ok {
		return "", "", false
	}
	after, ok := cutPrefixAny(rest, argsPrefixes)
	if !ok {
		return "", "", false
	}
	args, _, _ := strings.Cut(strings.TrimLeft(after, " \t"), "\n")
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		return "", "", false
	}
	return name, args, true
}

// namedCall matches {"name": "...", "parameters"|"arguments": ...}.
func namedCall(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return "", "", false
	}
	var obj struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
		Arguments  json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return "", "", false
	}
	raw := obj.Parameters
	if len(obj.Arguments) > 0 {
		raw = obj.Arguments
	}
	if !tools.Known(obj.Name) || len(raw) == 0 || string(raw) == "null" {
		return "", "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || !json.Valid([]byte(s)) {
			return "", "", false
		}
		return obj.Name, s, true
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", "", false
	}
	return obj.Name, compact.String(), true
}

// fencedCall matches
//
//	function draw_picture
//	```json
//	{"prompt": "..."}
//	```
func fencedCall(text string) (string, string, bool) {
	rest, ok := cutAfterAny(text, funcPrefixes)
	if !ok {
		return "", "", false
	}
	name, rest, ok := splitName(rest)
	if !ok {
		return "", "", false
	}
	body, ok := cutPrefixAny(rest, fencePrefix)
	if !ok {
		return "", "", false
	}
	body, ok = strings.CutSuffix(strings.TrimSpace(body), "```")
	if !ok {
		return "", "", false
	}
	args := jsonc.ToJSON([]byte(strings.TrimSpace(body)))
	if !json.Valid(args) {
		return "", "", false
	}
	return name, string(args), true
}

// drawCall matches a bare {"prompt": "...", "sizeType": "..."} object.
func drawCall(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return "", "", false
	}
	var args struct {
		Prompt   string `json:"prompt"`
		SizeType string `json:"sizeType"`
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text)), &args); err != nil {
		return "", "", false
	}
	if args.Prompt == "" || args.SizeType == "" {
		return "", "", false
	}
	return string(tools.DrawPicture), text, true
}

func stripAssistantTag(resp *provider.ChatResponse, text string) bool {
	changed := false
	if after, ok := strings.CutPrefix(text, "<assistant>"); ok {
		text = strings.TrimLeft(after, " \t\r\n")
		changed = true
	}
	if before, ok := strings.CutSuffix(text, "</assistant>"); ok {
		text = strings.TrimRight(before, " \t\r\n")
		changed = true
	}
	if changed {
		resp.Content = text
	}
	return changed
}
