package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chorus/internal/provider"
)

func TestChat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Vendor") != "on" {
			t.Errorf("default header missing")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"id":"req-9","model":"deepseek-reasoner","choices":[{"index":0,"finish_reason":"stop",
			"message":{"role":"assistant","content":"hi","reasoning_content":"thought"}}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	p := New(Config{Name: "deepseek", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "deepseek-reasoner",
		Headers: map[string]string{"X-Vendor": "on"}})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages:    []provider.Message{provider.TextMessage(provider.RoleUser, "hello")},
		Temperature: 0.6,
		MaxTokens:   1024,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Model != "deepseek-reasoner" || got.MaxTokens != 1024 || got.Temperature == nil || *got.Temperature != 0.6 {
		t.Errorf("request = %+v", got)
	}
	if resp.Content != "hi" || resp.Reasoning != "thought" || resp.ID != "req-9" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatMultipartAndTools(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"choices":[{"finish_reason":"tool_calls","message":{"content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"q\":\"go\"}"}}]}}]}`)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, StringifyToolParams: true})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "MiniMax-Text-01",
		Messages: []provider.Message{{
			Role:  provider.RoleUser,
			Parts: []provider.ContentPart{{Type: provider.PartImageURL, ImageURL: &provider.ImageURL{URL: "https://x/y.png"}}},
		}},
		Tools: []provider.Tool{{Type: "function", Function: provider.ToolFunction{
			Name: "web_search", Parameters: json.RawMessage(`{"type":"object"}`),
		}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs := raw["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	if content[0].(map[string]any)["type"] != "image_url" {
		t.Errorf("multipart content not sent: %v", content)
	}
	params := raw["tools"].([]any)[0].(map[string]any)["function"].(map[string]any)["parameters"]
	if params != `{"type":"object"}` {
		t.Errorf("parameters not stringified: %#v", params)
	}
	if resp.FinishReason != provider.FinishReasonToolCalls || len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, provider.IsRateLimited},
		{"vendor phrase", 400, `{"error":{"message":"Rate limit reached for requests"}}`, provider.IsRateLimited},
		{"context window", 400, `{"error":{"message":"maximum context length is 8192"}}`, provider.IsContextWindowExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Chat(context.Background(), provider.ChatRequest{Model: "m"})
			if err == nil || !tt.check(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: srv.URL}).Chat(ctx, provider.ChatRequest{Model: "m"})
	if !errors.Is(err, provider.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestStreamCollect(t *testing.T) {
	chunks := []string{
		`{"id":"r1","model":"m","choices":[{"delta":{"reasoning_content":"hmm"}}]}`,
		`{"id":"r1","model":"m","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"r1","model":"m","choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"id":"r1","model":"m","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString("data: " + c + "\n\n")
		}
		b.WriteString("data: [DONE]\n\n")
		fmt.Fprint(w, b.String())
	}))
	defer srv.Close()

	ctx := context.Background()
	events, err := New(Config{BaseURL: srv.URL}).Stream(ctx, provider.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	resp, err := provider.Collect(ctx, events)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "Hello" || resp.Reasoning != "hmm" || resp.FinishReason != "stop" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestModelsFallsBackToConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	models := New(Config{BaseURL: srv.URL, Model: "kimi-latest"}).Models()
	if len(models) != 1 || models[0] != "kimi-latest" {
		t.Errorf("Models() = %v", models)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	for in, want := range map[string]string{
		"https://api.x.com/v1":   "https://api.x.com",
		"https://api.x.com/v1/ ": "https://api.x.com",
		"http://localhost:8000":  "http://localhost:8000",
	} {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
