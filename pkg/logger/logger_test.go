package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chorus.log")
	defer func() { _ = Close() }()

	if err := Init(LogConfig{Level: "debug", Format: "json", File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Component("dispatch").Info().Str("character", "kimi").Msg("ai call")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), `"component":"dispatch"`) {
		t.Errorf("log missing component field: %s", content)
	}
}

func TestInitRejectsBadFile(t *testing.T) {
	defer func() { _ = Close() }()
	if err := Init(LogConfig{File: "/nonexistent/dir/chorus.log"}); err == nil {
		t.Error("expected error for unwritable log path")
	}
}

func TestSetOutputAndWith(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	SetOutput(&buf)

	With(map[string]any{"room": "r1"}).Warn().Msg("stale")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse entry: %v", err)
	}
	if entry["room"] != "r1" || entry["level"] != "warn" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestGetBeforeInit(t *testing.T) {
	mu.Lock()
	started = false
	mu.Unlock()

	if Get() == nil {
		t.Fatal("Get returned nil before Init")
	}
}
