package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/config"
	"chorus/internal/gateway/handlers"
)

func TestCheckCharacters(t *testing.T) {
	retired := usableCharacter()
	retired.Character = "hunyuan"
	retired.Retired = true
	keyless := usableCharacter()
	keyless.Character = "deepseek"
	keyless.APIKey = ""

	r := checkCharacters(&config.Config{Characters: []config.CharacterConfig{usableCharacter(), retired, keyless}})
	assert.Equal(t, "ok", r.status)
	assert.Equal(t, "1 usable, 1 retired, 3 configured", r.message)

	r = checkCharacters(&config.Config{})
	assert.Equal(t, "error", r.status)
}

func TestCheckEndpoints(t *testing.T) {
	r := checkEndpoints(config.ToolsConfig{
		Endpoints:     map[string]string{"search": "http://127.0.0.1:9000"},
		SpeakEndpoint: "http://127.0.0.1:9100",
	})
	assert.Equal(t, "warning", r.status)
	assert.Contains(t, r.message, "1 tool endpoint(s)")
	assert.Contains(t, r.message, "[draw transcribe describe]")

	r = checkEndpoints(config.ToolsConfig{
		DrawEndpoint:       "a",
		SpeakEndpoint:      "b",
		TranscribeEndpoint: "c",
		DescribeEndpoint:   "d",
	})
	assert.Equal(t, "ok", r.status)
}

func TestCheckNATS_NotConfigured(t *testing.T) {
	assert.Equal(t, "ok", checkNATS(config.NATSConfig{}).status)
}

func TestCheckStorage(t *testing.T) {
	cliCtx := NewCLIContext(&config.Config{Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "chorus.db")}}, "", nil, false, false)
	defer cliCtx.Close()

	r := checkStorage(context.Background(), cliCtx)
	assert.Equal(t, "ok", r.status, r.message)
	assert.Equal(t, "sqlite", r.message)
}

func TestCheckServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		handlers.SendJSON(w, http.StatusOK, handlers.HealthResponse{Status: "ok", Version: "1.2.3", Uptime: 90, Characters: 4})
	}))
	defer srv.Close()

	cliCtx := NewCLIContext(&config.Config{}, "", nil, false, false)
	cliCtx.ServerURL = srv.URL

	r := checkServer(context.Background(), cliCtx)
	assert.Equal(t, "ok", r.status)
	assert.Equal(t, "1.2.3, up 1m30s, 4 character(s)", r.message)

	cliCtx.ServerURL = "http://127.0.0.1:1"
	assert.Equal(t, "warning", checkServer(context.Background(), cliCtx).status)
}

func TestPrintResults(t *testing.T) {
	tests := []struct {
		name    string
		results []checkResult
		want    string
	}{
		{"all ok", []checkResult{{"System", "ok", "fine"}}, "All checks passed"},
		{"warning", []checkResult{{"System", "ok", "fine"}, {"Server", "warning", "down"}}, "Some warnings"},
		{"error", []checkResult{{"Server", "warning", "down"}, {"Storage", "error", "broken"}}, "Some checks failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printResults(&out, tt.results)
			assert.Contains(t, out.String(), tt.want)
			assert.Equal(t, len(tt.results), strings.Count(out.String(), ": "))
		})
	}
}

func TestBaseURL(t *testing.T) {
	cliCtx := NewCLIContext(&config.Config{Gateway: config.GatewayConfig{Host: "0.0.0.0", Port: 9090}}, "", nil, false, false)
	assert.Equal(t, "http://127.0.0.1:9090", cliCtx.BaseURL())

	cliCtx.ServerURL = "http://chorus.test"
	assert.Equal(t, "http://chorus.test", cliCtx.BaseURL())
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t\tc", 10))
	assert.Equal(t, "一二三…", oneLine("一二三四五", 4))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "retired", status(handlers.CharacterView{Retired: true, Available: true}))
	assert.Equal(t, "available", status(handlers.CharacterView{Available: true}))
	assert.Equal(t, "unavailable", status(handlers.CharacterView{}))
}

func TestLocalCharacters(t *testing.T) {
	views := localCharacters([]config.CharacterConfig{usableCharacter()})
	require.Len(t, views, 1)
	assert.Equal(t, "kimi", views[0].Character)
	assert.True(t, views[0].Available)
}
