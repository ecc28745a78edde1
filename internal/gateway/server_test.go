package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/config"
	"chorus/internal/cron"
	"chorus/internal/gateway/websocket"
	"chorus/internal/provider"
	"chorus/internal/runner"
	"chorus/internal/storage/memory"
)

type stubEngine struct{}

func (stubEngine) HandleMessage(_ context.Context, entry chat.Entry) (*runner.Turn, error) {
	return &runner.Turn{RoomID: "room-" + entry.UserID, Outcome: runner.OutcomeReplied}, nil
}

func (stubEngine) Continue(_ context.Context, roomID, _ string) (*runner.Turn, error) {
	return &runner.Turn{RoomID: roomID, Outcome: runner.OutcomeNothingToContinue}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New()
	registry := character.NewRegistry([]character.Profile{
		{Character: "kimi", Name: "Kimi", Model: "moonshot-v1", BaseURL: "https://api.moonshot.test/v1", APIKey: "sk-test"},
	}, func(character.Profile) (provider.Provider, error) { return nil, errors.New("offline") })
	sweeper, err := cron.NewSweeper(store, nil, cron.Config{Spec: "@every 1h"})
	require.NoError(t, err)

	s := NewServer(testConfig(), Deps{
		Engine:   stubEngine{},
		Records:  store,
		Registry: registry,
		Sweeper:  sweeper,
		Version:  "v1.0.0-test",
	})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{http.MethodGet, "/api/v1/characters", "", http.StatusOK},
		{http.MethodPost, "/api/v1/messages", `{"user_id":"u1","text":"hi"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/rooms/r1/continue", "", http.StatusOK},
		{http.MethodGet, "/api/v1/rooms/r1/records", "", http.StatusOK},
		{http.MethodGet, "/api/v1/cron", "", http.StatusOK},
		{http.MethodPost, "/api/v1/cron/run", "", http.StatusOK},
		{http.MethodGet, "/api/v1/messages", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "v1.0.0-test", resp["version"])
	assert.EqualValues(t, 1, resp["characters"])
}

func TestServerMiddlewareChain(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/messages", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServerWithoutOptionalDeps(t *testing.T) {
	s := NewServer(testConfig(), Deps{Version: "dev"})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	for path, want := range map[string]int{
		"/api/v1/health":     http.StatusOK,
		"/api/v1/characters": http.StatusNotFound,
		"/api/v1/cron":       http.StatusNotFound,
	} {
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestServerHub(t *testing.T) {
	hub := websocket.NewHub()
	s := NewServer(testConfig(), Deps{Hub: hub})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.Same(t, hub, s.Hub())
}

func TestServerShutdown(t *testing.T) {
	s := NewServer(testConfig(), Deps{})

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
