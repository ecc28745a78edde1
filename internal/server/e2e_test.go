package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/config"
	"chorus/internal/gateway/handlers"
	"chorus/internal/gateway/websocket"
	"chorus/internal/provider"
	"chorus/internal/runner"
)

// echoProvider answers every completion with the same greeting.
type echoProvider struct{}

func (echoProvider) Name() string     { return "echo" }
func (echoProvider) Models() []string { return []string{"moonshot-v1"} }

func (echoProvider) Chat(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{
		ID:           "req-e2e",
		Content:      "Hello from Kimi",
		FinishReason: provider.FinishReasonStop,
		Usage:        &provider.Usage{PromptTokens: 30, CompletionTokens: 4, TotalTokens: 34},
	}, nil
}

func (echoProvider) Stream(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, errors.New("not implemented")
}

type testEnv struct {
	server  *Server
	baseURL string
}

// newTestEnv starts the whole stack over sqlite with the echo backend.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Cron.Enabled = false
	cfg.Engine.MinDelay, cfg.Engine.MaxDelay = 0, time.Millisecond
	cfg.Storage = config.StorageConfig{Path: filepath.Join(t.TempDir(), "chorus.db")}

	s, err := NewServer(ServerConfig{
		Config: cfg,
		Logger: zerolog.Nop(),
		Connector: func(character.Profile) (provider.Provider, error) {
			return echoProvider{}, nil
		},
	})
	require.NoError(t, err)

	hub := s.Gateway().Hub()
	go hub.Run()
	srv := httptest.NewServer(s.Gateway().Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		_ = s.Stop(context.Background())
	})
	return &testEnv{server: s, baseURL: srv.URL}
}

// makeRequest sends body as JSON and decodes the answer into out.
func (e *testEnv) makeRequest(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestE2E_MessageTurn(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws"
	ws, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(websocket.WSMessage{Type: websocket.TypeSubscribe, User: "u-e2e"}))
	hub := env.server.Gateway().Hub()
	require.Eventually(t, func() bool { return hub.Subscribers(websocket.UserTopic("u-e2e")) == 1 }, 2*time.Second, 10*time.Millisecond)

	var turn runner.Turn
	status := env.makeRequest(t, http.MethodPost, "/api/v1/messages", chat.Entry{UserID: "u-e2e", Text: "hello everyone"}, &turn)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, runner.OutcomeReplied, turn.Outcome)
	require.NotEmpty(t, turn.RoomID)
	require.Len(t, turn.Results, 1)
	assert.Equal(t, "kimi", turn.Results[0].Character)

	// The reply reaches the subscribed socket.
	var texts []string
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(texts) == 0 {
		var msg websocket.WSMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type != websocket.TypeNotify {
			continue
		}
		var n struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &n))
		if n.Kind == "text" {
			texts = append(texts, n.Text)
		}
	}
	assert.Equal(t, []string{"Hello from Kimi"}, texts)

	var records handlers.RecordsResponse
	status = env.makeRequest(t, http.MethodGet, "/api/v1/rooms/"+turn.RoomID+"/records", nil, &records)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, records.Records, 2)
	assert.Equal(t, chat.KindAssistant, records.Records[0].Kind)
	assert.Equal(t, "Hello from Kimi", records.Records[0].Text)
	assert.Equal(t, "req-e2e", records.Records[0].RequestID)
	assert.Equal(t, chat.KindUser, records.Records[1].Kind)
	assert.Equal(t, turn.RecordID, records.Records[1].ID)

	var cont runner.Turn
	status = env.makeRequest(t, http.MethodPost, "/api/v1/rooms/"+turn.RoomID+"/continue", nil, &cont)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, runner.OutcomeNothingToContinue, cont.Outcome)
}

func TestE2E_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing user", http.MethodPost, "/api/v1/messages", chat.Entry{Text: "hi"}, http.StatusBadRequest, handlers.ErrCodeInvalidRequest},
		{"empty text", http.MethodPost, "/api/v1/messages", chat.Entry{UserID: "u1", Text: "  "}, http.StatusBadRequest, handlers.ErrCodeInvalidRequest},
		{"unknown room", http.MethodPost, "/api/v1/rooms/nope/continue", nil, http.StatusNotFound, handlers.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp handlers.ErrorResponse
			status := env.makeRequest(t, tt.method, tt.path, tt.body, &resp)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
