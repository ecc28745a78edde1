package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chorus/internal/chat"
	"chorus/internal/runner"
	"chorus/pkg/logger"
)

// Engine runs conversation turns.
type Engine interface {
	HandleMessage(ctx context.Context, entry chat.Entry) (*runner.Turn, error)
	Continue(ctx context.Context, roomID, character string) (*runner.Turn, error)
}

// ChatHandler serves messages, continuation and room history.
type ChatHandler struct {
	engine  Engine
	records chat.RecordStore
}

// NewChatHandler creates the handler.
func NewChatHandler(engine Engine, records chat.RecordStore) *ChatHandler {
	return &ChatHandler{engine: engine, records: records}
}

// RegisterRoutes mounts the handler under /api/v1.
func (h *ChatHandler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/messages", h.HandleMessage).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{room}/continue", h.HandleContinue).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{room}/records", h.HandleRecords).Methods(http.MethodGet)
}

// HandleMessage runs one turn for the posted entry and returns its Turn.
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var entry chat.Entry
	if !decode(w, r, &entry) {
		return
	}
	if entry.UserID == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "user_id is required")
		return
	}

	turn, err := h.engine.HandleMessage(r.Context(), entry)
	if err != nil {
		sendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, turn)
}

type continueRequest struct {
	Character string `json:"character,omitempty"`
}

// HandleContinue resumes truncated replies. The body is optional.
func (h *ChatHandler) HandleContinue(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	turn, err := h.engine.Continue(r.Context(), mux.Vars(r)["room"], req.Character)
	if err != nil {
		sendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, turn)
}

// RecordsResponse is the body of GET /rooms/{room}/records.
type RecordsResponse struct {
	Records []*chat.Record `json:"records"`
}

// HandleRecords lists the newest records since the last clear, newest
// first. ?limit= defaults to 50 and is capped at 500.
func (h *ChatHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	records, err := h.records.LatestRecords(r.Context(), mux.Vars(r)["room"], limit)
	if err != nil {
		sendEngineError(w, err)
		return
	}
	if records == nil {
		records = []*chat.Record{}
	}
	SendJSON(w, http.StatusOK, RecordsResponse{Records: records})
}

func sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runner.ErrEmptyMessage), errors.Is(err, runner.ErrNoTranscriber):
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		SendError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, runner.ErrTranscription):
		SendError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		SendError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, err.Error())
	default:
		logger.Error().Err(err).Msg("gateway: engine failed")
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
