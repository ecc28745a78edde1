package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chorus/internal/cron"
)

// CronHandler exposes the background compression sweeper.
type CronHandler struct {
	sweeper *cron.Sweeper
}

// NewCronHandler creates a new cron handler.
func NewCronHandler(sweeper *cron.Sweeper) *CronHandler {
	return &CronHandler{sweeper: sweeper}
}

// RegisterRoutes mounts the handler under /api/v1.
func (h *CronHandler) RegisterRoutes(api *mux.Router) {
	sub := api.PathPrefix("/cron").Subrouter()
	sub.HandleFunc("", h.HandleStatus).Methods(http.MethodGet)
	sub.HandleFunc("/run", h.HandleRun).Methods(http.MethodPost)
}

// CronStatus is the body of GET /cron.
type CronStatus struct {
	Next    *time.Time    `json:"next,omitempty"`
	History []cron.Report `json:"history"`
}

// HandleStatus returns the next sweep and the latest reports (?limit=10).
func (h *CronHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	status := CronStatus{History: h.sweeper.History().List(limit)}
	if next := h.sweeper.Next(); !next.IsZero() {
		status.Next = &next
	}
	if status.History == nil {
		status.History = []cron.Report{}
	}
	SendJSON(w, http.StatusOK, status)
}

// HandleRun sweeps immediately.
func (h *CronHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunOnce(r.Context())
	switch {
	case errors.Is(err, cron.ErrSweepInProgress):
		SendError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case err != nil:
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	default:
		SendJSON(w, http.StatusOK, report)
	}
}
