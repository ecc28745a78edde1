package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime records the server start. Later calls are no-ops.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     int64  `json:"uptime"`
	Characters int    `json:"characters"`
}

// HealthHandler reports liveness and how many characters can answer.
// available may be nil.
func HealthHandler(version string, available func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Version: version}
		if !startTime.IsZero() {
			resp.Uptime = int64(time.Since(startTime).Seconds())
		}
		if available != nil {
			resp.Characters = len(available())
			if resp.Characters == 0 {
				resp.Status = "degraded"
			}
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
