// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/config"
	"chorus/internal/cron"
	"chorus/internal/gateway/handlers"
	"chorus/internal/gateway/middleware"
	"chorus/internal/gateway/websocket"
	"chorus/pkg/logger"
)

// Deps are the collaborators the routes are served from. Registry and
// Sweeper are optional; their routes are left out when nil.
type Deps struct {
	Engine   handlers.Engine
	Records  chat.RecordStore
	Registry *character.Registry
	Sweeper  *cron.Sweeper
	Hub      *websocket.Hub
	Version  string
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	config      *config.Config
	rateLimiter *middleware.RateLimiter
	deps        Deps
}

// NewServer creates a new gateway server with every route registered.
func NewServer(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()

	rl := cfg.Gateway.RateLimit
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: rl.RequestsPerMinute,
		Burst:             rl.Burst,
		Enabled:           rl.Enabled,
		CleanupInterval:   rl.CleanupInterval,
	})

	// Recovery -> Logging -> CORS -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(router),
			),
		),
	)

	hub := deps.Hub
	if hub == nil {
		hub = websocket.NewHub()
	}
	if deps.Engine != nil {
		hub.SetEngine(deps.Engine)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:     handler,
			ReadTimeout: 60 * time.Second,
			// Turns may wait on several backends; the request context bounds them.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		hub:         hub,
		config:      cfg,
		rateLimiter: rateLimiter,
		deps:        deps,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	var available func() []string
	if s.deps.Registry != nil {
		available = s.deps.Registry.Characters
		api.HandleFunc("/characters", handlers.CharactersHandler(s.deps.Registry)).Methods(http.MethodGet)
	}
	api.HandleFunc("/health", handlers.HealthHandler(s.deps.Version, available)).Methods(http.MethodGet)

	if s.deps.Engine != nil && s.deps.Records != nil {
		handlers.NewChatHandler(s.deps.Engine, s.deps.Records).RegisterRoutes(api)
	}
	if s.deps.Sweeper != nil {
		handlers.NewCronHandler(s.deps.Sweeper).RegisterRoutes(api)
	}

	s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.hub, w, r)
	})
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	go s.hub.Run()

	logger.Info().Str("addr", addr).Msg("gateway: listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("gateway: shutting down")

	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.Stop()
	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}
