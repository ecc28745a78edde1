// Package server assembles the chorus service from configuration: storage,
// characters, the engine and its collaborators, the sweeper and the gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/compaction"
	"chorus/internal/config"
	"chorus/internal/cron"
	"chorus/internal/dispatch"
	"chorus/internal/gateway"
	"chorus/internal/gateway/websocket"
	"chorus/internal/i18n"
	"chorus/internal/media"
	"chorus/internal/notify"
	"chorus/internal/prompt"
	"chorus/internal/runner"
	"chorus/internal/storage"
	"chorus/internal/storage/postgres"
	"chorus/internal/tools"
	"chorus/internal/tooluse"
)

// Server is the assembled service.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    chat.Store
	ownStore bool
	registry *character.Registry
	engine   *runner.Engine
	sweeper  *cron.Sweeper
	gateway  *gateway.Server
	nats     *notify.NATSNotifier

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	errChan   chan error
}

// ServerConfig holds what NewServer needs.
type ServerConfig struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Version string
	// Store overrides the configured storage. The server does not close it.
	Store chat.Store
	// Connector overrides how profiles reach their backends.
	Connector character.Connector
}

// NewServer wires every component. Nothing listens until Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	c := cfg.Config
	if c == nil {
		return nil, errors.New("server: config is required")
	}
	texts, err := i18n.Load()
	if err != nil {
		return nil, fmt.Errorf("load texts: %w", err)
	}

	s := &Server{cfg: c, logger: cfg.Logger, errChan: make(chan error, 1)}

	store := cfg.Store
	if store == nil {
		store, err = OpenStore(context.Background(), c.Storage)
		if err != nil {
			return nil, err
		}
	}
	s.store = store
	s.ownStore = cfg.Store == nil
	fail := func(err error) (*Server, error) {
		if cfg.Store == nil {
			_ = store.Close()
		}
		return nil, err
	}

	connect := cfg.Connector
	if connect == nil {
		connect = character.OpenAIConnector
	}
	profiles := make([]character.Profile, 0, len(c.Characters))
	for _, cc := range c.Characters {
		profiles = append(profiles, character.FromConfig(cc))
	}
	s.registry = character.NewRegistry(profiles, connect)

	toolRegistry, err := ToolRegistry(c.Tools)
	if err != nil {
		return fail(err)
	}
	set := media.NewSet(media.Endpoints{
		Speak:      c.Tools.SpeakEndpoint,
		Transcribe: c.Tools.TranscribeEndpoint,
		Describe:   c.Tools.DescribeEndpoint,
		Draw:       c.Tools.DrawEndpoint,
		Timeout:    c.Tools.Timeout,
	})

	hub := websocket.NewHub()
	notifiers := notify.Multi{notify.NewLogNotifier(), websocket.NewNotifier(hub)}
	if c.NATS.URL != "" {
		n, err := notify.DialNATS(c.NATS.URL, c.NATS.Token, c.NATS.SubjectPrefix)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		s.nats = n
		notifiers = append(notifiers, n)
	}

	builder := prompt.NewBuilder(texts, s.registry, c.Engine.Timezone)

	resolverCfg := tooluse.Config{
		Store:    store,
		Notifier: notifiers,
		Texts:    texts,
		Names:    s.registry,
		Tools:    toolRegistry,
		LinkBase: c.Engine.LinkBase,
		MaxHops:  c.Engine.MaxHops,
	}
	if set.Drawer != nil {
		resolverCfg.Drawer = set.Drawer
	}

	dispatchCfg := dispatch.Config{
		Registry:      s.registry,
		Builder:       builder,
		Resolver:      tooluse.NewResolver(resolverCfg),
		Store:         store,
		Notifier:      notifiers,
		Texts:         texts,
		LinkBase:      c.Engine.LinkBase,
		DefaultVoice:  c.Engine.DefaultVoice,
		CallTimeout:   c.Engine.CallTimeout,
		Attempts:      c.Engine.RateLimitRetry + 1,
		RateLimitWait: c.Engine.RateLimitWait,
	}
	if set.Speaker != nil {
		dispatchCfg.Speaker = set.Speaker
	}

	engine, err := runner.New(EngineConfig(c.Engine, c.BotsUnavailable), store, s.registry, dispatch.New(dispatchCfg), notifiers, texts)
	if err != nil {
		return fail(err)
	}
	s.engine = engine

	mode, err := compaction.ParsePrefixMode(c.Summarizer.PrefixMode)
	if err != nil {
		return fail(err)
	}
	compactor := compaction.NewCompactor(compaction.Config{
		Character:     c.Summarizer.Character,
		PrefixMode:    mode,
		Timeout:       c.Engine.CallTimeout,
		WindowRecords: c.Engine.WindowRecords,
	}, s.registry, builder, store, texts)
	engine.SetCompactor(compactor)
	if set.Transcriber != nil {
		engine.SetTranscriber(set.Transcriber)
	}
	if set.Recognizer != nil {
		engine.SetImageRecognizer(set.Recognizer)
	}

	if c.Cron.Enabled {
		loc, err := time.LoadLocation(c.Cron.Timezone)
		if err != nil {
			return fail(fmt.Errorf("cron timezone: %w", err))
		}
		s.sweeper, err = cron.NewSweeper(store, compactor, cron.Config{
			Spec:     c.Cron.Spec,
			Location: loc,
			Batch:    c.Cron.Batch,
			Retry:    cron.DefaultRetryPolicy(),
		})
		if err != nil {
			return fail(err)
		}
	}

	s.gateway = gateway.NewServer(c, gateway.Deps{
		Engine:   engine,
		Records:  store,
		Registry: s.registry,
		Sweeper:  s.sweeper,
		Hub:      hub,
		Version:  cfg.Version,
	})
	return s, nil
}

// OpenStore opens the configured storage driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (chat.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		db, err := storage.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// EngineConfig converts the engine section into runner settings. Zero
// values keep the runner defaults.
func EngineConfig(c config.EngineConfig, unavailable []string) runner.Config {
	rc := runner.DefaultConfig()
	if c.Locale != "" {
		rc.Locale = c.Locale
	}
	if c.MaxCharacters > 0 {
		rc.MaxCharacters = c.MaxCharacters
	}
	if c.MaxInputRunes > 0 {
		rc.MaxInputRunes = c.MaxInputRunes
	}
	if c.WindowRecords > 0 {
		rc.WindowRecords = c.WindowRecords
	}
	if c.MaxDelay > 0 {
		rc = rc.WithDelays(c.MinDelay, c.MaxDelay)
	}
	if c.MenuDelay > 0 {
		rc.MenuDelay = c.MenuDelay
	}
	if c.VoiceHelloDelay > 0 {
		rc.VoiceHelloDelay = c.VoiceHelloDelay
	}
	if c.FreeQuota > 0 || c.MemberQuota > 0 {
		rc = rc.WithQuota(c.FreeQuota, c.MemberQuota)
	}
	if c.SystemTwoMin > 0 {
		rc.SystemTwoMin = c.SystemTwoMin
	}
	if c.DefaultVoice != "" {
		rc.DefaultVoice = c.DefaultVoice
	}
	return rc.WithLinks(c.LinkBase, c.RenewLink).WithUnavailable(unavailable)
}

// ToolRegistry registers an HTTP tool for every configured endpoint.
func ToolRegistry(cfg config.ToolsConfig) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for name, endpoint := range cfg.Endpoints {
		tag, ok := tools.Parse(name)
		if !ok {
			return nil, fmt.Errorf("tools: unknown tool %q", name)
		}
		t, err := tools.NewHTTPTool(tag, endpoint)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			t.Timeout = cfg.Timeout
		}
		if t.Guard != nil {
			t.Guard.Allowed = cfg.AllowedHosts
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ErrorChan returns the error channel for monitoring server errors.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start starts the sweeper and serves the gateway in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if s.sweeper != nil {
		if err := s.sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}
	go func() {
		if err := s.gateway.Start(); err != nil {
			s.logger.Error().Err(err).Msg("server: gateway stopped")
			s.errChan <- err
		}
	}()

	s.running = true
	s.startedAt = time.Now()
	s.logger.Info().
		Str("address", fmt.Sprintf("http://%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)).
		Int("characters", len(s.registry.Characters())).
		Bool("sweeper", s.sweeper != nil).
		Msg("server: started")
	return nil
}

// Stop shuts the gateway and the sweeper down and closes the store.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	var errs []error
	if wasRunning {
		if err := s.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.sweeper != nil {
			if err := s.sweeper.Stop(); err != nil && !errors.Is(err, cron.ErrSchedulerNotRunning) {
				errs = append(errs, err)
			}
		}
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ownStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info().Msg("server: stopped")
	return errors.Join(errs...)
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// StartedAt returns when Start last succeeded.
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Engine returns the conversation engine.
func (s *Server) Engine() *runner.Engine { return s.engine }

// Registry returns the character registry.
func (s *Server) Registry() *character.Registry { return s.registry }

// Gateway returns the HTTP gateway.
func (s *Server) Gateway() *gateway.Server { return s.gateway }

// Sweeper returns the background compression sweeper, or nil when disabled.
func (s *Server) Sweeper() *cron.Sweeper { return s.sweeper }
