package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/meshagent/internal/config"
	"github.com/harun/meshagent/internal/logger"
	"github.com/harun/meshagent/internal/metrics"
	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/agent"
	"github.com/harun/meshagent/pkg/coretools"
	"github.com/harun/meshagent/pkg/gateway"
	"github.com/harun/meshagent/pkg/model"
	"github.com/harun/meshagent/pkg/peer"
	"github.com/harun/meshagent/pkg/session"
	"github.com/harun/meshagent/pkg/tools"
	"github.com/rs/zerolog"
)

const discoveryTimeout = 10 * time.Second

// app is a fully wired agent process: session store, engine and gateway.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	sessions *session.Store
	janitor  *session.Janitor
	engine   *agent.Engine
	server   *gateway.Server
}

// buildApp wires every component named in cfg. Nothing is started yet.
func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	m := metrics.NewMetrics()

	if cfg.Telemetry.Enabled {
		if err := tracing.Init(tracing.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	tracker := tracing.NewTracker(tracing.TrackerConfig{
		Enabled: cfg.Telemetry.Enabled,
		Metrics: m,
		Logger:  log.With().Str("component", "tracing").Logger(),
	})

	store := session.NewStore(session.Config{
		MaxSessions:         cfg.Memory.MaxSessions,
		MaxEventsPerSession: cfg.Memory.MaxEventsPerSession,
		Metrics:             m,
		Logger:              log.With().Str("component", "session").Logger(),
	})

	var janitor *session.Janitor
	if cfg.Memory.CleanupSchedule != "" && cfg.Memory.CleanupMaxAge > 0 {
		janitor = session.NewJanitor(store, cfg.Memory.CleanupMaxAge, cfg.Memory.CleanupSchedule,
			log.With().Str("component", "janitor").Logger())
	}

	backend, err := model.NewBackend(model.Config{
		Provider:      cfg.Model.Provider,
		BaseURL:       cfg.Model.URL,
		Model:         cfg.Model.Name,
		APIKey:        cfg.Model.APIKey,
		Timeout:       cfg.Model.Timeout,
		MaxRetries:    cfg.Model.MaxRetries,
		MaxTokens:     cfg.Model.MaxTokens,
		MockResponses: model.ParseMockResponses(cfg.Model.MockResponses),
		Logger:        log.With().Str("component", "model").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model backend: %w", err)
	}
	log.Info().Str("provider", cfg.Model.Provider).Str("model", cfg.Model.Name).Msg("Model backend initialized")

	providers, err := buildProviders(cfg, log)
	if err != nil {
		return nil, err
	}

	peers := make([]*peer.Agent, 0, len(cfg.Peers))
	for _, pc := range cfg.Peers {
		p, err := peer.New(pc.Name, pc.CardURL,
			peer.WithDiscoveryTimeout(pc.DiscoveryTimeout),
			peer.WithInvokeTimeout(pc.InvokeTimeout),
			peer.WithVersionConstraint(pc.Version),
			peer.WithLogger(log.With().Str("component", "peer").Logger()),
			peer.WithMetrics(m),
		)
		if err != nil {
			closeProviders(providers)
			return nil, fmt.Errorf("failed to configure peer %s: %w", pc.Name, err)
		}
		peers = append(peers, p)
	}

	engine, err := agent.New(agent.Config{
		Name:               cfg.Agent.Name,
		Description:        cfg.Agent.Description,
		Instructions:       cfg.Agent.Instructions,
		AppName:            cfg.Agent.AppName,
		UserID:             cfg.Agent.UserID,
		Version:            version,
		Backend:            backend,
		Tools:              providers,
		Peers:              peers,
		Sessions:           store,
		Tracker:            tracker,
		Metrics:            m,
		Logger:             log,
		MaxSteps:           cfg.Loop.MaxSteps,
		MemoryContextLimit: cfg.Loop.MemoryContextLimit,
		ContextWindow:      cfg.Loop.ContextWindow,
	})
	if err != nil {
		closeProviders(providers)
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		BaseURL:           cfg.Server.BaseURL,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Engine:            engine,
		Metrics:           m,
		Logger:            log.With().Str("component", "gateway").Logger(),
		SharedSecret:      cfg.Server.SharedSecret,
		CORSOrigins:       cfg.Server.CORSOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MaxConcurrent:     cfg.Server.MaxConcurrent,
	})
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   log,
		metrics:  m,
		sessions: store,
		janitor:  janitor,
		engine:   engine,
		server:   server,
	}, nil
}

func buildProviders(cfg *config.Config, log zerolog.Logger) ([]tools.Provider, error) {
	var providers []tools.Provider

	if cfg.Agent.BuiltinTools {
		reg := tools.NewRegistry("builtin", 0, log.With().Str("component", "tools").Logger())
		if err := coretools.Register(reg, coretools.Options{}); err != nil {
			return nil, err
		}
		providers = append(providers, reg)
		log.Info().Int("tools", len(reg.Tools())).Msg("Built-in tools registered")
	}

	for _, tc := range cfg.Tools {
		p, err := tools.NewMCPProvider(tools.MCPConfig{
			Name:    tc.Name,
			URL:     tc.URL,
			Timeout: tc.Timeout,
			Logger:  log.With().Str("component", "tools").Logger(),
		})
		if err != nil {
			closeProviders(providers)
			return nil, fmt.Errorf("failed to configure tool server %s: %w", tc.Name, err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}

func closeProviders(providers []tools.Provider) {
	for _, p := range providers {
		_ = p.Close()
	}
}

// discover activates tool servers and peers once so the agent card lists
// them from the start. Failures are logged; the engine retries on use.
func (a *app) discover(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	for _, p := range a.engine.Tools() {
		found, err := p.Discover(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Tool discovery failed")
			continue
		}
		a.logger.Info().Str("provider", p.Name()).Int("tools", len(found)).Msg("Tools discovered")
	}

	for _, p := range a.engine.Peers() {
		if err := p.EnsureActive(ctx); err != nil {
			a.logger.Warn().Err(err).Str("peer", p.Name()).Msg("Peer discovery failed")
			continue
		}
		a.logger.Info().Str("peer", p.Name()).Msg("Peer discovered")
	}
}

func (a *app) start(ctx context.Context) error {
	a.discover(ctx)

	if a.janitor != nil {
		if err := a.janitor.Start(); err != nil {
			return err
		}
	}
	if err := a.server.Start(); err != nil {
		if a.janitor != nil {
			_ = a.janitor.Stop()
		}
		return err
	}

	a.logger.Info().Str("agent", a.engine.Name()).Msg("Agent started")
	return nil
}

// stop drains the gateway first, then releases everything behind it.
func (a *app) stop(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.server.Stop(ctx))
	if a.janitor != nil {
		keep(a.janitor.Stop())
	}
	keep(a.engine.Close())
	if a.cfg.Telemetry.Enabled {
		keep(tracing.Shutdown(ctx))
	}

	a.logger.Info().Msg("Agent stopped")
	return firstErr
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}
