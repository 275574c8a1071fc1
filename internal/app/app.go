// Package app assembles the agent runtime shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/backend"
	"github.com/echolabs/echo-agent/internal/catalog"
	"github.com/echolabs/echo-agent/internal/config"
	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/metrics"
	"github.com/echolabs/echo-agent/internal/reasoner"
	"github.com/echolabs/echo-agent/internal/store"
)

// Backend is what both the registry client and the simulated backend offer.
type Backend interface {
	connector.Backend
	agent.ChatTransport
	catalog.Lister
	ChatHistory(ctx context.Context, userID, otherID string) ([]domain.ChatMessage, error)
	Ping(ctx context.Context) error
}

// App holds the long-lived collaborators of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.SQLiteStore
	Backend  Backend
	Reasoner *reasoner.Reasoner
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	ConvLog  agent.ConversationLogger
	Manager  *agent.Manager
}

// New opens the store, selects the backend and reasoning provider, and builds
// the agent manager. Callers must Close the result.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.Store = repo

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	var registry catalog.Lister
	if cfg.SimulatedBackend() {
		logger.Info("No REGISTRY_URL set, using simulated backend")
		a.Backend = backend.NewSimulated(logger)
	} else {
		client := backend.NewClient(backend.Config{
			BaseURL:        cfg.Registry.URL,
			APIPrefix:      cfg.Registry.APIPrefix,
			Token:          cfg.Registry.Token,
			RequestTimeout: cfg.Registry.RequestTimeout,
			RetryAttempts:  cfg.Registry.RetryAttempts,
		}, logger)
		a.Backend = client
		registry = client
		logger.Info("Using service registry", "url", cfg.Registry.URL)
	}

	services, err := catalog.Load(cfg.ServicesFile)
	if err != nil {
		return fmt.Errorf("load service catalog: %w", err)
	}

	provider, err := reasoner.SelectProvider(ctx, cfg.AI, logger)
	if err != nil {
		// AI stays off when the provider cannot start.
		logger.Warn("AI provider unavailable, continuing without AI", "provider", cfg.AI.Provider, "error", err)
		provider = nil
	}
	a.Reasoner = reasoner.New(provider, reasoner.Options{
		Timeout:       cfg.AI.Timeout,
		PromptTimeout: cfg.AI.PromptTimeout,
		MinConfidence: cfg.AI.MinConfidence,
		HistoryWindow: cfg.AI.HistoryWindow,
		Logger:        logger,
		Observer:      a.Metrics,
	})
	logger.Info("Reasoner configured", "ai_enabled", a.Reasoner.Enabled(), "provider", a.Reasoner.ProviderName())

	a.ConvLog, err = agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	a.Manager = agent.NewManager(
		catalog.NewSource(a.Store, registry, services, logger),
		agent.Deps{
			Reasoner: a.Reasoner,
			Backend:  a.Backend,
			Chat:     a.Backend,
			Recorder: a.Store,
			ConvLog:  a.ConvLog,
			Metrics:  a.Metrics,
			Logger:   logger,
		},
		agent.Options{
			HistoryCap:       cfg.Agent.HistoryCap,
			ConnectorTimeout: cfg.Agent.ConnectorTimeout,
			ChatSendTimeout:  cfg.Agent.ChatSendTimeout,
		},
	)
	return nil
}

// RegistryPinger returns the remote registry for health checks, or nil when
// running against the simulated backend.
func (a *App) RegistryPinger() interface{ Ping(context.Context) error } {
	if a.Config.SimulatedBackend() {
		return nil
	}
	return a.Backend
}

// Close tears every agent down and releases resources in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Manager != nil {
		a.Manager.Shutdown()
	}
	if a.ConvLog != nil {
		errs = append(errs, a.ConvLog.Close())
	}
	if a.Reasoner != nil {
		errs = append(errs, a.Reasoner.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
