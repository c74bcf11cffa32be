package commands

import (
	"context"
	"fmt"
	"log/slog"

	"bookgen/internal/adapters/bookapi"
	"bookgen/internal/adapters/localstorage"
	"bookgen/internal/adapters/probe"
	"bookgen/internal/adapters/sqlstore"
	"bookgen/internal/config"
	"bookgen/internal/core/ports"
	"bookgen/internal/platform/logger"
	"bookgen/internal/service"
)

// AppContext holds what every command needs.
type AppContext struct {
	Config       *config.Config
	Logger       *slog.Logger
	Client       *bookapi.Client
	Prober       *probe.HTTPProber
	Store        ports.StateStore
	Orchestrator *service.Orchestrator

	closers []func() error
}

// NewAppContext loads configuration and wires adapters.
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format != "" {
		lc.Format = cfg.Log.Format
	}
	log := logger.New(lc)

	client, err := bookapi.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}
	prober, err := probe.NewHTTPProber(cfg.API.BaseURL, cfg.Probe.Paths, cfg.Probe.Timeout)
	if err != nil {
		return nil, fmt.Errorf("init prober: %w", err)
	}

	app := &AppContext{
		Config: cfg,
		Logger: log,
		Client: client,
		Prober: prober,
	}

	switch cfg.State.Driver {
	case "postgres", "mysql":
		store, err := sqlstore.Open(sqlstore.Dialect(cfg.State.Driver), cfg.State.DSN)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("prepare state store: %w", err)
		}
		app.Store = store
		app.closers = append(app.closers, store.Close)
	default:
		app.Store = localstorage.NewLocalStorage(cfg.State.DataDir)
	}

	opts := service.PollerOptions{
		Interval:     cfg.Poll.Interval,
		MaxPolls:     cfg.Poll.MaxPolls,
		ErrorCeiling: cfg.Poll.ErrorCeiling,
		WarnEvery:    cfg.Poll.WarnEvery,
		StaleAfter:   cfg.Poll.StaleAfter,
		MaxBackoff:   cfg.Poll.MaxBackoff,
	}
	app.Orchestrator = service.NewOrchestrator(func() *service.Poller {
		return service.NewPoller(client, prober, app.Store, log, opts)
	}, app.Store, log)

	return app, nil
}

// Token returns the --token flag value, falling back to BOOKGEN_API_TOKEN.
func (a *AppContext) Token(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return a.Config.API.Token
}

// Close releases resources held by the context.
func (a *AppContext) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Warn("failed to close resource", "error", err)
		}
	}
}
