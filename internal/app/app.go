// Package app assembles the engine, its stores and its providers from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"stakeproof/internal/config"
	"stakeproof/internal/db"
	"stakeproof/internal/engine"
	"stakeproof/internal/events"
	"stakeproof/internal/gemini"
	"stakeproof/internal/metrics"
	"stakeproof/internal/migrate"
	"stakeproof/internal/repo"
	"stakeproof/internal/suggest"
)

type App struct {
	Config  *config.Config
	Engine  engine.Engine
	Suggest *suggest.Service
	Metrics *metrics.Metrics
	Events  events.Log
	Logger  *zap.Logger

	closers []func() error
}

type Options struct {
	Logger *zap.Logger
	// Getenv reads the Gemini key; os.Getenv when nil.
	Getenv func(string) string
	// Assessor and Provider override the Gemini client, mainly for tests.
	Assessor engine.Assessor
	Provider suggest.Provider
}

// Build wires an App. Without a Gemini key the engine has no assessor and
// the suggestion service reports provider_unavailable.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	a := &App{Config: cfg, Metrics: metrics.New(), Logger: log}

	stores, err := a.stores(ctx)
	if err != nil {
		return nil, err
	}
	a.Events = stores.Events

	assessor, provider := opts.Assessor, opts.Provider
	if key := strings.TrimSpace(getenv(cfg.Gemini.APIKeyEnv)); key != "" && (assessor == nil || provider == nil) {
		client, err := gemini.New(ctx, key, cfg.Gemini.Model)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("gemini enabled", zap.String("model", client.Model()))
		if assessor == nil {
			assessor = client
		}
		if provider == nil {
			provider = client
		}
	} else if assessor == nil {
		log.Warn("no assessment provider configured; evidence waits for manual assessment",
			zap.String("env", cfg.Gemini.APIKeyEnv))
	}

	e := engine.New(cfg, stores)
	e.Logger = log
	e.Metrics = a.Metrics
	e.Assessor = assessor
	e.Queue = engine.NewQueue(e)
	a.Engine = e

	cache, err := a.cache()
	if err != nil {
		a.Close()
		return nil, err
	}
	s := cfg.Suggestions
	a.Suggest = suggest.New(provider, suggest.Options{
		PerMinute:   s.PerMinute,
		PerHour:     s.PerHour,
		CacheTTL:    s.CacheTTL,
		RerollQuota: s.RerollQuota,
		Cache:       cache,
		Metrics:     a.Metrics,
		Logger:      log.Named("suggest"),
	})
	return a, nil
}

func (a *App) stores(ctx context.Context) (engine.Stores, error) {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
		if err != nil {
			return engine.Stores{}, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			a.Close()
			return engine.Stores{}, fmt.Errorf("migrate: %w", err)
		}
		r := repo.Repo{DB: conn, StartingBalance: cfg.Economy.StartingBalance}
		a.Logger.Info("sqlite storage", zap.String("path", db.Path(cfg.Storage.Workspace)))
		return engine.Stores{Missions: r, Wallet: r, Profiles: r, Events: events.Writer{DB: conn}}, nil
	default:
		return engine.MemoryStores(cfg), nil
	}
}

func (a *App) cache() (suggest.Cache, error) {
	url := strings.TrimSpace(a.Config.Suggestions.RedisURL)
	if url == "" {
		return suggest.NewMemoryCache(), nil
	}
	rc, err := suggest.NewRedisCache(url)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	return rc, nil
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
