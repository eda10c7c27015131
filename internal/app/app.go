// Package app bootstraps the orderline components from a workspace:
// config resolution, store backend selection, and wiring of the importer
// and coordinator around one shared operation gate.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"orderline/internal/config"
	"orderline/internal/coordinator"
	"orderline/internal/importer"
	"orderline/internal/inventory"
	"orderline/internal/journal"
	"orderline/internal/logging"
	"orderline/internal/metrics"
	"orderline/internal/oplock"
	"orderline/internal/store"
	"orderline/internal/store/httpstore"
	"orderline/internal/store/sqlitestore"
	"orderline/internal/upstream"
)

type Options struct {
	Workspace string
	Log       *slog.Logger
}

// App holds the wired components for one workspace.
type App struct {
	Config      *config.Config
	Store       store.Collections
	Gate        *oplock.Gate
	Journal     journal.Writer
	Metrics     *metrics.Registry
	Coordinator *coordinator.Coordinator
	Importer    *importer.Importer
	Inventory   *inventory.Service
	Log         *slog.Logger

	sqlite *sqlitestore.Client
}

// New resolves config and wires every component. A missing config file
// falls back to defaults, which means a local SQLite store and no
// upstream.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	a := &App{
		Config:  cfg,
		Gate:    oplock.New(),
		Metrics: metrics.NewRegistry(),
		Log:     log,
	}

	switch cfg.Store.Backend {
	case "http":
		a.Store = newCollections(cfg, httpstore.New(cfg.Store.BaseURL, cfg.Store.APIKey))
		// The journal stays local even with a remote document store.
		local, err := sqlitestore.Open(sqlitestore.Config{Workspace: opts.Workspace})
		if err != nil {
			log.Warn("local journal unavailable", "error", err)
		} else {
			a.sqlite = local
			a.Journal = journal.Writer{DB: local.DB}
		}
	case "sqlite":
		local, err := sqlitestore.Open(sqlitestore.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.sqlite = local
		a.Store = newCollections(cfg, local)
		a.Journal = journal.Writer{DB: local.DB}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	a.Inventory = &inventory.Service{Store: a.Store}
	a.Coordinator = &coordinator.Coordinator{
		Store:     a.Store,
		Gate:      a.Gate,
		Config:    cfg,
		Inventory: a.Inventory,
		Journal:   a.Journal,
		Log:       log,
		Metrics:   a.Metrics,
	}
	if cfg.Upstream.BaseURL != "" {
		a.Importer = &importer.Importer{
			Store: a.Store,
			Upstream: upstream.New(upstream.Config{
				BaseURL:  cfg.Upstream.BaseURL,
				Token:    cfg.Upstream.Token,
				PageSize: cfg.Upstream.PageSize,
				CacheTTL: time.Duration(cfg.Upstream.CacheTTLMinutes) * time.Minute,
			}),
			Gate:       a.Gate,
			Journal:    a.Journal,
			Log:        log,
			Metrics:    a.Metrics,
			MaxPages:   cfg.Upstream.MaxPages,
			BatchSize:  cfg.Upstream.BatchSize,
			BatchPause: time.Duration(cfg.Upstream.BatchPauseMS) * time.Millisecond,
		}
	}
	return a, nil
}

func newCollections(cfg *config.Config, s store.Store) store.Collections {
	c := store.NewCollections(s)
	if cfg.Store.Orders != "" {
		c.Orders = cfg.Store.Orders
	}
	if cfg.Store.Inventory != "" {
		c.Inventory = cfg.Store.Inventory
	}
	return c
}

// DB exposes the local database handle for maintenance commands; nil when
// no local database was opened.
func (a *App) DB() *sql.DB {
	if a.sqlite == nil {
		return nil
	}
	return a.sqlite.DB
}

// Close releases the local database handle if one was opened.
func (a *App) Close() error {
	if a.sqlite != nil {
		return a.sqlite.Close()
	}
	return nil
}
