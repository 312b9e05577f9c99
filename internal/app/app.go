// Package app wires configuration, storage, logging and the engine for the
// CLI and the HTTP server.
package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/engine"
	"slam/internal/idgen"
	"slam/internal/logger"
	"slam/internal/metrics"
	"slam/internal/migrate"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/slam.yml.
	ConfigPath string
	// DSN overrides database.dsn from the config file.
	DSN string
}

// App owns every long-lived resource. Close releases them.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *db.DB
	Engine    engine.Engine
	Log       *logger.Logger
	Metrics   *metrics.Metrics

	closers []func() error
}

// Open loads config, opens and migrates the database and builds the engine.
// A missing slam.yml falls back to the defaults.
func Open(opts Options) (*App, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	cfg, err := loadConfig(workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}

	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(workspace, logFile)
	}
	log, err := logger.NewWithOptions(logger.Options{
		Mode:       cfg.Log.Mode,
		Level:      cfg.Log.Level,
		File:       logFile,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Workspace: workspace, Config: cfg, Log: log}
	conn, err := db.Open(db.Config{Workspace: workspace, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if err := migrate.MigrateLocked(conn, workspace); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Log = log
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		e.Metrics = a.Metrics
	}
	if cfg.IDs.Driver == "redis" {
		counter, err := idgen.NewRedisCounter(cfg.IDs.RedisAddr, cfg.IDs.RedisKey,
			idgen.Format{Prefix: cfg.IDs.Prefix, Width: cfg.IDs.Width})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis id counter: %w", err)
		}
		e.IDs = counter
		a.closers = append(a.closers, counter.Close)
	}
	a.Engine = e
	log.Debug("app ready", "workspace", workspace, "dialect", conn.Dialect, "id_driver", cfg.IDs.Driver)
	return a, nil
}

func loadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(workspace)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.Sync()
	}
	return errors.Join(errs...)
}
