package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"worksafe/internal/catalog"
	"worksafe/internal/config"
	"worksafe/internal/db"
	"worksafe/internal/docstore"
	"worksafe/internal/engine"
	"worksafe/internal/logging"
	"worksafe/internal/migrate"
)

// Runtime is the wired set of collaborators shared by the CLI and the server.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Store     *docstore.SQLStore
	Relay     *docstore.RedisRelay
	Catalog   *catalog.Feed
	Engine    engine.Engine
	Log       *zap.Logger

	// Changes carries writes committed by this process, for webhooks.
	Changes *docstore.ChangeFeed
}

// Open loads the workspace config, opens and migrates the store, and builds
// the engine. A configured Redis URL links change notifications across
// instances. Close releases everything Open acquired.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return OpenWithConfig(ctx, workspace, cfg)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	driver := cfg.Store.Driver
	if driver == "" {
		driver = db.DriverSQLite
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: driver, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateDriver(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Log: logger}
	hub := docstore.NewHub()
	rt.Changes = docstore.NewChangeFeed(1024)
	opts := docstore.Options{Driver: driver, Hub: hub, Logger: logger, Taps: []docstore.Broadcaster{rt.Changes}}
	if cfg.Store.RedisURL != "" {
		relay, err := docstore.NewRedisRelay(cfg.Store.RedisURL, hub, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := relay.Start(ctx); err != nil {
			relay.Close()
			conn.Close()
			return nil, err
		}
		rt.Relay = relay
		opts.Broadcaster = relay
	}
	rt.Store = docstore.NewSQLStore(conn, opts)

	eng := engine.New(rt.Store, cfg)
	eng.Log = logger
	if cfg.Catalog.File != "" {
		path := cfg.Catalog.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		feed, err := catalog.Load(path, time.Duration(cfg.Catalog.CacheTTLSeconds)*time.Second)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Catalog = feed
		eng.Catalog = feed
		logger.Info("catalog loaded", zap.String("file", path), zap.Int("entries", feed.Len()))
	}
	rt.Engine = eng
	return rt, nil
}

// EnsureActor makes sure the acting user has a profile before it acts.
func (rt *Runtime) EnsureActor(ctx context.Context, actorID, displayName string) error {
	if actorID == "" {
		return fmt.Errorf("actor id required")
	}
	_, err := rt.Engine.EnsureProfile(ctx, actorID, displayName, "")
	return err
}

func (rt *Runtime) Close() error {
	if rt.Relay != nil {
		if err := rt.Relay.Close(); err != nil {
			rt.Log.Warn("close redis relay", zap.Error(err))
		}
	}
	_ = rt.Log.Sync()
	return rt.DB.Close()
}
