// Package app wires configuration, storage and the recipe store together for
// the binaries.
package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mixbook/internal/config"
	"mixbook/internal/recipe"
	"mixbook/internal/search"
	"mixbook/internal/storage"
	"mixbook/internal/store"
)

// NewLogger builds a production logger, at debug level when debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// App holds the long-lived components.
type App struct {
	Config config.Config
	Logger *zap.Logger
	KV     storage.KV
	Store  *store.Store
	Search *search.Engine

	// CatalogLoaded receives the outcome of the background catalog load.
	CatalogLoaded <-chan error
}

// Open connects the configured storage and starts loading the store. The
// static catalog is read from cfg.CatalogDir when that directory exists.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kv, err := storage.Open(cfg.Storage, cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("error creating %s storage: %w", cfg.Storage, err)
	}

	s := store.New(kv, store.WithLogger(logger.Named("store")))

	var catalog recipe.Catalog
	if info, err := os.Stat(cfg.CatalogDir); err == nil && info.IsDir() {
		catalog = recipe.NewFSCatalog(os.DirFS(cfg.CatalogDir), logger.Named("catalog"))
	} else {
		logger.Warn("catalog directory not found, serving user recipes only", zap.String("dir", cfg.CatalogDir))
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		KV:            kv,
		Store:         s,
		Search:        search.NewEngine(cfg.Threshold),
		CatalogLoaded: s.Load(ctx, catalog),
	}, nil
}

// WaitCatalog blocks until the static catalog is loaded.
func (a *App) WaitCatalog(ctx context.Context) error {
	select {
	case err := <-a.CatalogLoaded:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the storage backend.
func (a *App) Close() error {
	return a.KV.Close()
}
