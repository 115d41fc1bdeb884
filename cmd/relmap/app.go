package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"relmap/internal/config"
	"relmap/internal/domain/sales"
	"relmap/internal/infrastructure/cache"
	"relmap/internal/infrastructure/storage/postgres"
	"relmap/internal/metadata"
	"relmap/internal/relation"
	"relmap/pkg/logger"
)

// app holds what every command shares. The database is only opened by
// commands that need it.
type app struct {
	cfg      *config.Config
	registry *metadata.Registry
	cache    *metadata.Cache
	store    *cache.FileStore
	pool     *postgres.Pool
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: sales.Schema(),
	}

	opts := []metadata.CacheOption{metadata.WithNoCache(cfg.Metadata.NoCache)}
	if dir := cfg.Metadata.CacheDir; dir != "" {
		store, err := cache.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		a.store = store
		opts = append(opts, metadata.WithStore(store))
	}
	a.cache = metadata.NewCache(a.registry, opts...)
	return a, nil
}

// connect opens the pool once and wires the storage stack.
func (a *app) connect(ctx context.Context) (*sales.Models, error) {
	if a.cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if a.pool == nil {
		pool, err := postgres.NewPool(ctx, a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}

	txm := postgres.NewTxManager(a.pool, postgres.TxOptions{
		Isolation:        pgx.ReadCommitted,
		StatementTimeout: a.cfg.Database.StatementTimeout,
	})

	session := relation.NewSession(a.cache, postgres.NewMapper(a.registry, txm))
	models, err := sales.NewModels(session, txm)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "storage stack ready", "entities", len(a.registry.List()))
	return models, nil
}

// Close releases the pool and the cache store. It is safe to call twice.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}
