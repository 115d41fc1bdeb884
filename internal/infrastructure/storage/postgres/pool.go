// Package postgres is the PostgreSQL storage adapter: the connection pool,
// context-carried transactions and the data mapper that executes frozen
// queries.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relmap/internal/config"
	"relmap/pkg/logger"
)

const applicationName = "relmap"

// Pool is the shared connection pool. It satisfies Beginner.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings before returning, so a bad DATABASE_URL fails
// at startup rather than on the first query.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping %s: %w", pc.ConnConfig.Host, err)
	}

	logger.Info(ctx, "connected to postgres",
		"host", pc.ConnConfig.Host,
		"database", pc.ConnConfig.Database,
		"max_conns", pc.MaxConns,
	)
	return &Pool{Pool: p}, nil
}

func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		logger.Debug(ctx, "postgres connection opened", "pid", conn.PgConn().PID())
		return nil
	}
	return pc, nil
}

// Close is safe on a zero Pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
