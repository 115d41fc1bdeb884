package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relmap/internal/core/tx"
	"relmap/pkg/logger"
)

var tracer = otel.Tracer("relmap/postgres")

var _ tx.Manager = (*TxManager)(nil)

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is a Querier that can open transactions, normally *pgxpool.Pool.
type Beginner interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions tunes the transactions opened by a TxManager.
type TxOptions struct {
	// Isolation left empty uses the server default.
	Isolation pgx.TxIsoLevel
	ReadOnly  bool

	// StatementTimeout is set with SET LOCAL. Zero keeps the server setting.
	StatementTimeout time.Duration

	// Savepoints isolates nested calls so a failing inner unit of work
	// does not doom the outer one. Without it nested calls simply join.
	Savepoints bool
}

// TxManager opens transactions and keeps the active one in the context.
// The mapper asks it for a Querier on every statement, so mapper calls made
// inside RunInTransaction share the transaction without knowing about it.
type TxManager struct {
	db         Beginner
	opts       TxOptions
	savepoints atomic.Uint64
}

func NewTxManager(db Beginner, opts TxOptions) *TxManager {
	return &TxManager{db: db, opts: opts}
}

type txKey struct{}

// RunInTransaction runs fn in a transaction. A call made while another
// transaction is active in ctx joins it, or opens a savepoint when
// TxOptions.Savepoints is set.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	outer := txFrom(ctx)

	ctx, span := tracer.Start(ctx, "relmap.tx", trace.WithAttributes(
		attribute.Bool("db.tx.nested", outer != nil),
		attribute.String("db.tx.isolation", string(m.opts.Isolation)),
	))
	defer span.End()

	var err error
	switch {
	case outer == nil:
		err = m.run(ctx, fn)
	case m.opts.Savepoints:
		err = m.runSavepoint(ctx, outer, fn)
	default:
		err = fn(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *TxManager) run(ctx context.Context, fn func(ctx context.Context) error) error {
	mode := pgx.ReadWrite
	if m.opts.ReadOnly {
		mode = pgx.ReadOnly
	}
	t, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: m.opts.Isolation, AccessMode: mode})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if d := m.opts.StatementTimeout; d > 0 {
		if _, err := t.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", d.Milliseconds())); err != nil {
			rollback(ctx, t, err)
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		rollback(ctx, t, err)
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rollback runs on a fresh context: ctx may already be cancelled.
func rollback(ctx context.Context, t pgx.Tx, cause error) {
	if err := t.Rollback(context.WithoutCancel(ctx)); err != nil {
		logger.Error(ctx, "transaction rollback failed", "error", err, "cause", cause)
	}
}

func (m *TxManager) runSavepoint(ctx context.Context, outer pgx.Tx, fn func(ctx context.Context) error) error {
	name := fmt.Sprintf("relmap_sp_%d", m.savepoints.Add(1))
	if _, err := outer.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := outer.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			logger.Error(ctx, "savepoint rollback failed", "savepoint", name, "error", rbErr, "cause", err)
		}
		return err
	}

	if _, err := outer.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

func txFrom(ctx context.Context) pgx.Tx {
	t, _ := ctx.Value(txKey{}).(pgx.Tx)
	return t
}

// conn returns the transaction active in ctx, or the pool.
func (m *TxManager) conn(ctx context.Context) Querier {
	if t := txFrom(ctx); t != nil {
		return t
	}
	return m.db
}
