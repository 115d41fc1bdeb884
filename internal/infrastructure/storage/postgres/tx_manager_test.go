package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx records statements. Methods the manager never calls panic
// through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	stmts      []string
	failOn     string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.stmts = append(t.stmts, sql)
	if sql == t.failOn {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	Querier
	begun    []pgx.TxOptions
	tx       *fakeTx
	beginErr error

	execArgs [][]any
	execErr  error
}

func (d *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	d.execArgs = append(d.execArgs, args)
	if d.execErr != nil {
		return pgconn.CommandTag{}, d.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *fakeDB) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.begun = append(d.begun, opts)
	return d.tx, nil
}

func TestRunInTransaction_Commit(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	m := NewTxManager(db, TxOptions{Isolation: pgx.ReadCommitted, StatementTimeout: 1500 * time.Millisecond})

	assert.Same(t, db, m.conn(context.Background()))

	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		assert.Same(t, db.tx, m.conn(ctx))
		return nil
	})
	require.NoError(t, err)

	require.Len(t, db.begun, 1)
	assert.Equal(t, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, db.begun[0])
	assert.Equal(t, []string{"SET LOCAL statement_timeout = '1500ms'"}, db.tx.stmts)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
}

func TestRunInTransaction_RollbackKeepsError(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	m := NewTxManager(db, TxOptions{ReadOnly: true})

	boom := errors.New("boom")
	err := m.RunInTransaction(context.Background(), func(context.Context) error { return boom })

	assert.Same(t, boom, err)
	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
	assert.Empty(t, db.tx.stmts)
	assert.Equal(t, pgx.ReadOnly, db.begun[0].AccessMode)
}

func TestRunInTransaction_BeginFails(t *testing.T) {
	cause := errors.New("no connection")
	m := NewTxManager(&fakeDB{beginErr: cause}, TxOptions{})

	called := false
	err := m.RunInTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, cause)
	assert.False(t, called)
}

func TestRunInTransaction_TimeoutFails(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{failOn: "SET LOCAL statement_timeout = '2000ms'"}}
	m := NewTxManager(db, TxOptions{StatementTimeout: 2 * time.Second})

	err := m.RunInTransaction(context.Background(), func(context.Context) error { return nil })

	assert.Error(t, err)
	assert.True(t, db.tx.rolledBack)
}

func TestRunInTransaction_NestedJoins(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	m := NewTxManager(db, TxOptions{})

	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return m.RunInTransaction(ctx, func(ctx context.Context) error {
			assert.Same(t, db.tx, m.conn(ctx))
			return nil
		})
	})

	require.NoError(t, err)
	assert.Len(t, db.begun, 1)
	assert.Empty(t, db.tx.stmts)
}

func TestRunInTransaction_NestedSavepoint(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	m := NewTxManager(db, TxOptions{Savepoints: true})

	inner := errors.New("child rejected")
	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		assert.Same(t, inner, m.RunInTransaction(ctx, func(context.Context) error { return inner }))
		return m.RunInTransaction(ctx, func(context.Context) error { return nil })
	})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"SAVEPOINT relmap_sp_1",
		"ROLLBACK TO SAVEPOINT relmap_sp_1",
		"SAVEPOINT relmap_sp_2",
		"RELEASE SAVEPOINT relmap_sp_2",
	}, db.tx.stmts)
	assert.True(t, db.tx.committed)
}
