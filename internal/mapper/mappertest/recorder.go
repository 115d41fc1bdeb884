// Package mappertest provides an in-memory DataMapper that records every
// call, for tests of code built on top of the mapper.
package mappertest

import (
	"context"
	"sync"

	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/mapper"
	"relmap/internal/query"
)

// Operation names recorded in Call.Op.
const (
	OpFind   = "find"
	OpCount  = "count"
	OpDelete = "delete"
	OpSave   = "save"
)

// Call is one recorded mapper invocation.
type Call struct {
	Op     string
	Entity string
	Where  string
	Order  []string
	Offset *uint64
	Limit  *uint64
	Values []any
	Types  []query.BindType
	// Args are the encoded bind values as the storage adapter would see them.
	Args  []any
	Saved entity.Entity
}

// Recorder implements mapper.DataMapper. Unset hooks return empty results.
type Recorder struct {
	FindFunc   func(c Call) ([]entity.Entity, error)
	CountFunc  func(c Call) (int64, error)
	DeleteFunc func(c Call) (bool, error)
	SaveFunc   func(e entity.Entity) (bool, error)

	mu    sync.Mutex
	calls []Call
}

// Compile-time check that Recorder implements mapper.DataMapper.
var _ mapper.DataMapper = (*Recorder)(nil)

// Find implements mapper.DataMapper.
func (r *Recorder) Find(ctx context.Context, q *query.Query, b query.Binding) ([]entity.Entity, error) {
	c, err := r.record(OpFind, q, b)
	if err != nil {
		return nil, err
	}
	if r.FindFunc == nil {
		return []entity.Entity{}, nil
	}
	return r.FindFunc(c)
}

// Count implements mapper.DataMapper.
func (r *Recorder) Count(ctx context.Context, q *query.Query, b query.Binding) (int64, error) {
	c, err := r.record(OpCount, q, b)
	if err != nil {
		return 0, err
	}
	if r.CountFunc == nil {
		return 0, nil
	}
	return r.CountFunc(c)
}

// DeleteBatch implements mapper.DataMapper.
func (r *Recorder) DeleteBatch(ctx context.Context, q *query.Query, b query.Binding) (bool, error) {
	c, err := r.record(OpDelete, q, b)
	if err != nil {
		return false, err
	}
	if r.DeleteFunc == nil {
		return true, nil
	}
	return r.DeleteFunc(c)
}

// Save implements mapper.DataMapper. Unsaved entities get a fresh id once
// SaveFunc, if any, has succeeded.
func (r *Recorder) Save(ctx context.Context, e entity.Entity) (bool, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: OpSave, Saved: e})
	r.mu.Unlock()

	ok := true
	if r.SaveFunc != nil {
		var err error
		if ok, err = r.SaveFunc(e); err != nil {
			return false, err
		}
	}
	if !entity.IsPersisted(e) {
		if err := e.AssignID(id.New()); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// Calls returns every recorded call of op, or all calls when op is empty.
func (r *Recorder) Calls(op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) record(op string, q *query.Query, b query.Binding) (Call, error) {
	if err := mapper.Ready(q, b); err != nil {
		return Call{}, err
	}
	where, err := q.ToSql()
	if err != nil {
		return Call{}, err
	}
	args, err := b.Encode()
	if err != nil {
		return Call{}, err
	}

	c := Call{
		Op:     op,
		Entity: q.Target().Name,
		Where:  where,
		Order:  q.OrderBy(),
		Values: b.Values,
		Types:  b.Types,
		Args:   args,
	}
	if n, ok := q.Offset(); ok {
		c.Offset = &n
	}
	if n, ok := q.Limit(); ok {
		c.Limit = &n
	}

	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	return c, nil
}
