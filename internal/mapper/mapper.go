// Package mapper defines the data-mapper contract that executes frozen
// queries against the storage adapter.
package mapper

import (
	"context"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/query"
)

// DataMapper executes built queries and returns typed results.
// Bind values are paired positionally with bind tags derived from the
// declared property types. Storage failures are returned unchanged
// (wrapped as STORAGE_ERROR); the mapper never retries.
type DataMapper interface {
	// Find returns the entities of the query target matching q.
	Find(ctx context.Context, q *query.Query, b query.Binding) ([]entity.Entity, error)

	// Count returns the number of rows matching q.
	Count(ctx context.Context, q *query.Query, b query.Binding) (int64, error)

	// DeleteBatch removes every row matching q and reports whether any row was removed.
	DeleteBatch(ctx context.Context, q *query.Query, b query.Binding) (bool, error)

	// Save inserts an unpersisted entity or updates a persisted one. A new
	// entity is given its id only when the write succeeds.
	// It reports whether a row was written.
	Save(ctx context.Context, e entity.Entity) (bool, error)
}

// Attacher binds hydrated entities to the session that loaded them.
type Attacher interface {
	Attach(e entity.Entity)
}

// AttacherSetter is implemented by mappers that hydrate entities.
type AttacherSetter interface {
	SetAttacher(a Attacher)
}

// Ready validates that q is closed and b matches its placeholders.
// Implementations call it before touching storage.
func Ready(q *query.Query, b query.Binding) error {
	if !q.IsClosed() {
		return apperror.NewInvalidArgument("query must be closed before execution").
			WithDetail("entity", q.Target().Name)
	}
	if err := q.Err(); err != nil {
		return err
	}
	if n := q.Placeholders(); n != b.Len() || len(b.Types) != b.Len() {
		return apperror.NewInvalidArgument("bind values do not match query placeholders").
			WithDetail("placeholders", n).
			WithDetail("values", b.Len()).
			WithDetail("types", len(b.Types))
	}
	return nil
}
