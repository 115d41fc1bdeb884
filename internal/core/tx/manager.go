// Package tx declares the transaction boundary used by models.
// The PostgreSQL adapter implements it; tests substitute a recording fake.
package tx

import (
	"context"
)

// Manager runs a unit of work atomically.
//
// Models use it for operations spanning several statements: deleting an
// entity tree and saving an entity graph. The transaction travels in the
// context handed to fn, so every mapper call made with that context joins
// it. A nested call joins the outer transaction.
type Manager interface {
	// RunInTransaction commits when fn returns nil and rolls back otherwise.
	// The error of fn is returned unchanged.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
