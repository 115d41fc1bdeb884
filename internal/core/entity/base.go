// Package entity defines the persistent entity contract shared by the
// metadata, mapper and relation layers.
package entity

import (
	"context"

	"relmap/internal/core/apperror"
	"relmap/internal/core/id"
)

// Entity is a typed record with an identifier that stays Nil until persisted.
type Entity interface {
	// EntityID returns the identifier, or id.Nil for an unpersisted entity.
	EntityID() id.ID

	// AssignID sets the identifier. Once assigned it is immutable.
	AssignID(v id.ID) error
}

// Validatable is implemented by entities with business rules checked
// before every save.
type Validatable interface {
	Validate(ctx context.Context) error
}

// Base contains the identifier every entity carries.
// Embed it (directly or through relation.Referenced) in entity structs.
type Base struct {
	// ID is the primary key (UUIDv7). Nil until the entity is saved.
	ID id.ID `db:"id" json:"id"`
}

// EntityID implements Entity.
func (b *Base) EntityID() id.ID {
	return b.ID
}

// AssignID implements Entity.
func (b *Base) AssignID(v id.ID) error {
	if !id.IsNil(b.ID) && b.ID != v {
		return apperror.NewInvalidArgument("identifier is immutable once assigned").
			WithDetail("id", b.ID.String()).
			WithDetail("new_id", v.String())
	}
	b.ID = v
	return nil
}

// IsPersisted reports whether the entity has an identifier.
func (b *Base) IsPersisted() bool {
	return !id.IsNil(b.ID)
}

// IsPersisted reports whether e is non-nil and has an identifier.
func IsPersisted(e Entity) bool {
	return !IsNil(e) && !id.IsNil(e.EntityID())
}
