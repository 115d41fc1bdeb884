package model

import (
	"context"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
)

// collectionOwner is the surface relation.Referenced promotes to entities.
type collectionOwner interface {
	entity.Owner
	Collection(ctx context.Context, name string) (*entity.Collection, error)
}

// Referenced is the model of a type other entities point at. Besides the
// Dependent operations it persists an entity together with the collections
// populated on it.
type Referenced struct {
	*Dependent
}

// NewReferenced creates a Referenced model.
func NewReferenced(cfg Config) (*Referenced, error) {
	d, err := NewDependent(cfg)
	if err != nil {
		return nil, err
	}
	return &Referenced{Dependent: d}, nil
}

// Collection loads the named collection of owner.
func (m *Referenced) Collection(ctx context.Context, owner entity.Entity, name string) (*entity.Collection, error) {
	if err := m.check(owner); err != nil {
		return nil, err
	}
	co, ok := owner.(collectionOwner)
	if !ok {
		return nil, apperror.NewInvalidProperty(m.def.Name, name).
			WithDetail("reason", "entity has no collections")
	}
	m.session.Attach(owner)
	return co.Collection(ctx, name)
}

// SaveGraph saves e and then every item of its populated collections,
// recursively. Unpopulated collections are left alone. It runs in a single
// transaction when the model has a transaction manager. If a later save
// fails, entities saved earlier in the call keep the ids they were given,
// even though the transaction discards their rows.
func (m *Referenced) SaveGraph(ctx context.Context, e entity.Entity) error {
	if err := m.check(e); err != nil {
		return err
	}
	return m.inTx(ctx, func(ctx context.Context) error {
		return m.saveGraph(ctx, e, make(map[entity.Entity]struct{}))
	})
}

func (m *Referenced) saveGraph(ctx context.Context, e entity.Entity, seen map[entity.Entity]struct{}) error {
	if _, ok := seen[e]; ok {
		return nil
	}
	seen[e] = struct{}{}

	if err := validate(ctx, e); err != nil {
		return err
	}
	if _, err := m.mapper.Save(ctx, e); err != nil {
		return err
	}
	m.session.Attach(e)

	owner, ok := e.(entity.Owner)
	if !ok {
		return nil
	}
	for _, c := range populated(owner.CollectionSlots()) {
		for _, child := range c.Items {
			if err := m.saveGraph(ctx, child, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Dependent) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txm == nil {
		return fn(ctx)
	}
	return m.txm.RunInTransaction(ctx, fn)
}

// populated returns the populated collections of slots.
func populated(slots *entity.Slots) []*entity.Collection {
	var out []*entity.Collection
	slots.Each(func(_ entity.Slot, c *entity.Collection) {
		if c.Populated {
			out = append(out, c)
		}
	})
	return out
}

func requirePersisted(typeName string, e entity.Entity) (id.ID, error) {
	if !entity.IsPersisted(e) {
		return id.Nil(), apperror.NewInvalidArgument("entity is not saved").
			WithDetail("entity", typeName)
	}
	return e.EntityID(), nil
}
