package model

import (
	"context"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/metadata"
	"relmap/internal/query"
	"relmap/internal/relation"
	"relmap/pkg/logger"
)

// childrenSetter is promoted to tree entities by relation.SelfReferenced.
type childrenSetter interface {
	SetChildren(ctx context.Context, children []entity.Entity) error
}

// SelfReferenced is the model of a tree-shaped type whose Parent<Type>
// foreign key points at its own type.
type SelfReferenced struct {
	*Referenced
	parent string
}

// NewSelfReferenced creates a SelfReferenced model. The type must embed
// relation.SelfReferenced and declare its parent foreign key.
func NewSelfReferenced(cfg Config) (*SelfReferenced, error) {
	r, err := NewReferenced(cfg)
	if err != nil {
		return nil, err
	}
	if r.def.Kind != metadata.KindSelfReferenced {
		return nil, apperror.NewInvalidArgument("entity type is not self-referenced").
			WithDetail("entity", r.def.Name)
	}
	prop := relation.ParentProperty(r.def.Name)
	dt, err := r.registry.DeclaredType(r.def.Name, prop)
	if err != nil {
		return nil, err
	}
	if dt.Builtin || dt.ReferenceType != r.def.Name {
		return nil, apperror.NewInvalidProperty(r.def.Name, prop).
			WithDetail("reason", "parent must reference "+r.def.Name)
	}
	return &SelfReferenced{Referenced: r, parent: prop}, nil
}

// ParentProperty returns the parent foreign-key property.
func (m *SelfReferenced) ParentProperty() string {
	return m.parent
}

// GetChildren returns the direct children of parent; a nil parent returns
// the roots.
func (m *SelfReferenced) GetChildren(ctx context.Context, parent entity.Entity, order query.Order) ([]entity.Entity, error) {
	return m.Get(ctx, Spec{
		Action: ActionGet,
		Parent: &ParentMatch{Parent: parent},
		Order:  order,
	})
}

// CountChildren counts the direct children of parent in storage.
func (m *SelfReferenced) CountChildren(ctx context.Context, parent entity.Entity) (int64, error) {
	return m.Count(ctx, Spec{Action: ActionCount, Parent: &ParentMatch{Parent: parent}})
}

// GetEntityTree loads the subtree under parent depth-first and stores every
// level in its node's Children collection. A nil parent loads the whole
// forest. It returns the first level.
//
// A node reached twice means the stored parent links form a cycle; the
// walk stops with a conflict error.
func (m *SelfReferenced) GetEntityTree(ctx context.Context, parent entity.Entity, order query.Order) ([]entity.Entity, error) {
	visited := make(map[id.ID]struct{})
	if entity.IsPersisted(parent) {
		visited[parent.EntityID()] = struct{}{}
	}
	return m.tree(ctx, parent, order, visited)
}

func (m *SelfReferenced) tree(ctx context.Context, parent entity.Entity, order query.Order, visited map[id.ID]struct{}) ([]entity.Entity, error) {
	children, err := m.GetChildren(ctx, parent, order)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if err := m.visit(child, visited); err != nil {
			return nil, err
		}
		if _, err := m.tree(ctx, child, order, visited); err != nil {
			return nil, err
		}
	}
	if !entity.IsNil(parent) {
		if err := m.setChildren(ctx, parent, children); err != nil {
			return nil, err
		}
	}
	return children, nil
}

// DeleteEntityTree deletes node and all of its descendants, children before
// parents, and returns the number of nodes removed. It runs in a single
// transaction when the model has a transaction manager.
func (m *SelfReferenced) DeleteEntityTree(ctx context.Context, node entity.Entity) (int64, error) {
	if err := m.check(node); err != nil {
		return 0, err
	}
	if _, err := requirePersisted(m.def.Name, node); err != nil {
		return 0, err
	}

	var deleted int64
	err := m.inTx(ctx, func(ctx context.Context) error {
		deleted = 0
		var order []entity.Entity
		if err := m.postOrder(ctx, node, make(map[id.ID]struct{}), &order); err != nil {
			return err
		}
		for _, n := range order {
			ok, err := m.Delete(ctx, Delete().Where(m.idProperty(), n.EntityID()))
			if err != nil {
				return err
			}
			if ok {
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Info(ctx, "entity tree deleted", "entity", m.def.Name, "root", node.EntityID().String(), "nodes", deleted)
	return deleted, nil
}

// postOrder appends the subtree under node to out, children before parents.
// It only reads; DeleteEntityTree deletes once the walk has completed.
func (m *SelfReferenced) postOrder(ctx context.Context, node entity.Entity, visited map[id.ID]struct{}, out *[]entity.Entity) error {
	if err := m.visit(node, visited); err != nil {
		return err
	}
	children, err := m.GetChildren(ctx, node, nil)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := m.postOrder(ctx, child, visited, out); err != nil {
			return err
		}
	}
	*out = append(*out, node)
	return nil
}

func (m *SelfReferenced) visit(node entity.Entity, visited map[id.ID]struct{}) error {
	nodeID, err := requirePersisted(m.def.Name, node)
	if err != nil {
		return err
	}
	if _, seen := visited[nodeID]; seen {
		return apperror.NewConflict("cycle in parent links").
			WithDetail("entity", m.def.Name).
			WithDetail("id", nodeID.String())
	}
	visited[nodeID] = struct{}{}
	return nil
}

func (m *SelfReferenced) setChildren(ctx context.Context, node entity.Entity, children []entity.Entity) error {
	cs, ok := node.(childrenSetter)
	if !ok {
		return apperror.NewInvalidArgument("entity is not a tree node").
			WithDetail("entity", m.def.Name)
	}
	m.session.Attach(node)
	return cs.SetChildren(ctx, children)
}
