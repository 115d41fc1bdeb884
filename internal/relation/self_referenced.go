package relation

import (
	"context"

	"relmap/internal/core/entity"
)

const (
	// ChildrenCollection names the implicit collection of a tree node.
	ChildrenCollection = "Children"

	parentPrefix = "Parent"
)

// ParentProperty returns the foreign-key property a tree type uses to point
// at its parent: "Parent" followed by the type name.
func ParentProperty(typeName string) string {
	return parentPrefix + typeName
}

// SelfReferenced is embedded by tree-shaped entities. The type must declare
// a nullable foreign key named Parent<TypeName> pointing at its own type;
// the Children collection resolves to it without being declared.
type SelfReferenced struct {
	Referenced
}

// SelfReferencing implements entity.TreeNode.
func (s *SelfReferenced) SelfReferencing() {}

func (s *SelfReferenced) bind(sess *Session, self entity.Entity) {
	s.Referenced.bind(sess, self)
	s.tree = true
}

// Children returns the live collection of direct children.
func (s *SelfReferenced) Children(ctx context.Context) (*entity.Collection, error) {
	return s.Collection(ctx, ChildrenCollection)
}

// SetChildren replaces the children, re-parenting each of them.
func (s *SelfReferenced) SetChildren(ctx context.Context, children []entity.Entity) error {
	return s.SetCollection(ctx, ChildrenCollection, children)
}

// AddChild re-parents child and adds it to the children.
func (s *SelfReferenced) AddChild(ctx context.Context, child entity.Entity) error {
	return s.AddToCollection(ctx, ChildrenCollection, child)
}

// CountChildren counts the stored children.
func (s *SelfReferenced) CountChildren(ctx context.Context) (int64, error) {
	return s.CountCollection(ctx, ChildrenCollection)
}

// ParentProperty returns the parent foreign-key property of this node's type.
func (s *SelfReferenced) ParentProperty() string {
	return ParentProperty(s.typeName())
}
