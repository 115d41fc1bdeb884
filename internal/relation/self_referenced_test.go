package relation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/domain/sales"
	"relmap/internal/mapper/mappertest"
	"relmap/internal/relation"
)

func TestParentProperty(t *testing.T) {
	assert.Equal(t, "ParentCategory", relation.ParentProperty("Category"))

	s, _ := newSession(t)
	c := &sales.Category{}
	s.Attach(c)
	assert.Equal(t, "ParentCategory", c.ParentProperty())
}

func TestChildren_LoadsByParent(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()

	root := &sales.Category{Name: "Root"}
	root.ID = id.New()
	s.Attach(root)
	rec.FindFunc = func(mappertest.Call) ([]entity.Entity, error) {
		return []entity.Entity{&sales.Category{Name: "Leaf"}}, nil
	}

	children, err := root.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, children.Len())

	finds := rec.Calls(mappertest.OpFind)
	require.Len(t, finds, 1)
	assert.Equal(t, "Category", finds[0].Entity)
	assert.Equal(t, "parent_id = ?", finds[0].Where)

	// The declared name resolves to the same slot.
	same, err := root.Collection(ctx, "CategoriesByParentCategory")
	require.NoError(t, err)
	assert.Same(t, children, same)
	assert.Len(t, rec.Calls(mappertest.OpFind), 1)
}

func TestChildren_SetAndAdd(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()

	root := &sales.Category{Name: "Root"}
	s.Attach(root)

	a, b := &sales.Category{Name: "A"}, &sales.Category{Name: "B"}
	require.NoError(t, root.SetChildren(ctx, []entity.Entity{a}))
	require.NoError(t, root.AddChild(ctx, b))

	assert.Same(t, root, a.ParentCategory)
	assert.Same(t, root, b.ParentCategory)

	children, err := root.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entity.Entity{a, b}, children.Items)

	n, err := root.CountChildren(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.Calls(""))
}

func TestChildren_OtherCollectionsStillResolve(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()

	cat := &sales.Category{Name: "Tools"}
	cat.ID = id.New()
	s.Attach(cat)

	_, err := cat.Call(ctx, "getProducts")
	require.NoError(t, err)
	finds := rec.Calls(mappertest.OpFind)
	require.Len(t, finds, 1)
	assert.Equal(t, "Product", finds[0].Entity)
	assert.Equal(t, "category_id = ?", finds[0].Where)

	_, err = cat.Call(ctx, "addChildren", &sales.Product{})
	assert.True(t, apperror.IsInvalidArgument(err))
}
