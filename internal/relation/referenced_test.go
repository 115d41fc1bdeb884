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
	"relmap/internal/metadata"
	"relmap/internal/query"
	"relmap/internal/relation"
)

func newSession(t *testing.T) (*relation.Session, *mappertest.Recorder) {
	t.Helper()
	rec := &mappertest.Recorder{}
	return relation.NewSession(metadata.NewCache(sales.Schema()), rec), rec
}

func persistedCustomer(s *relation.Session) *sales.Customer {
	c := &sales.Customer{Name: "Acme"}
	c.ID = id.New()
	s.Attach(c)
	return c
}

func TestCollection_UnsavedOwnerNeverQueries(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := &sales.Customer{}
	s.Attach(c)

	coll, err := c.Collection(ctx, "Orders")
	require.NoError(t, err)
	assert.True(t, coll.Populated)
	assert.Zero(t, coll.Len())
	assert.Empty(t, rec.Calls(""))

	n, err := c.CountCollection(ctx, "Orders")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.Calls(""))
}

func TestCollection_LoadsOnceFromStorage(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := persistedCustomer(s)

	stored := []entity.Entity{&sales.Order{Number: "A-1"}, &sales.Order{Number: "A-2"}}
	rec.FindFunc = func(mappertest.Call) ([]entity.Entity, error) { return stored, nil }

	first, err := c.Collection(ctx, "Orders")
	require.NoError(t, err)
	second, err := c.Collection(ctx, "OrdersByCustomer")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, first.Len())

	finds := rec.Calls(mappertest.OpFind)
	require.Len(t, finds, 1)
	assert.Equal(t, "Order", finds[0].Entity)
	assert.Equal(t, "customer_id = ?", finds[0].Where)
	assert.Equal(t, []query.BindType{query.BindEntity}, finds[0].Types)
	assert.Equal(t, []any{c.ID}, finds[0].Args)
}

func TestCollection_StorageErrorIsReturned(t *testing.T) {
	s, rec := newSession(t)
	c := persistedCustomer(s)
	rec.FindFunc = func(mappertest.Call) ([]entity.Entity, error) {
		return nil, apperror.NewStorage("find", assert.AnError)
	}

	_, err := c.Collection(context.Background(), "Orders")
	assert.True(t, apperror.IsStorage(err))
	assert.False(t, c.CollectionSlots().Populated(entity.Slot{Owner: "Order", Property: "Customer"}))
}

func TestSetCollection_ReparentsItems(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := persistedCustomer(s)
	other := persistedCustomer(s)

	o1 := &sales.Order{Number: "1", Customer: other}
	o2 := &sales.Order{Number: "2"}
	items := []entity.Entity{o1, o2}
	require.NoError(t, c.SetCollection(ctx, "Orders", items))

	assert.Same(t, c, o1.Customer)
	assert.Same(t, c, o2.Customer)

	coll, err := c.Collection(ctx, "Orders")
	require.NoError(t, err)
	assert.Equal(t, items, coll.Items)
	assert.Empty(t, rec.Calls(mappertest.OpFind))

	// The collection keeps its own slice.
	items[0] = o2
	assert.Same(t, o1, coll.Items[0])
}

func TestSetCollection_RejectsWrongType(t *testing.T) {
	s, _ := newSession(t)
	c := persistedCustomer(s)

	err := c.SetCollection(context.Background(), "Orders", []entity.Entity{&sales.Product{}})
	assert.True(t, apperror.IsInvalidArgument(err))

	err = c.SetCollection(context.Background(), "Orders", []entity.Entity{nil})
	assert.True(t, apperror.IsInvalidArgument(err))
}

func TestSetCollection_RejectedLeavesItemsUntouched(t *testing.T) {
	s, _ := newSession(t)
	c := persistedCustomer(s)

	valid := &sales.Order{Number: "1"}
	err := c.SetCollection(context.Background(), "Orders", []entity.Entity{valid, &sales.Category{}})

	assert.True(t, apperror.IsInvalidArgument(err))
	assert.Nil(t, valid.Customer)
	assert.False(t, c.CollectionSlots().Populated(entity.Slot{Owner: "Order", Property: "Customer"}))
}

func TestAddToCollection_Deduplicates(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := persistedCustomer(s)

	o := &sales.Order{Number: "1"}
	o.ID = id.New()
	require.NoError(t, c.AddToCollection(ctx, "Orders", o))

	again := &sales.Order{Number: "1 (edited)"}
	again.ID = o.ID
	require.NoError(t, c.AddToCollection(ctx, "Orders", again))

	coll, err := c.Collection(ctx, "Orders")
	require.NoError(t, err)
	require.Equal(t, 1, coll.Len())
	assert.Same(t, again, coll.Items[0])
	assert.Same(t, c, again.Customer)
	assert.Empty(t, rec.Calls(mappertest.OpFind))
}

func TestAddToCollection_UnsetSlotSkipsStorage(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := persistedCustomer(s)

	o := &sales.Order{Number: "1"}
	require.NoError(t, c.AddToCollection(ctx, "Orders", o))

	slot := entity.Slot{Owner: "Order", Property: "Customer"}
	assert.True(t, c.CollectionSlots().Populated(slot))

	coll, err := c.Collection(ctx, "Orders")
	require.NoError(t, err)
	assert.Equal(t, []entity.Entity{o}, coll.Items)
	assert.Empty(t, rec.Calls(mappertest.OpFind))
}

func TestCountCollection_DelegatesToStorage(t *testing.T) {
	s, rec := newSession(t)
	c := persistedCustomer(s)
	rec.CountFunc = func(mappertest.Call) (int64, error) { return 5, nil }

	n, err := c.CountCollection(context.Background(), "Orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	counts := rec.Calls(mappertest.OpCount)
	require.Len(t, counts, 1)
	assert.Equal(t, "customer_id = ?", counts[0].Where)
	assert.False(t, c.CollectionSlots().Populated(entity.Slot{Owner: "Order", Property: "Customer"}))
}

func TestCollection_UnknownName(t *testing.T) {
	s, _ := newSession(t)
	c := persistedCustomer(s)

	for _, name := range []string{"Invoices", "OrdersByNumber", "Children", "orders"} {
		_, err := c.Collection(context.Background(), name)
		assert.True(t, apperror.IsInvalidProperty(err), name)
	}
}

func TestCollection_RequiresSession(t *testing.T) {
	_, err := (&sales.Customer{}).Collection(context.Background(), "Orders")
	assert.True(t, apperror.IsInvalidArgument(err))
}

func TestCall(t *testing.T) {
	s, rec := newSession(t)
	ctx := context.Background()
	c := persistedCustomer(s)
	rec.CountFunc = func(mappertest.Call) (int64, error) { return 3, nil }

	o := &sales.Order{Number: "7"}
	_, err := c.Call(ctx, "setOrders", []*sales.Order{o})
	require.NoError(t, err)
	assert.Same(t, c, o.Customer)

	_, err = c.Call(ctx, "addOrdersByCustomer", &sales.Order{Number: "8"})
	require.NoError(t, err)

	got, err := c.Call(ctx, "getOrders")
	require.NoError(t, err)
	coll, ok := got.(*entity.Collection)
	require.True(t, ok)
	assert.Equal(t, 2, coll.Len())

	got, err = c.Call(ctx, "countOrders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = c.Call(ctx, "removeOrders", o)
	assert.True(t, apperror.IsMethodNotFound(err))

	_, err = c.Call(ctx, "setOrders")
	assert.True(t, apperror.IsInvalidArgument(err))

	_, err = c.Call(ctx, "setOrders", "not a slice")
	assert.True(t, apperror.IsInvalidArgument(err))

	_, err = c.Call(ctx, "addOrders", "not an entity")
	assert.True(t, apperror.IsInvalidArgument(err))
}

func TestSession_New(t *testing.T) {
	s, _ := newSession(t)

	e, err := s.New("Customer")
	require.NoError(t, err)
	c, ok := e.(*sales.Customer)
	require.True(t, ok)
	assert.Same(t, s, c.Session())

	_, err = s.New("Invoice")
	assert.Error(t, err)
}

type fakeRepository struct {
	property string
	parent   entity.Entity
	items    []entity.Entity
}

func (f *fakeRepository) GetByReference(_ context.Context, property string, parent entity.Entity, _ query.Order) ([]entity.Entity, error) {
	f.property, f.parent = property, parent
	return f.items, nil
}

func (f *fakeRepository) CountByReference(_ context.Context, _ string, _ entity.Entity) (int64, error) {
	return int64(len(f.items)), nil
}

func TestSession_RegisteredRepositoryIsUsed(t *testing.T) {
	s, rec := newSession(t)
	repo := &fakeRepository{items: []entity.Entity{&sales.Order{}}}
	s.RegisterRepository("Order", repo)
	c := persistedCustomer(s)

	coll, err := c.Collection(context.Background(), "Orders")
	require.NoError(t, err)
	assert.Equal(t, 1, coll.Len())
	assert.Equal(t, "Customer", repo.property)
	assert.Same(t, c, repo.parent)
	assert.Empty(t, rec.Calls(""))
}

func TestSession_FallbackRepositoryMatchesNullParent(t *testing.T) {
	s, rec := newSession(t)

	repo, err := s.Repository("Category")
	require.NoError(t, err)
	_, err = repo.GetByReference(context.Background(), "ParentCategory", nil, query.By("Name"))
	require.NoError(t, err)

	finds := rec.Calls(mappertest.OpFind)
	require.Len(t, finds, 1)
	assert.Equal(t, "parent_id IS NULL", finds[0].Where)
	assert.Equal(t, []string{"name ASC"}, finds[0].Order)
	assert.Empty(t, finds[0].Args)

	_, err = repo.CountByReference(context.Background(), "Name", nil)
	assert.True(t, apperror.IsInvalidProperty(err))
}
