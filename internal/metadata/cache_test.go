package metadata

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string]ForeignKeyData
	loads   int
	saves   int
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]ForeignKeyData)}
}

func (s *memStore) Load(typeName, checksum string) (ForeignKeyData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	d, ok := s.data[typeName+"@"+checksum]
	return d, ok, nil
}

func (s *memStore) Save(typeName, checksum string, data ForeignKeyData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.data[typeName+"@"+checksum] = data
	return nil
}

func TestCache_ForeignKeyData(t *testing.T) {
	c := NewCache(testRegistry())
	ctx := context.Background()

	fk := c.ForeignKeyData(ctx, "customer")
	assert.Equal(t, ForeignKeyData{
		"order": {"Customer": "customer", "Billing": "customer"},
	}, fk)
	assert.Equal(t, []string{"Billing", "Customer"}, fk.Properties("order"))

	assert.Equal(t, ForeignKeyData{"node": {"ParentNode": "node"}}, c.ForeignKeyData(ctx, "node"))
	assert.Empty(t, c.ForeignKeyData(ctx, "order"))
}

func TestCache_ForeignKeyDataFor(t *testing.T) {
	c := NewCache(testRegistry())

	fk, err := c.ForeignKeyDataFor(context.Background(), &customer{})
	require.NoError(t, err)
	assert.Contains(t, fk, "order")

	_, err = c.ForeignKeyDataFor(context.Background(), &ghost{})
	assert.Error(t, err)
}

func TestCache_IsStable(t *testing.T) {
	c := NewCache(testRegistry())
	ctx := context.Background()

	first := c.ForeignKeyData(ctx, "customer")
	second := c.ForeignKeyData(ctx, "customer")
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())

	c.Reset()
	third := c.ForeignKeyData(ctx, "customer")
	assert.NotEqual(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(third).Pointer())
	assert.Equal(t, first, third)
}

func TestCache_ConcurrentFirstAccess(t *testing.T) {
	c := NewCache(testRegistry())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]ForeignKeyData, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.ForeignKeyData(ctx, "customer")
		}(i)
	}
	wg.Wait()

	// Every later call sees the single stored value.
	stored := reflect.ValueOf(c.ForeignKeyData(ctx, "customer")).Pointer()
	for _, r := range results {
		assert.Equal(t, ForeignKeyData{"order": {"Customer": "customer", "Billing": "customer"}}, r)
	}
	assert.Equal(t, stored, reflect.ValueOf(c.ForeignKeyData(ctx, "customer")).Pointer())
}

func TestCache_NoCache(t *testing.T) {
	store := newMemStore()
	c := NewCache(testRegistry(), WithStore(store), WithNoCache(true))
	ctx := context.Background()

	first := c.ForeignKeyData(ctx, "customer")
	second := c.ForeignKeyData(ctx, "customer")
	assert.Equal(t, first, second)
	assert.Zero(t, store.loads)
	assert.Zero(t, store.saves)
}

func TestCache_Store(t *testing.T) {
	store := newMemStore()
	registry := testRegistry()
	ctx := context.Background()

	warm := NewCache(registry, WithStore(store))
	want := warm.ForeignKeyData(ctx, "customer")
	assert.Equal(t, 1, store.loads)
	assert.Equal(t, 1, store.saves)

	// A second process with the same schema reads the file.
	cold := NewCache(registry, WithStore(store))
	assert.Equal(t, want, cold.ForeignKeyData(ctx, "customer"))
	assert.Equal(t, 2, store.loads)
	assert.Equal(t, 1, store.saves)
}

func TestCache_StoreErrorFallsBackToCompute(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("corrupt file")
	c := NewCache(testRegistry(), WithStore(store))

	fk := c.ForeignKeyData(context.Background(), "customer")
	assert.Contains(t, fk, "order")
	assert.Equal(t, 1, store.saves)
}

func TestRegistry_Checksum(t *testing.T) {
	a := testRegistry().Checksum()
	b := testRegistry().Checksum()
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	changed := testRegistry().MustRegister(&legacy{})
	assert.NotEqual(t, a, changed.Checksum())
}
