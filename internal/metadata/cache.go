package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"relmap/internal/core/entity"
	"relmap/pkg/logger"
)

// ForeignKeyData maps owning type -> foreign-key property -> referenced type.
// For type T it answers "who points at me, and through which properties".
type ForeignKeyData map[string]map[string]string

// Properties returns the foreign-key properties of owner pointing at the
// inspected type, sorted.
func (d ForeignKeyData) Properties(owner string) []string {
	props := make([]string, 0, len(d[owner]))
	for p := range d[owner] {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

// Store persists computed foreign-key data between process runs.
// Entries are keyed by type name and the registry checksum, so a schema
// change never serves stale data.
type Store interface {
	Load(typeName, checksum string) (ForeignKeyData, bool, error)
	Save(typeName, checksum string, data ForeignKeyData) error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithStore enables on-disk persistence.
func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

// WithNoCache makes every lookup recompute from the registry.
func WithNoCache(noCache bool) CacheOption {
	return func(c *Cache) { c.noCache = noCache }
}

// Cache memoizes foreign-key metadata per entity type.
// An entry is written at most once per type and then only read; a racing
// first population recomputes the same value and the first writer wins.
type Cache struct {
	registry *Registry
	store    Store
	noCache  bool

	mu   sync.RWMutex
	data map[string]ForeignKeyData
}

// NewCache creates a foreign-key cache over registry.
func NewCache(registry *Registry, opts ...CacheOption) *Cache {
	c := &Cache{
		registry: registry,
		data:     make(map[string]ForeignKeyData),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the schema the cache is computed from.
func (c *Cache) Registry() *Registry {
	return c.registry
}

// ForeignKeyData returns the inverse foreign-key index for typeName.
// The returned map is shared; callers must not mutate it.
func (c *Cache) ForeignKeyData(ctx context.Context, typeName string) ForeignKeyData {
	if c.noCache {
		return c.compute(typeName)
	}

	c.mu.RLock()
	data, ok := c.data[typeName]
	c.mu.RUnlock()
	if ok {
		return data
	}

	data = c.loadOrCompute(ctx, typeName)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.data[typeName]; ok {
		return existing
	}
	c.data[typeName] = data
	return data
}

// ForeignKeyDataFor is ForeignKeyData keyed by the dynamic type of e.
func (c *Cache) ForeignKeyDataFor(ctx context.Context, e entity.Entity) (ForeignKeyData, error) {
	def, err := c.registry.DefOf(e)
	if err != nil {
		return nil, err
	}
	return c.ForeignKeyData(ctx, def.Name), nil
}

// Reset drops every memoized entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.data = make(map[string]ForeignKeyData)
	c.mu.Unlock()
}

func (c *Cache) loadOrCompute(ctx context.Context, typeName string) ForeignKeyData {
	if c.store == nil {
		return c.compute(typeName)
	}

	sum := c.registry.Checksum()
	data, ok, err := c.store.Load(typeName, sum)
	if err != nil {
		logger.Warn(ctx, "metadata cache file unreadable, recomputing", "type", typeName, "error", err)
	}
	if ok {
		return data
	}

	data = c.compute(typeName)
	if err := c.store.Save(typeName, sum, data); err != nil {
		logger.Warn(ctx, "metadata cache file not written", "type", typeName, "error", err)
	}
	logger.Debug(ctx, "foreign key metadata computed", "type", typeName, "owners", len(data))
	return data
}

// compute reflects over every registered type and records the properties
// referencing typeName.
func (c *Cache) compute(typeName string) ForeignKeyData {
	data := make(ForeignKeyData)
	for _, def := range c.registry.List() {
		for _, f := range def.Fields {
			if !f.IsReference() || f.ReferenceType != typeName {
				continue
			}
			if data[def.Name] == nil {
				data[def.Name] = make(map[string]string)
			}
			data[def.Name][f.Name] = f.ReferenceType
		}
	}
	return data
}

// Checksum fingerprints the registered schema (names, columns, kinds and
// references).
func (r *Registry) Checksum() string {
	var b strings.Builder
	for _, def := range r.List() {
		b.WriteString(def.Name)
		b.WriteByte('(')
		b.WriteString(def.Table)
		b.WriteByte(')')
		for _, f := range def.Fields {
			fmt.Fprintf(&b, "%s:%s:%s:%t:%s;", f.Name, f.Column, f.Type, f.Nullable, f.ReferenceType)
		}
		b.WriteByte('|')
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}
