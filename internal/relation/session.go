// Package relation implements entities that own inverse (one-to-many)
// collections: Referenced entities and their tree-shaped Self-Referenced
// variant. Collections are resolved by naming convention from the
// foreign-key metadata and loaded lazily through the data mapper.
package relation

import (
	"context"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/mapper"
	"relmap/internal/metadata"
	"relmap/internal/query"
)

// Repository is the per-type storage surface collections delegate to.
// Models implement it; Session falls back to a plain mapper-backed
// implementation for types without a registered model.
type Repository interface {
	// GetByReference returns the entities whose property references parent.
	GetByReference(ctx context.Context, property string, parent entity.Entity, order query.Order) ([]entity.Entity, error)

	// CountByReference counts the entities whose property references parent.
	CountByReference(ctx context.Context, property string, parent entity.Entity) (int64, error)
}

// Session is the process-scoped context entities are attached to.
// It is built once at startup and shared by reference.
type Session struct {
	Registry *metadata.Registry
	Cache    *metadata.Cache
	Mapper   mapper.DataMapper

	repos map[string]Repository
}

// NewSession creates a session and installs it as the attacher of m
// when the mapper hydrates entities.
func NewSession(cache *metadata.Cache, m mapper.DataMapper) *Session {
	s := &Session{
		Registry: cache.Registry(),
		Cache:    cache,
		Mapper:   m,
		repos:    make(map[string]Repository),
	}
	if as, ok := m.(mapper.AttacherSetter); ok {
		as.SetAttacher(s)
	}
	return s
}

// binder is satisfied through embedding of Referenced.
type binder interface {
	bind(s *Session, self entity.Entity)
}

// Attach binds e to the session. Entities without collections are ignored.
func (s *Session) Attach(e entity.Entity) {
	if entity.IsNil(e) {
		return
	}
	if b, ok := e.(binder); ok {
		b.bind(s, e)
	}
}

// New creates an attached instance of the registered type.
func (s *Session) New(typeName string) (entity.Entity, error) {
	e, err := s.Registry.New(typeName)
	if err != nil {
		return nil, err
	}
	s.Attach(e)
	return e, nil
}

// RegisterRepository makes r the repository collections of typeName delegate to.
func (s *Session) RegisterRepository(typeName string, r Repository) {
	s.repos[typeName] = r
}

// Repository returns the repository for typeName.
func (s *Session) Repository(typeName string) (Repository, error) {
	if r, ok := s.repos[typeName]; ok {
		return r, nil
	}
	def, err := s.Registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return &mapperRepository{def: def, mapper: s.Mapper}, nil
}

// mapperRepository runs by-reference queries directly through the mapper.
type mapperRepository struct {
	def    *metadata.EntityDef
	mapper mapper.DataMapper
}

func (r *mapperRepository) GetByReference(ctx context.Context, property string, parent entity.Entity, order query.Order) ([]entity.Entity, error) {
	q, b, err := r.byReference(property, parent, order)
	if err != nil {
		return nil, err
	}
	return r.mapper.Find(ctx, q, b)
}

func (r *mapperRepository) CountByReference(ctx context.Context, property string, parent entity.Entity) (int64, error) {
	q, b, err := r.byReference(property, parent, nil)
	if err != nil {
		return 0, err
	}
	return r.mapper.Count(ctx, q, b)
}

func (r *mapperRepository) byReference(property string, parent entity.Entity, order query.Order) (*query.Query, query.Binding, error) {
	f, ok := r.def.Field(property)
	if !ok || !f.IsReference() {
		return nil, query.Binding{}, apperror.NewInvalidProperty(r.def.Name, property)
	}

	var b query.Binding
	q := query.New(r.def).SetWhere()
	if entity.IsNil(parent) {
		q.AppendCondition(f.Name, query.OpIs, query.Null, true)
	} else {
		q.AppendCondition(f.Name, query.OpEqual, query.Placeholder, true)
		b.Add(parent, query.BindEntity)
	}
	if len(order) > 0 {
		q.SetOrderBy(order)
	}
	if err := q.Close(); err != nil {
		return nil, query.Binding{}, err
	}
	return q, b, nil
}
