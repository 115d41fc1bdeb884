package model

import (
	"context"
	"reflect"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/core/tx"
	"relmap/internal/mapper"
	"relmap/internal/metadata"
	"relmap/internal/query"
	"relmap/internal/relation"
	"relmap/pkg/logger"
)

// Compile-time check that Dependent can back relation collections.
var _ relation.Repository = (*Dependent)(nil)

// Config configures a model.
type Config struct {
	Session *relation.Session

	// TypeName is the registered entity type the model serves.
	TypeName string

	// TxManager is optional; without it multi-statement operations run
	// statement by statement.
	TxManager tx.Manager

	// SearchFields are the string properties matched by a search key.
	SearchFields []string
}

// Dependent is the model of an entity type. It compiles Specs into queries
// and hands them to the data mapper.
type Dependent struct {
	session  *relation.Session
	registry *metadata.Registry
	mapper   mapper.DataMapper
	txm      tx.Manager
	def      *metadata.EntityDef
	search   []string
}

// NewDependent creates a model and registers it as the repository for its
// type's collections.
func NewDependent(cfg Config) (*Dependent, error) {
	if cfg.Session == nil {
		return nil, apperror.NewInvalidArgument("model requires a session")
	}
	def, err := cfg.Session.Registry.Lookup(cfg.TypeName)
	if err != nil {
		return nil, err
	}
	for _, f := range cfg.SearchFields {
		dt, err := cfg.Session.Registry.DeclaredType(def.Name, f)
		if err != nil {
			return nil, err
		}
		if dt.Kind != metadata.TypeString {
			return nil, apperror.NewInvalidProperty(def.Name, f).
				WithDetail("reason", "search fields must be strings")
		}
	}

	m := &Dependent{
		session:  cfg.Session,
		registry: cfg.Session.Registry,
		mapper:   cfg.Session.Mapper,
		txm:      cfg.TxManager,
		def:      def,
		search:   cfg.SearchFields,
	}
	cfg.Session.RegisterRepository(def.Name, m)
	return m, nil
}

// Name returns the entity type name.
func (m *Dependent) Name() string {
	return m.def.Name
}

// Def returns the entity definition.
func (m *Dependent) Def() *metadata.EntityDef {
	return m.def
}

// New creates an unsaved entity attached to the session.
func (m *Dependent) New() (entity.Entity, error) {
	return m.session.New(m.def.Name)
}

// Save persists e, assigning its id when it is new.
func (m *Dependent) Save(ctx context.Context, e entity.Entity) (bool, error) {
	if err := m.check(e); err != nil {
		return false, err
	}
	if err := validate(ctx, e); err != nil {
		return false, err
	}
	ok, err := m.mapper.Save(ctx, e)
	if err != nil {
		return false, err
	}
	m.session.Attach(e)
	return ok, nil
}

// Count returns the number of entities matching spec.
func (m *Dependent) Count(ctx context.Context, spec Spec) (int64, error) {
	q, b, err := m.compile(spec)
	if err != nil {
		return 0, err
	}
	return m.mapper.Count(ctx, q, b)
}

// Get returns the entities matching spec, honoring its order and window.
func (m *Dependent) Get(ctx context.Context, spec Spec) ([]entity.Entity, error) {
	q, b, err := m.compile(spec)
	if err != nil {
		return nil, err
	}
	items, err := m.mapper.Find(ctx, q, b)
	if err != nil {
		return nil, err
	}
	for _, e := range items {
		m.session.Attach(e)
	}
	return items, nil
}

// GetOne returns the first entity matching spec or a not-found error.
func (m *Dependent) GetOne(ctx context.Context, spec Spec) (entity.Entity, error) {
	one := uint64(1)
	spec.Limit = &one
	items, err := m.Get(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperror.NewNotFound(m.def.Name, describe(spec))
	}
	return items[0], nil
}

// GetByID returns the entity with the given identifier.
func (m *Dependent) GetByID(ctx context.Context, v id.ID) (entity.Entity, error) {
	return m.GetOne(ctx, Get().Where(m.idProperty(), v))
}

// Delete removes every entity matching spec. A Spec without predicates is
// rejected by the mapper.
func (m *Dependent) Delete(ctx context.Context, spec Spec) (bool, error) {
	q, b, err := m.compile(spec)
	if err != nil {
		return false, err
	}
	return m.mapper.DeleteBatch(ctx, q, b)
}

// Execute runs spec according to its action. Results are int64 for count,
// []entity.Entity or entity.Entity for get and bool for delete.
func (m *Dependent) Execute(ctx context.Context, spec Spec) (any, error) {
	if spec.Collection != "" && spec.Collection != metadata.CollectionName(m.def.Name) {
		return nil, apperror.NewMethodNotFound(m.def.Name, string(spec.Action)+spec.Collection)
	}
	if spec.Parent != nil && m.def.Kind != metadata.KindSelfReferenced {
		// Only tree types have a parent link; elsewhere "Parent" is an ordinary property.
		spec.Predicates = append([]Predicate{{Property: tokenParent, Value: spec.Parent.Parent}}, spec.Predicates...)
		spec.Parent = nil
	}
	switch spec.Action {
	case ActionCount:
		return m.Count(ctx, spec)
	case ActionGet:
		if spec.One {
			return m.GetOne(ctx, spec)
		}
		return m.Get(ctx, spec)
	case ActionDelete:
		return m.Delete(ctx, spec)
	}
	return nil, apperror.NewMethodNotFound(m.def.Name, string(spec.Action))
}

// Call compiles a convention method name ("getByCustomerAndStatus",
// "countByCustomer", "getOneByCode") and executes it.
func (m *Dependent) Call(ctx context.Context, method string, args ...any) (any, error) {
	spec, err := Parse(m.def.Name, method, args...)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "convention call", "entity", m.def.Name, "method", method)
	return m.Execute(ctx, spec)
}

// GetByReference implements relation.Repository.
func (m *Dependent) GetByReference(ctx context.Context, property string, parent entity.Entity, order query.Order) ([]entity.Entity, error) {
	if err := m.reference(property); err != nil {
		return nil, err
	}
	return m.Get(ctx, Spec{Action: ActionGet, Order: order}.Where(property, parent))
}

// CountByReference implements relation.Repository.
func (m *Dependent) CountByReference(ctx context.Context, property string, parent entity.Entity) (int64, error) {
	if err := m.reference(property); err != nil {
		return 0, err
	}
	return m.Count(ctx, Count().Where(property, parent))
}

func (m *Dependent) compile(spec Spec) (*query.Query, query.Binding, error) {
	q := query.New(m.def)
	b, err := buildConditions(q, m.registry, m.def, spec, m.search)
	if err != nil {
		return nil, query.Binding{}, err
	}
	if spec.Action == ActionGet {
		q.SetOrderBy(spec.Order).SetOffset(spec.Offset).SetLimit(spec.Limit)
	}
	if err := q.Close(); err != nil {
		return nil, query.Binding{}, err
	}
	return q, b, nil
}

func (m *Dependent) reference(property string) error {
	dt, err := m.registry.DeclaredType(m.def.Name, property)
	if err != nil {
		return err
	}
	if dt.Builtin {
		return apperror.NewInvalidProperty(m.def.Name, property).
			WithDetail("reason", "not a foreign key")
	}
	return nil
}

func (m *Dependent) check(e entity.Entity) error {
	if entity.IsNil(e) {
		return apperror.NewInvalidArgument("entity is nil").WithDetail("entity", m.def.Name)
	}
	if name, ok := m.registry.NameOf(e); !ok || name != m.def.Name {
		return apperror.NewInvalidArgument("entity has the wrong type").
			WithDetail("expected", m.def.Name).
			WithDetail("got", reflect.TypeOf(e).String())
	}
	return nil
}

func validate(ctx context.Context, e entity.Entity) error {
	if v, ok := e.(entity.Validatable); ok {
		return v.Validate(ctx)
	}
	return nil
}

func (m *Dependent) idProperty() string {
	for _, f := range m.def.Fields {
		if f.Column == "id" {
			return f.Name
		}
	}
	return "ID"
}

func describe(spec Spec) map[string]any {
	out := make(map[string]any, len(spec.Predicates))
	for _, p := range spec.Predicates {
		if e, ok := p.Value.(entity.Entity); ok && !entity.IsNil(e) {
			out[p.Property] = e.EntityID().String()
			continue
		}
		out[p.Property] = p.Value
	}
	return out
}
