package metadata

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
)

// EntityKind defines the relation role of an entity type.
type EntityKind string

const (
	KindDependent      EntityKind = "dependent"       // only holds foreign keys
	KindReferenced     EntityKind = "referenced"      // owns inverse collections
	KindSelfReferenced EntityKind = "self_referenced" // tree over its own type
)

// FieldType defines the declared data type of a property.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeNumber    FieldType = "number" // float
	TypeDecimal   FieldType = "decimal"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeUUID      FieldType = "uuid"
	TypeReference FieldType = "reference"
)

// EntityDef describes a registered entity type.
type EntityDef struct {
	Name   string       `json:"name"`
	Table  string       `json:"table"`
	Kind   EntityKind   `json:"kind"`
	Fields []FieldDef   `json:"fields"`
	Type   reflect.Type `json:"-"`
}

// FieldDef describes a persisted property.
type FieldDef struct {
	Name     string    `json:"name"`
	Column   string    `json:"column"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`

	// ReferenceType is the referenced entity name, filled in once the
	// referenced Go type is registered.
	ReferenceType string `json:"referenceType,omitempty"`

	goType reflect.Type
	index  []int
}

// Index returns the reflect field index path of the property.
func (f FieldDef) Index() []int {
	return f.index
}

// IsReference reports whether the property is a foreign key.
func (f FieldDef) IsReference() bool {
	return f.Type == TypeReference
}

// Field returns the property definition by name.
// An exact match wins; otherwise the first case-insensitive match is used so
// convention names like "customer" resolve to "Customer".
func (d *EntityDef) Field(name string) (FieldDef, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range d.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Columns returns all column names in declaration order.
func (d *EntityDef) Columns() []string {
	cols := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		cols = append(cols, f.Column)
	}
	return cols
}

// DeclaredType is the answer of the type inspector for one property.
type DeclaredType struct {
	Builtin       bool
	Nullable      bool
	Kind          FieldType
	ReferenceType string
	Column        string
}

// Registry stores entity definitions keyed by name and Go type.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityDef
	byType   map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityDef),
		byType:   make(map[reflect.Type]string),
	}
}

// Register inspects e and stores its definition.
// References to types registered later are resolved lazily on lookup.
func (r *Registry) Register(e entity.Entity) (*EntityDef, error) {
	def, err := Inspect(e)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[def.Name] = def
	r.byType[def.Type] = def.Name
	return def, nil
}

// MustRegister is Register for package-level schema setup.
func (r *Registry) MustRegister(entities ...entity.Entity) *Registry {
	for _, e := range entities {
		if _, err := r.Register(e); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the definition with all references resolved.
func (r *Registry) Get(name string) (*EntityDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entities[name]
	if !ok {
		return nil, false
	}
	return r.resolved(d), true
}

// Lookup is Get returning an invalid-property error for unknown types.
func (r *Registry) Lookup(name string) (*EntityDef, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, apperror.NewInvalidProperty(name, "").
			WithDetail("reason", "entity type is not registered")
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*EntityDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*EntityDef, 0, len(r.entities))
	for _, def := range r.entities {
		list = append(list, r.resolved(def))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// NameOf returns the registered name for the dynamic type of e.
func (r *Registry) NameOf(e entity.Entity) (string, bool) {
	t := reflect.TypeOf(e)
	if t == nil {
		return "", false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

// DefOf returns the definition for the dynamic type of e.
func (r *Registry) DefOf(e entity.Entity) (*EntityDef, error) {
	name, ok := r.NameOf(e)
	if !ok {
		return nil, apperror.NewInvalidArgument("entity type is not registered").
			WithDetail("type", reflect.TypeOf(e).String())
	}
	return r.Lookup(name)
}

// New allocates a fresh instance of the named type.
func (r *Registry) New(name string) (entity.Entity, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return reflect.New(def.Type).Interface().(entity.Entity), nil
}

// DeclaredType answers the type-inspection contract for one property.
// Unresolvable references behave like undeclared properties.
func (r *Registry) DeclaredType(typeName, property string) (DeclaredType, error) {
	def, err := r.Lookup(typeName)
	if err != nil {
		return DeclaredType{}, err
	}
	f, ok := def.Field(property)
	if !ok || (f.IsReference() && f.ReferenceType == "") {
		return DeclaredType{}, apperror.NewInvalidProperty(typeName, property)
	}
	return DeclaredType{
		Builtin:       !f.IsReference(),
		Nullable:      f.Nullable,
		Kind:          f.Type,
		ReferenceType: f.ReferenceType,
		Column:        f.Column,
	}, nil
}

// resolved returns a copy of d with ReferenceType filled for known types
// and unresolvable references dropped. Caller holds r.mu.
func (r *Registry) resolved(d *EntityDef) *EntityDef {
	out := *d
	out.Fields = make([]FieldDef, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.IsReference() {
			name, ok := r.byType[f.goType]
			if !ok {
				continue
			}
			f.ReferenceType = name
		}
		out.Fields = append(out.Fields, f)
	}
	return &out
}
