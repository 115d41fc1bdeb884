package relation

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/metadata"
)

// Referenced is embedded by entities other entities point at. It owns one
// collection slot per (referencing type, foreign-key property) pair.
//
// A slot is populated on first access: from storage when the owner is
// persisted, as an empty collection otherwise. Setting or adding items
// populates it without touching storage. Slots are not safe for
// concurrent use.
type Referenced struct {
	entity.Base

	slots   entity.Slots
	session *Session
	self    entity.Entity
	tree    bool
}

// CollectionSlots implements entity.Owner.
func (r *Referenced) CollectionSlots() *entity.Slots {
	return &r.slots
}

// Session returns the session the entity is attached to, or nil.
func (r *Referenced) Session() *Session {
	return r.session
}

func (r *Referenced) bind(s *Session, self entity.Entity) {
	r.session = s
	r.self = self
}

// Collection returns the live collection named name. The returned value is
// the slot itself; changes to it are seen by later calls.
func (r *Referenced) Collection(ctx context.Context, name string) (*entity.Collection, error) {
	slot, err := r.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, slot)
}

// SetCollection replaces the collection wholesale. Every item must be an
// instance of the referencing type and is re-parented to this entity.
func (r *Referenced) SetCollection(ctx context.Context, name string, items []entity.Entity) error {
	slot, err := r.resolve(ctx, name)
	if err != nil {
		return err
	}
	fks := make([]reflect.Value, len(items))
	for i, item := range items {
		fk, err := r.foreignKey(slot, item)
		if err != nil {
			return err
		}
		fks[i] = fk
	}
	self := reflect.ValueOf(r.self)
	for _, fk := range fks {
		fk.Set(self)
	}

	replaced := make([]entity.Entity, len(items))
	copy(replaced, items)
	r.slots.Ensure(slot).Replace(replaced)
	return nil
}

// AddToCollection re-parents e and stores it in the collection, replacing an
// element with the same identifier if there is one. Storage is not read: an
// unset slot becomes populated with e alone.
func (r *Referenced) AddToCollection(ctx context.Context, name string, e entity.Entity) error {
	slot, err := r.resolve(ctx, name)
	if err != nil {
		return err
	}
	fk, err := r.foreignKey(slot, e)
	if err != nil {
		return err
	}
	fk.Set(reflect.ValueOf(r.self))

	c := r.slots.Ensure(slot)
	c.Upsert(e)
	c.Populated = true
	return nil
}

// CountCollection counts the collection in storage. The in-memory slot is
// neither consulted nor populated.
func (r *Referenced) CountCollection(ctx context.Context, name string) (int64, error) {
	slot, err := r.resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	if !r.Base.IsPersisted() {
		return 0, nil
	}
	repo, err := r.session.Repository(slot.Owner)
	if err != nil {
		return 0, err
	}
	return repo.CountByReference(ctx, slot.Property, r.self)
}

// Call dispatches a convention method name such as "getOrders",
// "setOrdersByCustomer", "addChildren" or "countOrders". The name splits at
// its first upper-case letter into action and collection name.
//
//	get   -> *entity.Collection
//	set   -> nil; args[0] is a slice of entities
//	add   -> nil; args[0] is an entity
//	count -> int64
func (r *Referenced) Call(ctx context.Context, method string, args ...any) (any, error) {
	action, name := splitMethod(method)
	switch action {
	case "get":
		return r.Collection(ctx, name)
	case "set":
		if len(args) != 1 {
			return nil, apperror.NewInvalidArgument("set expects exactly one argument").
				WithDetail("method", method)
		}
		items, err := toEntities(args[0])
		if err != nil {
			return nil, err.WithDetail("method", method)
		}
		return nil, r.SetCollection(ctx, name, items)
	case "add":
		if len(args) != 1 {
			return nil, apperror.NewInvalidArgument("add expects exactly one argument").
				WithDetail("method", method)
		}
		e, ok := args[0].(entity.Entity)
		if !ok || entity.IsNil(e) {
			return nil, apperror.NewInvalidArgument("add expects an entity").
				WithDetail("method", method)
		}
		return nil, r.AddToCollection(ctx, name, e)
	case "count":
		return r.CountCollection(ctx, name)
	}
	return nil, apperror.NewMethodNotFound(r.typeName(), method)
}

func (r *Referenced) load(ctx context.Context, slot entity.Slot) (*entity.Collection, error) {
	c := r.slots.Ensure(slot)
	if c.Populated {
		return c, nil
	}
	if !r.Base.IsPersisted() {
		c.Replace([]entity.Entity{})
		return c, nil
	}

	repo, err := r.session.Repository(slot.Owner)
	if err != nil {
		return nil, err
	}
	items, err := repo.GetByReference(ctx, slot.Property, r.self, nil)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []entity.Entity{}
	}
	c.Replace(items)
	return c, nil
}

// resolve maps a collection name to its slot using the foreign-key data of
// this entity's type.
func (r *Referenced) resolve(ctx context.Context, name string) (entity.Slot, error) {
	if r.session == nil || r.self == nil {
		return entity.Slot{}, apperror.NewInvalidArgument("entity is not attached to a session").
			WithDetail("collection", name)
	}
	typeName := r.typeName()
	fk := r.session.Cache.ForeignKeyData(ctx, typeName)

	if r.tree && name == ChildrenCollection {
		prop := ParentProperty(typeName)
		if _, ok := fk[typeName][prop]; !ok {
			return entity.Slot{}, apperror.NewInvalidProperty(typeName, name)
		}
		return entity.Slot{Owner: typeName, Property: prop}, nil
	}

	for owner, props := range fk {
		plural := metadata.CollectionName(owner)
		if name == plural {
			if len(props) != 1 {
				return entity.Slot{}, apperror.NewInvalidProperty(typeName, name).
					WithDetail("reason", "ambiguous collection; qualify it with By<Property>")
			}
			for prop := range props {
				return entity.Slot{Owner: owner, Property: prop}, nil
			}
		}
		if prop, ok := strings.CutPrefix(name, plural+"By"); ok {
			if _, ok := props[prop]; ok {
				return entity.Slot{Owner: owner, Property: prop}, nil
			}
		}
	}
	return entity.Slot{}, apperror.NewInvalidProperty(typeName, name)
}

// foreignKey type-checks e against the slot and returns its settable
// foreign-key field. Nothing is modified.
func (r *Referenced) foreignKey(slot entity.Slot, e entity.Entity) (reflect.Value, error) {
	if entity.IsNil(e) {
		return reflect.Value{}, apperror.NewInvalidArgument("collection item is nil").
			WithDetail("collection", slot.String())
	}
	got, ok := r.session.Registry.NameOf(e)
	if !ok || got != slot.Owner {
		return reflect.Value{}, apperror.NewInvalidArgument("collection item has the wrong type").
			WithDetail("collection", slot.String()).
			WithDetail("expected", slot.Owner).
			WithDetail("got", reflect.TypeOf(e).String())
	}

	def, err := r.session.Registry.Lookup(slot.Owner)
	if err != nil {
		return reflect.Value{}, err
	}
	f, ok := def.Field(slot.Property)
	if !ok || !f.IsReference() {
		return reflect.Value{}, apperror.NewInvalidProperty(slot.Owner, slot.Property)
	}

	fv := reflect.ValueOf(e).Elem().FieldByIndex(f.Index())
	self := reflect.ValueOf(r.self)
	if !self.Type().AssignableTo(fv.Type()) {
		return reflect.Value{}, apperror.NewInvalidProperty(slot.Owner, slot.Property).
			WithDetail("reason", "foreign key does not reference "+r.typeName())
	}
	return fv, nil
}

func (r *Referenced) typeName() string {
	if r.session != nil && r.self != nil {
		if name, ok := r.session.Registry.NameOf(r.self); ok {
			return name
		}
	}
	if r.self != nil {
		return reflect.TypeOf(r.self).Elem().Name()
	}
	return "Referenced"
}

// splitMethod splits "addOrders" into ("add", "Orders").
func splitMethod(method string) (string, string) {
	for i, c := range method {
		if unicode.IsUpper(c) {
			return method[:i], method[i:]
		}
	}
	return method, ""
}

// toEntities accepts []entity.Entity or any slice of entity values.
func toEntities(v any) ([]entity.Entity, *apperror.AppError) {
	if items, ok := v.([]entity.Entity); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, apperror.NewInvalidArgument("set expects a slice of entities")
	}
	out := make([]entity.Entity, rv.Len())
	for i := range rv.Len() {
		e, ok := rv.Index(i).Interface().(entity.Entity)
		if !ok {
			return nil, apperror.NewInvalidArgument("set expects a slice of entities").
				WithDetail("index", i)
		}
		out[i] = e
	}
	return out, nil
}
