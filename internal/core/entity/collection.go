package entity

import (
	"reflect"
	"sort"
)

// Slot identifies one inverse collection of an entity: the referencing
// (owning) type and the foreign-key property on that type.
type Slot struct {
	Owner    string
	Property string
}

// String renders the slot as Owner.Property.
func (s Slot) String() string {
	return s.Owner + "." + s.Property
}

// Collection is the lazily populated sequence of child entities for a slot.
// Populated distinguishes "deliberately empty" from "not loaded yet".
type Collection struct {
	Items     []Entity
	Populated bool
}

// Len returns the number of items currently in memory.
func (c *Collection) Len() int {
	return len(c.Items)
}

// Replace swaps the items wholesale and marks the collection populated.
func (c *Collection) Replace(items []Entity) {
	c.Items = items
	c.Populated = true
}

// Upsert replaces the element with the same identifier as e, or appends e.
// Unpersisted entities are always appended.
func (c *Collection) Upsert(e Entity) {
	if IsPersisted(e) {
		for i, existing := range c.Items {
			if IsPersisted(existing) && existing.EntityID() == e.EntityID() {
				c.Items[i] = e
				return
			}
		}
	}
	c.Items = append(c.Items, e)
}

// Slots holds the collection slots of one entity instance.
// It is not safe for concurrent use; entities are single-owner.
type Slots struct {
	m map[Slot]*Collection
}

// Get returns the collection for slot if it was ever touched.
func (s *Slots) Get(slot Slot) (*Collection, bool) {
	c, ok := s.m[slot]
	return c, ok
}

// Ensure returns the collection for slot, creating an unpopulated one.
func (s *Slots) Ensure(slot Slot) *Collection {
	if s.m == nil {
		s.m = make(map[Slot]*Collection)
	}
	c, ok := s.m[slot]
	if !ok {
		c = &Collection{}
		s.m[slot] = c
	}
	return c
}

// Populated reports whether the slot has been loaded or assigned.
func (s *Slots) Populated(slot Slot) bool {
	c, ok := s.m[slot]
	return ok && c.Populated
}

// Each calls fn for every touched slot, ordered by owner then property.
func (s *Slots) Each(fn func(Slot, *Collection)) {
	keys := make([]Slot, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].Property < keys[j].Property
	})
	for _, k := range keys {
		fn(k, s.m[k])
	}
}

// Owner is implemented by entities that carry inverse collections.
type Owner interface {
	Entity
	CollectionSlots() *Slots
}

// TreeNode is implemented by entities whose foreign key points at their own type.
type TreeNode interface {
	Owner
	SelfReferencing()
}

// IsNil reports whether e is nil or a typed nil pointer.
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
