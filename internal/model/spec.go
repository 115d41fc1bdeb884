// Package model provides the repositories of registered entity types:
// Dependent, Referenced and Self-Referenced models. Queries are described by
// a Spec, built directly or compiled from "...By...And..." method names.
package model

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/query"
)

// Action is the terminal operation of a Spec.
type Action string

const (
	ActionCount  Action = "count"
	ActionGet    Action = "get"
	ActionDelete Action = "delete"
)

const (
	tokenBy     = "By"
	tokenAnd    = "And"
	tokenParent = "Parent"
	tokenOne    = "One"
)

// Predicate is an equality test on one property. A nil Value matches NULL.
type Predicate struct {
	Property string
	Value    any
}

// ParentMatch restricts a tree query to the children of Parent.
// A nil Parent selects root nodes.
type ParentMatch struct {
	Parent entity.Entity
}

// Spec describes one count, get or delete.
type Spec struct {
	Action Action

	// Collection is the optional discriminator between the verb and "By",
	// e.g. "Orders" in getOrdersByCustomer. It must name the model's own
	// collection.
	Collection string

	// One asks get for exactly one entity.
	One bool

	Parent     *ParentMatch
	Predicates []Predicate

	// Search is matched with ILIKE against the model's search fields.
	Search string

	Order  query.Order
	Offset *uint64
	Limit  *uint64
}

// Where appends a predicate.
func (s Spec) Where(property string, value any) Spec {
	s.Predicates = append(s.Predicates, Predicate{Property: property, Value: value})
	return s
}

// Count starts a count Spec.
func Count() Spec { return Spec{Action: ActionCount} }

// Get starts a get Spec.
func Get() Spec { return Spec{Action: ActionGet} }

// Delete starts a delete Spec.
func Delete() Spec { return Spec{Action: ActionDelete} }

// Parse compiles a convention method name and its arguments into a Spec.
//
// The name is verb [Collection|One] [By Prop {And Prop}]. One argument is
// consumed per property, in order. A leading "Parent" property
// ("getByParentAndName") becomes a ParentMatch consuming an entity
// argument. Remaining arguments are optional: get takes order, offset,
// limit and search key; count and delete take a search key. Nil skips an
// optional argument.
func Parse(entityName, method string, args ...any) (Spec, error) {
	left, right, hasBy := strings.Cut(method, tokenBy)

	verb, discriminator := splitVerb(left)
	spec := Spec{Action: Action(verb)}
	switch spec.Action {
	case ActionCount, ActionGet, ActionDelete:
	default:
		return Spec{}, apperror.NewMethodNotFound(entityName, method)
	}
	if discriminator == tokenOne {
		if spec.Action != ActionGet {
			return Spec{}, apperror.NewMethodNotFound(entityName, method)
		}
		spec.One = true
	} else {
		spec.Collection = discriminator
	}

	var props []string
	if hasBy {
		props = splitAnd(right)
		if len(props) == 0 {
			return Spec{}, malformed(method, "no predicates after By")
		}
		for _, p := range props {
			if p == "" {
				return Spec{}, malformed(method, "empty predicate")
			}
		}
	}
	if len(args) < len(props) {
		return Spec{}, malformed(method, "missing predicate arguments").
			WithDetail("expected", len(props)).
			WithDetail("got", len(args))
	}

	for i, p := range props {
		if i == 0 && p == tokenParent {
			parent, err := parentArg(method, args[i])
			if err != nil {
				return Spec{}, err
			}
			spec.Parent = &ParentMatch{Parent: parent}
			continue
		}
		spec.Predicates = append(spec.Predicates, Predicate{Property: p, Value: args[i]})
	}

	if err := spec.trailing(method, args[len(props):]); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s *Spec) trailing(method string, rest []any) error {
	if s.Action != ActionGet {
		if len(rest) > 1 {
			return malformed(method, "too many arguments")
		}
		if len(rest) == 1 {
			return s.searchArg(method, rest[0])
		}
		return nil
	}

	if len(rest) > 4 {
		return malformed(method, "too many arguments")
	}
	for i, v := range rest {
		if isNil(v) {
			continue
		}
		var err error
		switch i {
		case 0:
			order, ok := v.(query.Order)
			if !ok {
				return malformed(method, "order must be a query.Order")
			}
			s.Order = order
		case 1:
			s.Offset, err = uintArg(method, "offset", v)
		case 2:
			s.Limit, err = uintArg(method, "limit", v)
		case 3:
			err = s.searchArg(method, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Spec) searchArg(method string, v any) error {
	if isNil(v) {
		return nil
	}
	key, ok := v.(string)
	if !ok {
		return malformed(method, "search key must be a string")
	}
	s.Search = key
	return nil
}

// splitVerb splits "getOne" into ("get", "One").
func splitVerb(s string) (string, string) {
	for i, r := range s {
		if unicode.IsUpper(r) {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// splitAnd splits on "And" only where it starts a new capitalized token,
// so property names such as "Brand" or "Andorra" survive.
func splitAnd(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 1; i+len(tokenAnd) <= len(s); i++ {
		if !strings.HasPrefix(s[i:], tokenAnd) {
			continue
		}
		next := i + len(tokenAnd)
		if next < len(s) {
			r, _ := utf8.DecodeRuneInString(s[next:])
			if !unicode.IsUpper(r) {
				continue
			}
		}
		parts = append(parts, s[start:i])
		start = next
		i = next - 1
	}
	return append(parts, s[start:])
}

func parentArg(method string, v any) (entity.Entity, error) {
	if isNil(v) {
		return nil, nil
	}
	e, ok := v.(entity.Entity)
	if !ok {
		return nil, malformed(method, "parent argument must be an entity")
	}
	return e, nil
}

func uintArg(method, name string, v any) (*uint64, error) {
	rv := reflect.ValueOf(v)
	var n uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return nil, malformed(method, name+" must not be negative")
		}
		n = uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = rv.Uint()
	case reflect.Ptr:
		if p, ok := v.(*uint64); ok {
			return p, nil
		}
		return nil, malformed(method, name+" must be an integer")
	default:
		return nil, malformed(method, name+" must be an integer")
	}
	return &n, nil
}

func malformed(method, reason string) *apperror.AppError {
	return apperror.NewInvalidArgument("malformed convention call: "+reason).
		WithDetail("method", method)
}

// isNil reports whether v is nil or a typed nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
