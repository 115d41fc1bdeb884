package model

import (
	"strings"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/metadata"
	"relmap/internal/query"
	"relmap/internal/relation"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildConditions appends the predicate clause of spec to q and returns the
// matching binding. Count, get and delete all go through it.
//
// Bind types come from the declared property type: references bind as
// entities, scalars as their own kind. A nil value becomes IS NULL, which
// is only allowed for nullable properties.
func buildConditions(q *query.Query, registry *metadata.Registry, def *metadata.EntityDef, spec Spec, searchFields []string) (query.Binding, error) {
	var b query.Binding
	q.SetWhere()

	n := 0
	and := func() {
		if n > 0 {
			q.AppendAnd()
		}
		n++
	}

	if spec.Parent != nil {
		prop := relation.ParentProperty(def.Name)
		if _, err := registry.DeclaredType(def.Name, prop); err != nil {
			return query.Binding{}, err
		}
		and()
		if entity.IsNil(spec.Parent.Parent) {
			q.AppendCondition(prop, query.OpIs, query.Null, true)
		} else {
			q.AppendCondition(prop, query.OpEqual, query.Placeholder, true)
			b.Add(spec.Parent.Parent, query.BindEntity)
		}
	}

	for _, p := range spec.Predicates {
		dt, err := registry.DeclaredType(def.Name, p.Property)
		if err != nil {
			return query.Binding{}, err
		}
		and()
		if isNil(p.Value) {
			if !dt.Nullable {
				return query.Binding{}, apperror.NewInvalidArgument("null passed for a non-nullable property").
					WithDetail("entity", def.Name).
					WithDetail("property", p.Property)
			}
			q.AppendCondition(p.Property, query.OpIs, query.Null, !dt.Builtin)
			continue
		}
		q.AppendCondition(p.Property, query.OpEqual, query.Placeholder, !dt.Builtin)
		b.Add(p.Value, query.BindTypeFor(dt.Kind))
	}

	if spec.Search != "" {
		if len(searchFields) == 0 {
			return query.Binding{}, apperror.NewInvalidArgument("entity has no search fields").
				WithDetail("entity", def.Name)
		}
		and()
		q.OpenGroup()
		pattern := "%" + likeEscaper.Replace(spec.Search) + "%"
		for i, field := range searchFields {
			if i > 0 {
				q.AppendOr()
			}
			q.AppendCondition(field, query.OpILike, query.Placeholder, false)
			b.Add(pattern, query.BindString)
		}
		q.CloseGroup()
	}

	if err := q.Err(); err != nil {
		return query.Binding{}, err
	}
	return b, nil
}
