// Package query provides the predicate accumulator used by models and
// relation collections. A Query only describes WHERE/ORDER/LIMIT/OFFSET;
// values travel separately in a Binding so the same shape can serve
// count, find and delete.
package query

import (
	"strings"

	"relmap/internal/core/apperror"
	"relmap/internal/metadata"
)

// Operator is a SQL comparison operator.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "<>"
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLike           Operator = "LIKE"
	OpILike          Operator = "ILIKE"
	OpIs             Operator = "IS"
	OpIsNot          Operator = "IS NOT"
)

const (
	// Placeholder marks a bound operand.
	Placeholder = "?"
	// Null is the literal operand of IS / IS NOT fragments.
	Null = "NULL"
)

// Connective joins two fragments.
type Connective string

const (
	And Connective = "AND"
	Or  Connective = "OR"
)

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Sort orders by one property.
type Sort struct {
	Property  string
	Direction Direction
}

// Order is an ordered list of sort keys.
type Order []Sort

// By starts an Order on property ascending.
func By(property string) Order {
	return Order{{Property: property, Direction: Asc}}
}

// Then appends another sort key.
func (o Order) Then(property string, dir Direction) Order {
	return append(o, Sort{Property: property, Direction: dir})
}

// Fragment is one condition of the predicate clause.
type Fragment struct {
	Property   string
	Column     string
	Operator   Operator
	Operand    string
	ForeignKey bool
}

type tokenKind int

const (
	tokCondition tokenKind = iota
	tokConnective
	tokOpen
	tokClose
)

type token struct {
	kind       tokenKind
	fragment   Fragment
	connective Connective
}

// Query is a mutable, append-only predicate builder for one entity type.
// The first contract violation is recorded and reported by Err and Close;
// later calls become no-ops.
type Query struct {
	def       *metadata.EntityDef
	whereOpen bool
	tokens    []token
	depth     int
	order     []Sort
	offset    *uint64
	limit     *uint64
	closed    bool
	err       error
}

// New creates an empty query targeting def.
func New(def *metadata.EntityDef) *Query {
	return &Query{def: def}
}

// Target returns the entity definition the query selects from.
func (q *Query) Target() *metadata.EntityDef {
	return q.def
}

// SetWhere opens the predicate clause. It is a no-op if already open.
func (q *Query) SetWhere() *Query {
	if !q.mutable() {
		return q
	}
	q.whereOpen = true
	return q
}

// AppendCondition appends "property operator operand".
// When isForeignKey is set the property must be a relation and resolves to
// the column holding the referenced identifier.
func (q *Query) AppendCondition(property string, op Operator, operand string, isForeignKey bool) *Query {
	if !q.mutable() {
		return q
	}
	if !q.whereOpen {
		return q.fail(apperror.NewInvalidArgument("condition appended before the predicate clause was opened").
			WithDetail("property", property))
	}
	if prev, ok := q.last(); ok && (prev.kind == tokCondition || prev.kind == tokClose) {
		return q.fail(apperror.NewInvalidArgument("condition must follow a connective").
			WithDetail("property", property))
	}

	f, ok := q.def.Field(property)
	if !ok || (isForeignKey && !f.IsReference()) || (f.IsReference() && f.ReferenceType == "") {
		return q.fail(apperror.NewInvalidProperty(q.def.Name, property))
	}

	q.tokens = append(q.tokens, token{
		kind: tokCondition,
		fragment: Fragment{
			Property:   f.Name,
			Column:     f.Column,
			Operator:   op,
			Operand:    operand,
			ForeignKey: isForeignKey,
		},
	})
	return q
}

// AppendAnd inserts AND before the next fragment.
func (q *Query) AppendAnd() *Query {
	return q.appendConnective(And)
}

// AppendOr inserts OR before the next fragment.
func (q *Query) AppendOr() *Query {
	return q.appendConnective(Or)
}

func (q *Query) appendConnective(c Connective) *Query {
	if !q.mutable() {
		return q
	}
	prev, ok := q.last()
	if !ok || (prev.kind != tokCondition && prev.kind != tokClose) {
		return q.fail(apperror.NewInvalidArgument("connective without a preceding condition").
			WithDetail("connective", string(c)))
	}
	q.tokens = append(q.tokens, token{kind: tokConnective, connective: c})
	return q
}

// OpenGroup starts a parenthesized sub-clause.
func (q *Query) OpenGroup() *Query {
	if !q.mutable() {
		return q
	}
	if !q.whereOpen {
		return q.fail(apperror.NewInvalidArgument("group opened before the predicate clause was opened"))
	}
	if prev, ok := q.last(); ok && (prev.kind == tokCondition || prev.kind == tokClose) {
		return q.fail(apperror.NewInvalidArgument("group must follow a connective"))
	}
	q.tokens = append(q.tokens, token{kind: tokOpen})
	q.depth++
	return q
}

// CloseGroup ends the innermost sub-clause.
func (q *Query) CloseGroup() *Query {
	if !q.mutable() {
		return q
	}
	prev, ok := q.last()
	if q.depth == 0 || !ok || (prev.kind != tokCondition && prev.kind != tokClose) {
		return q.fail(apperror.NewInvalidArgument("unbalanced or empty group"))
	}
	q.tokens = append(q.tokens, token{kind: tokClose})
	q.depth--
	return q
}

// SetOrderBy sets the ORDER BY keys. A nil order is ignored.
func (q *Query) SetOrderBy(order Order) *Query {
	if order == nil || !q.mutable() {
		return q
	}
	sorts := make([]Sort, 0, len(order))
	for _, s := range order {
		f, ok := q.def.Field(s.Property)
		if !ok {
			return q.fail(apperror.NewInvalidProperty(q.def.Name, s.Property))
		}
		dir := Direction(strings.ToUpper(string(s.Direction)))
		switch dir {
		case "":
			dir = Asc
		case Asc, Desc:
		default:
			return q.fail(apperror.NewInvalidArgument("invalid sort direction").
				WithDetail("direction", string(s.Direction)))
		}
		sorts = append(sorts, Sort{Property: f.Column, Direction: dir})
	}
	q.order = sorts
	return q
}

// SetOffset sets OFFSET. A nil offset is ignored.
func (q *Query) SetOffset(n *uint64) *Query {
	if n == nil || !q.mutable() {
		return q
	}
	v := *n
	q.offset = &v
	return q
}

// SetLimit sets LIMIT. A nil limit is ignored.
func (q *Query) SetLimit(n *uint64) *Query {
	if n == nil || !q.mutable() {
		return q
	}
	v := *n
	q.limit = &v
	return q
}

// Close freezes the builder and validates the clause is complete.
func (q *Query) Close() error {
	if q.closed {
		return q.err
	}
	if q.err == nil {
		if prev, ok := q.last(); ok && (prev.kind == tokConnective || prev.kind == tokOpen) {
			q.err = apperror.NewInvalidArgument("predicate clause ends with a dangling connective")
		} else if q.depth != 0 {
			q.err = apperror.NewInvalidArgument("unbalanced group")
		}
	}
	q.closed = true
	return q.err
}

// IsClosed reports whether Close was called.
func (q *Query) IsClosed() bool {
	return q.closed
}

// Err returns the first recorded contract violation.
func (q *Query) Err() error {
	return q.err
}

// Fragments returns the condition fragments in order.
func (q *Query) Fragments() []Fragment {
	out := make([]Fragment, 0, len(q.tokens))
	for _, t := range q.tokens {
		if t.kind == tokCondition {
			out = append(out, t.fragment)
		}
	}
	return out
}

// Placeholders counts the bound operands.
func (q *Query) Placeholders() int {
	n := 0
	for _, f := range q.Fragments() {
		if f.Operand == Placeholder {
			n++
		}
	}
	return n
}

// OrderBy returns the resolved ORDER BY expressions ("col DIR").
func (q *Query) OrderBy() []string {
	out := make([]string, 0, len(q.order))
	for _, s := range q.order {
		out = append(out, s.Property+" "+string(s.Direction))
	}
	return out
}

// Offset returns OFFSET, if set.
func (q *Query) Offset() (uint64, bool) {
	if q.offset == nil {
		return 0, false
	}
	return *q.offset, true
}

// Limit returns LIMIT, if set.
func (q *Query) Limit() (uint64, bool) {
	if q.limit == nil {
		return 0, false
	}
	return *q.limit, true
}

// ToSql renders the predicate clause body with "?" placeholders.
// An empty string means no WHERE clause.
func (q *Query) ToSql() (string, error) {
	if q.err != nil {
		return "", q.err
	}
	var b strings.Builder
	for _, t := range q.tokens {
		switch t.kind {
		case tokCondition:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "(") {
				b.WriteByte(' ')
			}
			b.WriteString(t.fragment.Column)
			b.WriteByte(' ')
			b.WriteString(string(t.fragment.Operator))
			b.WriteByte(' ')
			b.WriteString(t.fragment.Operand)
		case tokConnective:
			b.WriteByte(' ')
			b.WriteString(string(t.connective))
		case tokOpen:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteByte('(')
		case tokClose:
			b.WriteByte(')')
		}
	}
	return b.String(), nil
}

func (q *Query) mutable() bool {
	if q.closed {
		if q.err == nil {
			q.err = apperror.NewInvalidArgument("query is closed")
		}
		return false
	}
	return q.err == nil
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q *Query) last() (token, bool) {
	if len(q.tokens) == 0 {
		return token{}, false
	}
	return q.tokens[len(q.tokens)-1], true
}
