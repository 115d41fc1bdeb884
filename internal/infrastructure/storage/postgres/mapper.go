package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/mapper"
	"relmap/internal/metadata"
	"relmap/internal/query"
	"relmap/pkg/logger"
)

var mapperTracer = otel.Tracer("relmap/mapper")

// Compile-time check that Mapper implements mapper.DataMapper.
var _ mapper.DataMapper = (*Mapper)(nil)

// Mapper executes frozen queries against PostgreSQL.
type Mapper struct {
	registry *metadata.Registry
	txm      *TxManager
	attacher mapper.Attacher
}

// NewMapper creates a data mapper.
func NewMapper(registry *metadata.Registry, txm *TxManager) *Mapper {
	return &Mapper{registry: registry, txm: txm}
}

// SetAttacher installs the hook run on every hydrated entity.
func (m *Mapper) SetAttacher(a mapper.Attacher) {
	m.attacher = a
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (m *Mapper) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Find implements mapper.DataMapper.
func (m *Mapper) Find(ctx context.Context, q *query.Query, b query.Binding) ([]entity.Entity, error) {
	def := q.Target()
	sql, args, err := m.selectSQL(q, b)
	if err != nil {
		return nil, err
	}

	ctx, span := m.start(ctx, "find", def, sql)
	defer span.End()

	var rows []map[string]any
	if err := pgxscan.Select(ctx, m.txm.conn(ctx), &rows, sql, args...); err != nil {
		return nil, m.fail(span, "find "+def.Table, err)
	}

	out := make([]entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := m.hydrate(def, row)
		if err != nil {
			return nil, m.fail(span, "hydrate "+def.Name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Count implements mapper.DataMapper.
func (m *Mapper) Count(ctx context.Context, q *query.Query, b query.Binding) (int64, error) {
	def := q.Target()
	sql, args, err := m.countSQL(q, b)
	if err != nil {
		return 0, err
	}

	ctx, span := m.start(ctx, "count", def, sql)
	defer span.End()

	var n int64
	if err := m.txm.conn(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, m.fail(span, "count "+def.Table, err)
	}
	return n, nil
}

// DeleteBatch implements mapper.DataMapper. A query without predicates is
// rejected rather than truncating the table.
func (m *Mapper) DeleteBatch(ctx context.Context, q *query.Query, b query.Binding) (bool, error) {
	def := q.Target()
	sql, args, err := m.deleteSQL(q, b)
	if err != nil {
		return false, err
	}

	ctx, span := m.start(ctx, "delete", def, sql)
	defer span.End()

	tag, err := m.txm.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, m.fail(span, "delete "+def.Table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Save implements mapper.DataMapper as an upsert on the primary key.
// A new entity receives its id only once the statement has succeeded; an
// entity whose insert fails stays unsaved.
func (m *Mapper) Save(ctx context.Context, e entity.Entity) (bool, error) {
	def, err := m.registry.DefOf(e)
	if err != nil {
		return false, err
	}
	rowID := e.EntityID()
	if id.IsNil(rowID) {
		rowID = id.New()
	}

	sql, args, err := m.saveSQL(def, e, rowID)
	if err != nil {
		return false, err
	}

	ctx, span := m.start(ctx, "save", def, sql)
	defer span.End()

	tag, err := m.txm.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, m.fail(span, "save "+def.Table, err)
	}
	if err := e.AssignID(rowID); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (m *Mapper) selectSQL(q *query.Query, b query.Binding) (string, []any, error) {
	def := q.Target()
	where, args, err := prepare(q, b)
	if err != nil {
		return "", nil, err
	}

	sb := m.Builder().Select(def.Columns()...).From(def.Table)
	if where != "" {
		sb = sb.Where(where, args...)
	}
	if order := q.OrderBy(); len(order) > 0 {
		sb = sb.OrderBy(order...)
	}
	if n, ok := q.Limit(); ok {
		sb = sb.Limit(n)
	}
	if n, ok := q.Offset(); ok {
		sb = sb.Offset(n)
	}
	return toSQL(sb)
}

func (m *Mapper) countSQL(q *query.Query, b query.Binding) (string, []any, error) {
	where, args, err := prepare(q, b)
	if err != nil {
		return "", nil, err
	}
	sb := m.Builder().Select("COUNT(*)").From(q.Target().Table)
	if where != "" {
		sb = sb.Where(where, args...)
	}
	return toSQL(sb)
}

func (m *Mapper) deleteSQL(q *query.Query, b query.Binding) (string, []any, error) {
	where, args, err := prepare(q, b)
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "", nil, apperror.NewInvalidArgument("batch delete requires a predicate").
			WithDetail("entity", q.Target().Name)
	}
	return toSQL(m.Builder().Delete(q.Target().Table).Where(where, args...))
}

func (m *Mapper) saveSQL(def *metadata.EntityDef, e entity.Entity, rowID id.ID) (string, []any, error) {
	data, err := entityToMap(def, e)
	if err != nil {
		return "", nil, err
	}
	data["id"] = rowID

	updates := make([]string, 0, len(def.Fields))
	for _, col := range def.Columns() {
		if col == "id" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	ib := m.Builder().Insert(def.Table).SetMap(data)
	if len(updates) > 0 {
		ib = ib.Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", "))
	} else {
		ib = ib.Suffix("ON CONFLICT (id) DO NOTHING")
	}
	return toSQL(ib)
}

// hydrate builds an entity from a scanned row. References become id-only
// instances of the referenced type.
func (m *Mapper) hydrate(def *metadata.EntityDef, row map[string]any) (entity.Entity, error) {
	e, err := m.registry.New(def.Name)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(e).Elem()

	for _, f := range def.Fields {
		raw, ok := row[f.Column]
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(f.Index())

		if f.IsReference() {
			refID, ok := id.FromAny(raw)
			if !ok {
				continue
			}
			ref, err := m.registry.New(f.ReferenceType)
			if err != nil {
				return nil, err
			}
			if err := ref.AssignID(refID); err != nil {
				return nil, err
			}
			m.attach(ref)
			fv.Set(reflect.ValueOf(ref))
			continue
		}

		if err := assignColumn(fv, f, raw); err != nil {
			return nil, err
		}
	}

	m.attach(e)
	return e, nil
}

func (m *Mapper) attach(e entity.Entity) {
	if m.attacher != nil {
		m.attacher.Attach(e)
	}
}

func (m *Mapper) start(ctx context.Context, op string, def *metadata.EntityDef, sql string) (context.Context, trace.Span) {
	ctx, span := mapperTracer.Start(ctx, "mapper."+op,
		trace.WithAttributes(
			attribute.String("db.table", def.Table),
			attribute.String("db.statement", sql),
		))
	logger.Debug(ctx, "executing statement", "op", op, "entity", def.Name, "sql", sql)
	return ctx, span
}

// fail maps driver errors: foreign-key violations become conflicts,
// everything else is a storage error wrapping the driver error.
func (m *Mapper) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperror.NewConflict("row is referenced by other entities").
			WithDetail("operation", op).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	}
	return apperror.NewStorage(op, err)
}

func prepare(q *query.Query, b query.Binding) (string, []any, error) {
	if err := mapper.Ready(q, b); err != nil {
		return "", nil, err
	}
	where, err := q.ToSql()
	if err != nil {
		return "", nil, err
	}
	args, err := b.Encode()
	if err != nil {
		return "", nil, err
	}
	return where, args, nil
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func toSQL(s sqlizer) (string, []any, error) {
	sql, args, err := s.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build statement: %w", err)
	}
	return sql, args, nil
}
