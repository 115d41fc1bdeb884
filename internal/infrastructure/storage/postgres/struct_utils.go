package postgres

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/metadata"
)

// entityToMap converts an entity to column values using its definition.
// References become the referenced identifier (or NULL).
func entityToMap(def *metadata.EntityDef, e entity.Entity) (map[string]any, error) {
	rv := reflect.ValueOf(e).Elem()
	res := make(map[string]any, len(def.Fields))

	for _, f := range def.Fields {
		fv := rv.FieldByIndex(f.Index())
		if f.IsReference() {
			if fv.IsNil() {
				res[f.Column] = nil
				continue
			}
			ref := fv.Interface().(entity.Entity)
			if !entity.IsPersisted(ref) {
				return nil, apperror.NewInvalidArgument("referenced entity is not saved").
					WithDetail("entity", def.Name).
					WithDetail("property", f.Name)
			}
			res[f.Column] = ref.EntityID()
			continue
		}
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			res[f.Column] = nil
			continue
		}
		res[f.Column] = fv.Interface()
	}
	return res, nil
}

// assignColumn stores a scanned database value into a scalar field.
func assignColumn(fv reflect.Value, f metadata.FieldDef, raw any) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	target := fv
	if fv.Kind() == reflect.Ptr {
		target = reflect.New(fv.Type().Elem()).Elem()
	}

	val, err := convertColumn(f, raw)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(val)
	if !rv.Type().ConvertibleTo(target.Type()) {
		return fmt.Errorf("column %s: cannot assign %T to %s", f.Column, raw, target.Type())
	}
	target.Set(rv.Convert(target.Type()))

	if fv.Kind() == reflect.Ptr {
		fv.Set(target.Addr())
	}
	return nil
}

func convertColumn(f metadata.FieldDef, raw any) (any, error) {
	switch f.Type {
	case metadata.TypeUUID:
		u, ok := id.FromAny(raw)
		if !ok {
			return nil, fmt.Errorf("column %s: not a uuid: %T", f.Column, raw)
		}
		return u, nil
	case metadata.TypeDecimal:
		return toDecimal(f, raw)
	case metadata.TypeDate:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, fmt.Errorf("column %s: not a timestamp: %T", f.Column, raw)
		}
		return t, nil
	case metadata.TypeString:
		if b, ok := raw.([]byte); ok {
			return string(b), nil
		}
	}
	return raw, nil
}

func toDecimal(f metadata.FieldDef, raw any) (decimal.Decimal, error) {
	if v, ok := raw.(driver.Valuer); ok {
		dv, err := v.Value()
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("column %s: %w", f.Column, err)
		}
		raw = dv
	}
	switch v := raw.(type) {
	case string:
		return decimal.NewFromString(v)
	case []byte:
		return decimal.NewFromString(string(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return decimal.Decimal{}, fmt.Errorf("column %s: not a decimal: %T", f.Column, raw)
}
