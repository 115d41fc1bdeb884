package query

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/metadata"
)

// BindType tells the storage adapter how to encode a bound parameter.
// It is derived from the declared property type, never from the value.
type BindType int

const (
	BindNull BindType = iota
	BindEntity
	BindString
	BindInt
	BindFloat
	BindDecimal
	BindBool
	BindTime
	BindUUID
)

var bindTypeNames = map[BindType]string{
	BindNull:    "null",
	BindEntity:  "entity",
	BindString:  "string",
	BindInt:     "int",
	BindFloat:   "float",
	BindDecimal: "decimal",
	BindBool:    "bool",
	BindTime:    "time",
	BindUUID:    "uuid",
}

func (b BindType) String() string {
	if s, ok := bindTypeNames[b]; ok {
		return s
	}
	return fmt.Sprintf("BindType(%d)", int(b))
}

// BindTypeFor maps a declared field type to its bind tag.
func BindTypeFor(t metadata.FieldType) BindType {
	switch t {
	case metadata.TypeReference:
		return BindEntity
	case metadata.TypeString:
		return BindString
	case metadata.TypeInteger:
		return BindInt
	case metadata.TypeNumber:
		return BindFloat
	case metadata.TypeDecimal:
		return BindDecimal
	case metadata.TypeBoolean:
		return BindBool
	case metadata.TypeDate:
		return BindTime
	case metadata.TypeUUID:
		return BindUUID
	}
	return BindString
}

// Binding pairs bind values positionally with their tags.
type Binding struct {
	Values []any
	Types  []BindType
}

// Add appends one value with its tag.
func (b *Binding) Add(value any, t BindType) {
	b.Values = append(b.Values, value)
	b.Types = append(b.Types, t)
}

// Len returns the number of bound values.
func (b *Binding) Len() int {
	return len(b.Values)
}

// Encode converts every value to its driver representation according to
// its tag. A value that does not fit its tag is an invalid-argument error.
func (b Binding) Encode() ([]any, error) {
	if len(b.Values) != len(b.Types) {
		return nil, apperror.NewInvalidArgument("bind values and bind types differ in length").
			WithDetail("values", len(b.Values)).
			WithDetail("types", len(b.Types))
	}
	out := make([]any, len(b.Values))
	for i, v := range b.Values {
		enc, err := encode(v, b.Types[i])
		if err != nil {
			return nil, err.WithDetail("position", i)
		}
		out[i] = enc
	}
	return out, nil
}

func encode(v any, t BindType) (any, *apperror.AppError) {
	if e, ok := v.(entity.Entity); ok {
		if t != BindEntity {
			return nil, mismatch(v, t)
		}
		if entity.IsNil(e) {
			return nil, nil
		}
		if !entity.IsPersisted(e) {
			return nil, apperror.NewInvalidArgument("cannot bind a reference to an unsaved entity")
		}
		return e.EntityID(), nil
	}

	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}
	v = rv.Interface()

	switch t {
	case BindNull:
		return nil, mismatch(v, t)
	case BindEntity, BindUUID:
		if u, ok := v.(id.ID); ok {
			return u, nil
		}
	case BindString:
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case BindInt:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if u := rv.Uint(); u <= math.MaxInt64 {
				return int64(u), nil
			}
		}
	case BindFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		}
	case BindDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d.String(), nil
		case string:
			if _, err := decimal.NewFromString(d); err == nil {
				return d, nil
			}
		}
	case BindBool:
		if rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case BindTime:
		if tm, ok := v.(time.Time); ok {
			return tm, nil
		}
	}
	return nil, mismatch(v, t)
}

func mismatch(v any, t BindType) *apperror.AppError {
	return apperror.NewInvalidArgument("value does not match its bind type").
		WithDetail("bind_type", t.String()).
		WithDetail("value_type", fmt.Sprintf("%T", v))
}
