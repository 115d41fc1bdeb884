package metadata

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/jinzhu/inflection"
	"github.com/shopspring/decimal"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
)

var (
	ownerIface    = reflect.TypeOf((*entity.Owner)(nil)).Elem()
	treeNodeIface = reflect.TypeOf((*entity.TreeNode)(nil)).Elem()
	entityIface   = reflect.TypeOf((*entity.Entity)(nil)).Elem()
	tablerIface   = reflect.TypeOf((*Tabler)(nil)).Elem()

	idType      = reflect.TypeOf(id.ID{})
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// Tabler overrides the conventional table name of an entity.
type Tabler interface {
	TableName() string
}

// Inspect analyzes an entity struct and returns its EntityDef.
// Only exported fields with a "db" tag are persisted. A pointer to another
// entity struct is a foreign key; `orm:"required"` makes it non-nullable.
func Inspect(e entity.Entity) (*EntityDef, error) {
	t := reflect.TypeOf(e)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, apperror.NewInvalidArgument("entity must be a pointer to struct").
			WithDetail("type", reflect.TypeOf(e))
	}
	t = t.Elem()

	def := &EntityDef{
		Name:   t.Name(),
		Table:  tableName(e, t.Name()),
		Kind:   kindOf(t),
		Fields: make([]FieldDef, 0, t.NumField()),
		Type:   t,
	}

	inspectStruct(t, nil, def)
	return def, nil
}

func inspectStruct(t reflect.Type, parent []int, def *EntityDef) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), parent...), i)

		// Handle embedded structs (flattening)
		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Struct {
				inspectStruct(ft, index, def)
			}
			continue
		}

		if field.PkgPath != "" { // unexported
			continue
		}

		column, ok := columnName(field)
		if !ok {
			continue
		}

		fDef := FieldDef{
			Name:   field.Name,
			Column: column,
			index:  index,
		}
		if !mapFieldType(&fDef, field) {
			continue
		}
		def.Fields = append(def.Fields, fDef)
	}
}

// mapFieldType fills Type/Nullable. It returns false for unsupported types.
func mapFieldType(def *FieldDef, field reflect.StructField) bool {
	t := field.Type
	if t.Kind() == reflect.Ptr {
		elem := t.Elem()
		if elem.Kind() == reflect.Struct && reflect.PointerTo(elem).Implements(entityIface) {
			def.Type = TypeReference
			def.Nullable = !strings.Contains(field.Tag.Get("orm"), "required")
			def.goType = elem
			return true
		}
		def.Nullable = true
		t = elem
	}

	switch t {
	case idType:
		def.Type = TypeUUID
		return true
	case timeType:
		def.Type = TypeDate
		return true
	case decimalType:
		def.Type = TypeDecimal
		return true
	}

	switch t.Kind() {
	case reflect.String:
		def.Type = TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		def.Type = TypeInteger
	case reflect.Float32, reflect.Float64:
		def.Type = TypeNumber
	case reflect.Bool:
		def.Type = TypeBoolean
	default:
		return false
	}
	return true
}

func columnName(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("db")
	if !ok {
		return "", false
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return "", false
	}
	if name == "" {
		name = SnakeCase(field.Name)
	}
	return name, true
}

func kindOf(t reflect.Type) EntityKind {
	pt := reflect.PointerTo(t)
	switch {
	case pt.Implements(treeNodeIface):
		return KindSelfReferenced
	case pt.Implements(ownerIface):
		return KindReferenced
	}
	return KindDependent
}

func tableName(e entity.Entity, name string) string {
	if reflect.TypeOf(e).Implements(tablerIface) {
		return e.(Tabler).TableName()
	}
	return inflection.Plural(SnakeCase(name))
}

// SnakeCase converts CustomerID to customer_id.
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CollectionName is the conventional name of the inverse collection formed
// by children of type child: "Orders".
func CollectionName(child string) string {
	return inflection.Plural(child)
}
