package query

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/core/id"
	"relmap/internal/metadata"
)

func TestBindTypeFor(t *testing.T) {
	assert.Equal(t, BindEntity, BindTypeFor(metadata.TypeReference))
	assert.Equal(t, BindDecimal, BindTypeFor(metadata.TypeDecimal))
	assert.Equal(t, BindTime, BindTypeFor(metadata.TypeDate))
	assert.Equal(t, "decimal", BindDecimal.String())
	assert.Equal(t, "BindType(42)", BindType(42).String())
}

func TestBinding_Encode(t *testing.T) {
	acc := &account{Base: entity.Base{ID: id.New()}}
	var nilAccount *account
	memo := "note"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		typ   BindType
		want  any
	}{
		{"entity to id", acc, BindEntity, acc.ID},
		{"nil entity", nilAccount, BindEntity, nil},
		{"raw uuid as entity", acc.ID, BindEntity, acc.ID},
		{"string", "INV-1", BindString, "INV-1"},
		{"string pointer", &memo, BindString, "note"},
		{"nil pointer", (*string)(nil), BindString, nil},
		{"int", 7, BindInt, int64(7)},
		{"uint", uint32(7), BindInt, int64(7)},
		{"largest uint64 that fits", uint64(math.MaxInt64), BindInt, int64(math.MaxInt64)},
		{"int as float", 3, BindFloat, float64(3)},
		{"decimal", decimal.RequireFromString("12.50"), BindDecimal, "12.5"},
		{"decimal string", "12.50", BindDecimal, "12.50"},
		{"bool", true, BindBool, true},
		{"time", now, BindTime, now},
		{"uuid", acc.ID, BindUUID, acc.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Binding
			b.Add(tt.value, tt.typ)

			got, err := b.Encode()
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestBinding_EncodeRejects(t *testing.T) {
	acc := &account{Base: entity.Base{ID: id.New()}}

	tests := []struct {
		name  string
		value any
		typ   BindType
	}{
		{"entity bound as string", acc, BindString},
		{"unsaved entity", &account{}, BindEntity},
		{"string bound as int", "7", BindInt},
		{"uint64 above int64 range", uint64(math.MaxInt64) + 1, BindInt},
		{"malformed decimal", "twelve", BindDecimal},
		{"int bound as bool", 1, BindBool},
		{"value bound as null", "x", BindNull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Binding
			b.Add(tt.value, tt.typ)

			_, err := b.Encode()
			require.Error(t, err)
			assert.True(t, apperror.IsInvalidArgument(err))
		})
	}
}

func TestBinding_LengthMismatch(t *testing.T) {
	b := Binding{Values: []any{"a", "b"}, Types: []BindType{BindString}}
	_, err := b.Encode()
	assert.True(t, apperror.IsInvalidArgument(err))
}

func TestBinding_Add(t *testing.T) {
	var b Binding
	b.Add("a", BindString)
	b.Add(1, BindInt)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []BindType{BindString, BindInt}, b.Types)
}
