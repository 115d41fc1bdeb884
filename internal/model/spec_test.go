package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/core/apperror"
	"relmap/internal/domain/sales"
	"relmap/internal/model"
	"relmap/internal/query"
)

func u64(n uint64) *uint64 { return &n }

func TestParse(t *testing.T) {
	customer := &sales.Customer{Name: "Acme"}
	parent := &sales.Category{Name: "Root"}

	tests := []struct {
		name   string
		method string
		args   []any
		want   model.Spec
	}{
		{
			name:   "plain get",
			method: "get",
			want:   model.Spec{Action: model.ActionGet},
		},
		{
			name:   "two predicates",
			method: "getByCustomerAndNumber",
			args:   []any{customer, "A-1"},
			want: model.Get().
				Where("Customer", customer).
				Where("Number", "A-1"),
		},
		{
			name:   "property starting with And",
			method: "countByAndorraAndBrand",
			args:   []any{"x", "y"},
			want:   model.Count().Where("Andorra", "x").Where("Brand", "y"),
		},
		{
			name:   "collection discriminator",
			method: "getOrdersByCustomer",
			args:   []any{customer},
			want:   model.Spec{Action: model.ActionGet, Collection: "Orders"}.Where("Customer", customer),
		},
		{
			name:   "get one",
			method: "getOneByCode",
			args:   []any{"C-1"},
			want:   model.Spec{Action: model.ActionGet, One: true}.Where("Code", "C-1"),
		},
		{
			name:   "parent match",
			method: "getByParentAndName",
			args:   []any{parent, "Tools"},
			want: model.Spec{
				Action: model.ActionGet,
				Parent: &model.ParentMatch{Parent: parent},
			}.Where("Name", "Tools"),
		},
		{
			name:   "nil parent selects roots",
			method: "countByParent",
			args:   []any{nil},
			want:   model.Spec{Action: model.ActionCount, Parent: &model.ParentMatch{}},
		},
		{
			name:   "null predicate",
			method: "deleteByNote",
			args:   []any{nil},
			want:   model.Delete().Where("Note", nil),
		},
		{
			name:   "all trailing arguments",
			method: "getByStatus",
			args:   []any{"draft", query.By("Number"), 10, uint(5), "acme"},
			want: model.Spec{
				Action: model.ActionGet,
				Order:  query.By("Number"),
				Offset: u64(10),
				Limit:  u64(5),
				Search: "acme",
			}.Where("Status", "draft"),
		},
		{
			name:   "nil skips a trailing argument",
			method: "get",
			args:   []any{nil, nil, u64(3)},
			want:   model.Spec{Action: model.ActionGet, Limit: u64(3)},
		},
		{
			name:   "search on count",
			method: "countByCustomer",
			args:   []any{customer, "rush"},
			want:   model.Spec{Action: model.ActionCount, Search: "rush"}.Where("Customer", customer),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := model.Parse("Order", tt.method, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		args   []any
		code   string
	}{
		{"unknown verb", "updateByName", []any{"x"}, apperror.CodeMethodNotFound},
		{"one outside get", "countOneByName", []any{"x"}, apperror.CodeMethodNotFound},
		{"missing argument", "getByCustomerAndNumber", []any{"x"}, apperror.CodeInvalidArgument},
		{"nothing after By", "getBy", nil, apperror.CodeInvalidArgument},
		{"trailing And", "getByNameAnd", []any{"x", "y"}, apperror.CodeInvalidArgument},
		{"order of the wrong type", "get", []any{"Name"}, apperror.CodeInvalidArgument},
		{"negative offset", "get", []any{nil, -1}, apperror.CodeInvalidArgument},
		{"non-integer limit", "get", []any{nil, nil, "ten"}, apperror.CodeInvalidArgument},
		{"too many get arguments", "get", []any{nil, nil, nil, nil, nil}, apperror.CodeInvalidArgument},
		{"too many count arguments", "countByName", []any{"x", "a", "b"}, apperror.CodeInvalidArgument},
		{"search must be a string", "deleteByName", []any{"x", 42}, apperror.CodeInvalidArgument},
		{"parent must be an entity", "getByParent", []any{"root"}, apperror.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.Parse("Order", tt.method, tt.args...)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), err.Error())
		})
	}
}
