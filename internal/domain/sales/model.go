// Package sales is the example schema shipped with the mapper: customers
// placing orders, and a category tree classifying products.
package sales

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"relmap/internal/core/apperror"
	"relmap/internal/core/entity"
	"relmap/internal/relation"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusDraft     OrderStatus = "draft"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusCancelled OrderStatus = "cancelled"
)

// Customer places orders. Its collections: Orders.
type Customer struct {
	relation.Referenced

	Code  string  `db:"code" json:"code"`
	Name  string  `db:"name" json:"name"`
	Email *string `db:"email" json:"email,omitempty"`
}

// Validate implements entity.Validatable interface.
func (c *Customer) Validate(ctx context.Context) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if c.Email != nil && !strings.Contains(*c.Email, "@") {
		return apperror.NewValidation("invalid email format").
			WithDetail("field", "email")
	}
	return nil
}

// Order belongs to exactly one customer and may carry a note.
type Order struct {
	relation.Referenced

	Customer *Customer       `db:"customer_id" orm:"required" json:"customer"`
	Number   string          `db:"number" json:"number"`
	Status   OrderStatus     `db:"status" json:"status"`
	Total    decimal.Decimal `db:"total" json:"total"`
	Note     *string         `db:"note" json:"note,omitempty"`
}

// Validate implements entity.Validatable interface.
func (o *Order) Validate(ctx context.Context) error {
	if o.Customer == nil {
		return apperror.NewValidation("customer is required").
			WithDetail("field", "customer")
	}
	switch o.Status {
	case StatusDraft, StatusConfirmed, StatusShipped, StatusCancelled:
	default:
		return apperror.NewValidation("invalid order status").
			WithDetail("field", "status").
			WithDetail("value", string(o.Status))
	}
	if o.Total.IsNegative() {
		return apperror.NewValidation("total must not be negative").
			WithDetail("field", "total")
	}
	return nil
}

// Category is a node of the product classification tree.
type Category struct {
	relation.SelfReferenced

	ParentCategory *Category `db:"parent_id" json:"parent,omitempty"`
	Name           string    `db:"name" json:"name"`
	Position       int       `db:"position" json:"position"`
}

// TableName overrides the conventional "categories".
func (c *Category) TableName() string {
	return "product_categories"
}

// Product is classified by a category. The category is optional.
type Product struct {
	relation.Referenced

	Category *Category       `db:"category_id" json:"category,omitempty"`
	SKU      string          `db:"sku" json:"sku"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	Active   bool            `db:"active" json:"active"`
}

// OrderLine is a dependent entity: it references an order and a product and
// owns nothing.
type OrderLine struct {
	entity.Base

	Order    *Order          `db:"order_id" orm:"required" json:"order"`
	Product  *Product        `db:"product_id" orm:"required" json:"product"`
	Quantity int             `db:"quantity" json:"quantity"`
	Price    decimal.Decimal `db:"price" json:"price"`
}

// Validate implements entity.Validatable interface.
func (l *OrderLine) Validate(ctx context.Context) error {
	if l.Order == nil || l.Product == nil {
		return apperror.NewValidation("order and product are required")
	}
	if l.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity").
			WithDetail("value", l.Quantity)
	}
	return nil
}
