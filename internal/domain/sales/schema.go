package sales

import (
	"relmap/internal/core/tx"
	"relmap/internal/metadata"
	"relmap/internal/model"
	"relmap/internal/relation"
)

// Schema returns a registry with every sales entity.
func Schema() *metadata.Registry {
	return metadata.NewRegistry().MustRegister(
		&Customer{},
		&Order{},
		&OrderLine{},
		&Category{},
		&Product{},
	)
}

// Models groups the models of the sales schema.
type Models struct {
	Customers  *model.Referenced
	Orders     *model.Referenced
	OrderLines *model.Dependent
	Categories *model.SelfReferenced
	Products   *model.Referenced
}

// NewModels creates every sales model on session. txm may be nil.
func NewModels(session *relation.Session, txm tx.Manager) (*Models, error) {
	cfg := func(typeName string, search ...string) model.Config {
		return model.Config{
			Session:      session,
			TypeName:     typeName,
			TxManager:    txm,
			SearchFields: search,
		}
	}

	var (
		m   Models
		err error
	)
	if m.Customers, err = model.NewReferenced(cfg("Customer", "Code", "Name")); err != nil {
		return nil, err
	}
	if m.Orders, err = model.NewReferenced(cfg("Order", "Number")); err != nil {
		return nil, err
	}
	if m.OrderLines, err = model.NewDependent(cfg("OrderLine")); err != nil {
		return nil, err
	}
	if m.Categories, err = model.NewSelfReferenced(cfg("Category", "Name")); err != nil {
		return nil, err
	}
	if m.Products, err = model.NewReferenced(cfg("Product", "SKU", "Name")); err != nil {
		return nil, err
	}
	return &m, nil
}
