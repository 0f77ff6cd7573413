package domain

import (
	"fmt"
)

// RawRecord is one flat input record as decoded from the message payload,
// field name to uncoerced scalar.
type RawRecord map[string]any

// Row holds one normalized entity row keyed by attribute name. Values are
// nil, string, int64, float64 or time.Time after coercion.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for name, value := range r {
		clone[name] = value
	}
	return clone
}

// Table is an ordered set of rows for one entity. Column order follows the
// schema declaration and row order follows first appearance in the input,
// which keeps pipeline output deterministic for a given batch.
type Table struct {
	Entity  string
	Columns []string
	Rows    []Row
}

// NewTable returns an empty table for the entity with its schema-ordered
// columns.
func NewTable(schema EntitySchema) Table {
	return Table{Entity: schema.Name, Columns: schema.AttributeNames()}
}

const (
	detailKeyOrder   = "Order ID"
	detailKeyProduct = "Product ID"
)

// OrderDetailKey identifies a fact row by its natural composite key. It
// replaces the concatenated string identity the warehouse used to carry,
// which collided whenever an ID contained the separator. The key stays
// internal; it is never written as a column.
type OrderDetailKey struct {
	OrderID   string
	ProductID string
}

func (k OrderDetailKey) String() string {
	return k.OrderID + "/" + k.ProductID
}

// DetailKey extracts the composite identity from a target entity row.
func DetailKey(row Row) (OrderDetailKey, error) {
	orderID, ok := row[detailKeyOrder].(string)
	if !ok || orderID == "" {
		return OrderDetailKey{}, fmt.Errorf("row has no %s", detailKeyOrder)
	}
	productID, ok := row[detailKeyProduct].(string)
	if !ok || productID == "" {
		return OrderDetailKey{}, fmt.Errorf("row has no %s", detailKeyProduct)
	}
	return OrderDetailKey{OrderID: orderID, ProductID: productID}, nil
}
