package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Categories is a set of category slugs stored as a JSON array.
type Categories []string

func (c Categories) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return marshalJSON(c)
}

func (c *Categories) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// AddressSnapshot is the shipping address frozen onto an order.
type AddressSnapshot struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a AddressSnapshot) Value() (driver.Value, error) {
	return marshalJSON(a)
}

func (a *AddressSnapshot) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// SnapshotLine is one product line frozen into a cycle or bundle record.
type SnapshotLine struct {
	ProductID   int64  `json:"product_id"`
	VariantID   int64  `json:"variant_id"`
	ProductName string `json:"product_name"`
	VariantName string `json:"variant_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type ProductsSnapshot []SnapshotLine

func (p ProductsSnapshot) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return marshalJSON(p)
}

func (p *ProductsSnapshot) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// SnapshotFromItems builds a products snapshot from order items.
func SnapshotFromItems(items []OrderItem) ProductsSnapshot {
	snap := make(ProductsSnapshot, 0, len(items))
	for _, it := range items {
		snap = append(snap, SnapshotLine{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return snap
}

// JSON columns are bound as text; lib/pq would send []byte as bytea.
func marshalJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
