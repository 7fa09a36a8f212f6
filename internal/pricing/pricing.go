// Package pricing holds the pure money arithmetic of the service. All
// amounts are minor currency units.
package pricing

import "furbox-service/internal/models"

const bpsDenominator = 10000

// Rules are the configurable pricing parameters.
type Rules struct {
	TaxRateBps            int64
	FreeShippingThreshold int64
	ShippingFee           int64
	BundleMinItems        int
	BundleDiscountBps     int64
}

func DefaultRules() Rules {
	return Rules{
		TaxRateBps:            1800,
		FreeShippingThreshold: 50000,
		ShippingFee:           4900,
		BundleMinItems:        3,
		BundleDiscountBps:     1500,
	}
}

// Subtotal sums unit price times quantity over items.
func Subtotal(items []models.LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Wallet derives the budget view of a draft.
func Wallet(budget int64, items []models.LineItem) models.Wallet {
	spent := Subtotal(items)
	remaining := budget - spent
	return models.Wallet{
		Budget:     budget,
		Spent:      spent,
		Remaining:  remaining,
		CanAddMore: remaining > 0,
	}
}

// BundleDiscount is zero below minItems lines, otherwise the floored
// percentage of the subtotal.
func BundleDiscount(items []models.LineItem, minItems int, rateBps int64) int64 {
	if len(items) < minItems {
		return 0
	}
	return Subtotal(items) * rateBps / bpsDenominator
}

type BundleQuote struct {
	ItemCount int   `json:"item_count"`
	Subtotal  int64 `json:"subtotal"`
	Discount  int64 `json:"discount"`
	Total     int64 `json:"total"`
}

func (r Rules) QuoteBundle(items []models.LineItem) BundleQuote {
	subtotal := Subtotal(items)
	discount := BundleDiscount(items, r.BundleMinItems, r.BundleDiscountBps)
	return BundleQuote{
		ItemCount: len(items),
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     subtotal - discount,
	}
}

// Breakdown is the money summary written onto an order.
type Breakdown struct {
	Subtotal     int64 `json:"subtotal"`
	Discount     int64 `json:"discount"`
	Tax          int64 `json:"tax"`
	ShippingCost int64 `json:"shipping_cost"`
	Total        int64 `json:"total"`
}

// Totals taxes the full subtotal (rounded half up) and charges shipping
// unless the subtotal is above the free shipping threshold. The discount only
// reduces the total.
func (r Rules) Totals(subtotal, discount int64) Breakdown {
	tax := (subtotal*r.TaxRateBps + bpsDenominator/2) / bpsDenominator

	var shipping int64
	if subtotal <= r.FreeShippingThreshold {
		shipping = r.ShippingFee
	}

	return Breakdown{
		Subtotal:     subtotal,
		Discount:     discount,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal - discount + tax + shipping,
	}
}
