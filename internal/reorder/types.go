// internal/reorder/types.go
package reorder

import "github.com/shopspring/decimal"

// LineItem is one item within a purchase-order suggestion. Built fresh
// on every aggregation pass, never persisted or mutated.
type LineItem struct {
	SKU               string          `json:"sku"`
	ProductName       string          `json:"product_name"`
	SuggestedQuantity int             `json:"suggested_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	LineTotal         decimal.Decimal `json:"line_total"`
	CurrentStock      float64         `json:"current_stock"`
	ReorderPoint      float64         `json:"reorder_point"`
	Velocity30d       float64         `json:"velocity_30d"`
	DaysUntilStockout *int            `json:"days_until_stockout"` // nil: no reliable estimate
	Urgency           Urgency         `json:"urgency"`
}

// Suggestion is a vendor-level purchase-order proposal. Ephemeral until
// a caller persists it as a draft purchase order.
type Suggestion struct {
	VendorID    *uint  `json:"vendor_id"`
	VendorName  string `json:"vendor_name"`
	VendorEmail string `json:"vendor_email,omitempty"`
	KnownVendor bool   `json:"known_vendor"`

	Items      []LineItem      `json:"items"`
	TotalItems int             `json:"total_items"`
	Total      decimal.Decimal `json:"total_amount"`

	Urgency               Urgency `json:"urgency_level"`          // most severe among items
	EstimatedStockoutDays *int    `json:"estimated_stockout_days"` // min across items with an estimate
}
