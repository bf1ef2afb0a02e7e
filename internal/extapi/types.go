// internal/extapi/types.go
package extapi

// Record is one product/inventory row as the provider ships it. Money
// comes over the wire as a string.
type Record struct {
	ID              int64   `json:"id"`
	SKU             string  `json:"sku"`
	Name            string  `json:"name"`
	StockQuantity   float64 `json:"stock_quantity"`
	UnitCost        string  `json:"unit_cost"`
	ReorderPoint    float64 `json:"reorder_point"`
	ReorderQuantity int     `json:"reorder_quantity"`
	LeadTimeDays    int     `json:"lead_time_days"`
	Velocity30d     float64 `json:"sales_velocity_30d"`
	Velocity90d     float64 `json:"sales_velocity_90d"`
	VendorID        *uint   `json:"vendor_id"`
	VendorName      string  `json:"vendor_name"`
	Active          bool    `json:"active"`
	DateModified    string  `json:"date_modified_gmt"`
	LastViewed      string  `json:"last_viewed_gmt"` // volatile, ignored by change detection
}

type VendorRecord struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	LeadTimeDays *int   `json:"lead_time_days"`
}

// OrderPayload is the purchase-order shape the provider accepts.
type OrderPayload struct {
	PONumber   string             `json:"po_number"`
	VendorID   *uint              `json:"vendor_id,omitempty"`
	VendorName string             `json:"vendor_name,omitempty"`
	Lines      []OrderLinePayload `json:"lines"`
}

type OrderLinePayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	UnitCost string `json:"unit_cost"`
}
