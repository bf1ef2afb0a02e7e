// internal/syncer/changes.go
package syncer

import (
	"strconv"

	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/extapi"
	"github.com/shopspring/decimal"
)

// ChangeRecord says whether a fetched record differs from the local
// copy in a field that matters. The provider returns its full catalog
// even under an incremental filter in some modes, so skipping unchanged
// rows is what keeps sync cycles cheap.
type ChangeRecord struct {
	HasChanges bool
	IsNew      bool
	Fields     []string
}

// Diff compares the significant fields only. Volatile fields the
// provider mutates on every read (last-viewed timestamps and the like)
// are deliberately not compared. A nil previous item is always a change.
func Diff(prev *db.InventoryItem, in extapi.Record) ChangeRecord {
	if prev == nil {
		return ChangeRecord{HasChanges: true, IsNew: true, Fields: []string{"new"}}
	}

	var fields []string
	if prev.CurrentStock != in.StockQuantity {
		fields = append(fields, "current_stock")
	}
	if !prev.UnitCost.Equal(parseMoney(in.UnitCost)) {
		fields = append(fields, "unit_cost")
	}
	if prev.ReorderPoint != in.ReorderPoint {
		fields = append(fields, "reorder_point")
	}
	if prev.ReorderQuantity != in.ReorderQuantity {
		fields = append(fields, "reorder_quantity")
	}
	if !vendorEqual(prev.VendorID, in.VendorID) || prev.VendorName != in.VendorName {
		fields = append(fields, "vendor")
	}
	if prev.Active != in.Active {
		fields = append(fields, "active")
	}
	if prev.Name != in.Name {
		fields = append(fields, "name")
	}

	return ChangeRecord{HasChanges: len(fields) > 0, Fields: fields}
}

// StockDiff is the narrow variant used by stock-only sweeps.
func StockDiff(prev *db.InventoryItem, in extapi.Record) ChangeRecord {
	if prev == nil {
		return ChangeRecord{HasChanges: true, IsNew: true, Fields: []string{"new"}}
	}
	if prev.CurrentStock != in.StockQuantity {
		return ChangeRecord{HasChanges: true, Fields: []string{"current_stock"}}
	}
	return ChangeRecord{}
}

func vendorEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// recordToItem converts a wire record into the local model, assigning
// only sync-owned fields.
func recordToItem(in extapi.Record) db.InventoryItem {
	return db.InventoryItem{
		SKU:              in.SKU,
		ExternalID:       in.ID,
		Name:             in.Name,
		CurrentStock:     in.StockQuantity,
		ReorderPoint:     in.ReorderPoint,
		ReorderQuantity:  in.ReorderQuantity,
		UnitCost:         parseMoney(in.UnitCost),
		LeadTimeDays:     in.LeadTimeDays,
		Velocity30d:      in.Velocity30d,
		Velocity90d:      in.Velocity90d,
		Active:           in.Active,
		VendorID:         in.VendorID,
		VendorName:       in.VendorName,
		ExternalModified: in.DateModified,
	}
}

// the provider ships money as a string; empty means zero
func parseMoney(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return decimal.NewFromFloat(f)
		}
		return decimal.Zero
	}
	return d
}
