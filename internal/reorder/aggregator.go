package reorder

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/restockd/restockd/internal/db"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// unknownVendorKey buckets items whose vendor cannot be resolved. They
// stay actionable — quantities and costs are still computed — just not
// attributable to a vendor record for contact purposes.
const unknownVendorKey = "unknown"

// Aggregator turns the set of items at or below their reorder point
// into vendor-level purchase-order suggestions. Generation is
// read-only; persisting an accepted suggestion is a separate explicit
// call.
type Aggregator struct {
	log   zerolog.Logger
	gdb   *gorm.DB
	costs CostParams
}

func NewAggregator(log zerolog.Logger, gdb *gorm.DB, costs CostParams) *Aggregator {
	return &Aggregator{
		log:   log.With().Str("component", "reorder").Logger(),
		gdb:   gdb,
		costs: costs,
	}
}

func (a *Aggregator) GenerateSuggestions(ctx context.Context) ([]Suggestion, error) {
	gdb := a.gdb.WithContext(ctx)

	items, err := db.ItemsNeedingReorder(gdb)
	if err != nil {
		return nil, err
	}
	vendors, err := db.AllVendors(gdb)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]db.Vendor, len(vendors))
	byName := make(map[string][]db.Vendor)
	for _, v := range vendors {
		byID[v.ID] = v
		key := strings.ToLower(strings.TrimSpace(v.Name))
		byName[key] = append(byName[key], v)
	}

	groups := make(map[string]*Suggestion)
	order := make([]string, 0)

	for _, item := range items {
		vendor, key := a.resolveVendor(item, byID, byName)

		leadDays := item.LeadTimeDays
		if vendor != nil && vendor.LeadTimeDays != nil {
			leadDays = *vendor.LeadTimeDays
		}

		var daysPtr *int
		if d, ok := DaysUntilStockout(item.CurrentStock, item.Velocity30d); ok {
			days := d
			daysPtr = &days
		}
		urgency := DetermineUrgency(daysPtr)

		qty := CalculateSuggestedQuantity(ItemInput{
			CurrentStock:    item.CurrentStock,
			ReorderQuantity: item.ReorderQuantity,
			UnitCost:        item.UnitCost.InexactFloat64(),
			LeadTimeDays:    leadDays,
			Velocity30d:     item.Velocity30d,
			Velocity90d:     item.Velocity90d,
		}, a.costs)

		lineTotal := item.UnitCost.Mul(decimal.NewFromInt(int64(qty)))

		line := LineItem{
			SKU:               item.SKU,
			ProductName:       item.Name,
			SuggestedQuantity: qty,
			UnitCost:          item.UnitCost,
			LineTotal:         lineTotal,
			CurrentStock:      item.CurrentStock,
			ReorderPoint:      item.ReorderPoint,
			Velocity30d:       item.Velocity30d,
			DaysUntilStockout: daysPtr,
			Urgency:           urgency,
		}

		g, exists := groups[key]
		if !exists {
			g = &Suggestion{
				VendorName: item.VendorName,
				Urgency:    urgency,
				Total:      decimal.Zero,
			}
			if vendor != nil {
				id := vendor.ID
				g.VendorID = &id
				g.VendorName = vendor.Name
				g.VendorEmail = vendor.Email
				g.KnownVendor = true
			} else if key == unknownVendorKey {
				g.VendorName = "Unknown vendor"
			}
			groups[key] = g
			order = append(order, key)
		}

		g.Items = append(g.Items, line)
		g.TotalItems++
		g.Total = g.Total.Add(lineTotal)
		if urgency > g.Urgency {
			g.Urgency = urgency
		}
		if daysPtr != nil && (g.EstimatedStockoutDays == nil || *daysPtr < *g.EstimatedStockoutDays) {
			days := *daysPtr
			g.EstimatedStockoutDays = &days
		}
	}

	out := make([]Suggestion, 0, len(groups))
	for _, key := range order {
		out = append(out, *groups[key])
	}

	// critical first, then soonest stockout; unknown runway last within
	// a tier (its urgency already reflects the worst case)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		di, dj := out[i].EstimatedStockoutDays, out[j].EstimatedStockoutDays
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})

	a.log.Info().
		Int("items", len(items)).
		Int("suggestions", len(out)).
		Msg("reorder suggestions generated")

	return out, nil
}

// resolveVendor prefers the item's vendor id, falls back to a name
// match, and flags ambiguous names instead of merging them.
func (a *Aggregator) resolveVendor(item db.InventoryItem, byID map[uint]db.Vendor, byName map[string][]db.Vendor) (*db.Vendor, string) {
	if item.VendorID != nil {
		if v, ok := byID[*item.VendorID]; ok {
			return &v, fmt.Sprintf("id:%d", v.ID)
		}
		a.log.Warn().Str("sku", item.SKU).Uint("vendor_id", *item.VendorID).
			Msg("item references unknown vendor id")
		return nil, unknownVendorKey
	}

	name := strings.ToLower(strings.TrimSpace(item.VendorName))
	if name == "" {
		return nil, unknownVendorKey
	}
	matches := byName[name]
	switch len(matches) {
	case 1:
		v := matches[0]
		return &v, fmt.Sprintf("id:%d", v.ID)
	case 0:
		return nil, unknownVendorKey
	default:
		ids := make([]uint, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		a.log.Warn().Str("sku", item.SKU).Str("vendor_name", item.VendorName).
			Uints("candidates", ids).
			Msg("ambiguous vendor name, not merging")
		return nil, unknownVendorKey
	}
}

// CreatePurchaseOrder persists an accepted suggestion as a draft order.
// Every invocation mints a fresh PO number; de-duplicating repeated
// submissions of the same suggestion is the caller's responsibility.
func (a *Aggregator) CreatePurchaseOrder(ctx context.Context, s Suggestion, createdBy string) (*db.PurchaseOrder, error) {
	if len(s.Items) == 0 {
		return nil, fmt.Errorf("reorder: suggestion has no items")
	}

	po := &db.PurchaseOrder{
		VendorID:   s.VendorID,
		VendorName: s.VendorName,
		Status:     "draft",
		ItemCount:  len(s.Items),
		CreatedBy:  createdBy,
	}

	total := decimal.Zero
	for _, line := range s.Items {
		lineTotal := line.UnitCost.Mul(decimal.NewFromInt(int64(line.SuggestedQuantity)))
		po.Lines = append(po.Lines, db.PurchaseOrderLine{
			SKU:         line.SKU,
			ProductName: line.ProductName,
			Quantity:    line.SuggestedQuantity,
			UnitCost:    line.UnitCost,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}
	po.TotalAmount = total

	err := a.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < 5; attempt++ {
			num := mintPONumber()
			var count int64
			if err := tx.Model(&db.PurchaseOrder{}).Where("po_number = ?", num).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				po.PONumber = num
				return tx.Create(po).Error
			}
		}
		return fmt.Errorf("reorder: could not mint unique po number")
	})
	if err != nil {
		return nil, fmt.Errorf("create purchase order: %w", err)
	}

	a.log.Info().Str("po_number", po.PONumber).Str("vendor", po.VendorName).
		Int("items", po.ItemCount).Str("total", po.TotalAmount.String()).
		Msg("draft purchase order created")

	return po, nil
}

func mintPONumber() string {
	return fmt.Sprintf("PO-%d-%06d", time.Now().Year(), rand.Intn(1000000))
}
