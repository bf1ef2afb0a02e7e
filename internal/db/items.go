package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncOwnedColumns are the fields the sync writer owns. The upsert only
// assigns these, so concurrent manual edits of other columns survive a
// sync cycle.
var syncOwnedColumns = []string{
	"external_id", "name", "current_stock", "reorder_point",
	"reorder_quantity", "unit_cost", "lead_time_days",
	"velocity30d", "velocity90d", "active",
	"vendor_id", "vendor_name", "external_modified",
}

// UpsertItems writes sync results, conflict-keyed on SKU.
func UpsertItems(gdb *gorm.DB, rows []InventoryItem) error {
	if len(rows) == 0 {
		return nil
	}
	if err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns(syncOwnedColumns),
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("upsert items: %w", err)
	}
	return nil
}

// UpsertItemsStock is the stock-only sweep variant: it assigns just the
// stock level and freshness timestamp on conflict.
func UpsertItemsStock(gdb *gorm.DB, rows []InventoryItem) error {
	if len(rows) == 0 {
		return nil
	}
	if err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_stock", "external_modified"}),
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("upsert items (stock): %w", err)
	}
	return nil
}

// FindItemBySKU returns (nil, nil) when the item is not known locally.
func FindItemBySKU(gdb *gorm.DB, sku string) (*InventoryItem, error) {
	var item InventoryItem
	err := gdb.First(&item, "sku = ?", sku).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemsBySKUs fetches the local copies of one page worth of SKUs in
// a single query, keyed for the change-detection pass.
func FindItemsBySKUs(gdb *gorm.DB, skus []string) (map[string]InventoryItem, error) {
	out := make(map[string]InventoryItem, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	var items []InventoryItem
	if err := gdb.Where("sku IN ?", skus).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("lookup items by sku: %w", err)
	}
	for _, it := range items {
		out[it.SKU] = it
	}
	return out, nil
}

// ItemsNeedingReorder returns active items at or below their reorder
// point (or below a manually set minimum stock).
func ItemsNeedingReorder(gdb *gorm.DB) ([]InventoryItem, error) {
	var items []InventoryItem
	err := gdb.
		Where("active = ?", true).
		Where("current_stock <= reorder_point OR (minimum_stock > 0 AND current_stock < minimum_stock)").
		Order("sku").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("query reorder items: %w", err)
	}
	return items, nil
}
