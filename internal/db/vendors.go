package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertVendors mirrors the external vendor list, keyed on vendor id.
func UpsertVendors(gdb *gorm.DB, rows []Vendor) error {
	if len(rows) == 0 {
		return nil
	}
	if err := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "lead_time_days"}),
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("upsert vendors: %w", err)
	}
	return nil
}

func AllVendors(gdb *gorm.DB) ([]Vendor, error) {
	var vendors []Vendor
	if err := gdb.Order("id").Find(&vendors).Error; err != nil {
		return nil, fmt.Errorf("query vendors: %w", err)
	}
	return vendors, nil
}
