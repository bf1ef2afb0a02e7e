// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// inventory_items — local mirror of the external catalog, keyed by SKU.
// Sync owns the columns listed in syncOwnedColumns (items.go); manual
// edits own the rest, so a sync cycle never clobbers them.
type InventoryItem struct {
	SKU        string `gorm:"primaryKey"`
	ExternalID int64  `gorm:"index"`
	Name       string

	CurrentStock    float64
	ReorderPoint    float64
	ReorderQuantity int
	UnitCost        decimal.Decimal `gorm:"type:decimal(12,4)"`
	LeadTimeDays    int
	Velocity30d     float64 // units/day, derived upstream
	Velocity90d     float64
	Active          bool `gorm:"index"`

	VendorID   *uint  `gorm:"index"`
	VendorName string `gorm:"index"`

	// manual-edit territory, never written by sync
	MinimumStock float64
	Notes        string `gorm:"type:text"`

	ExternalModified string
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// vendors
type Vendor struct {
	ID           uint `gorm:"primaryKey"`
	Name         string
	Email        string
	LeadTimeDays *int // overrides item lead time when set
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// sync_runs — one row per synchronization pass. The status column is the
// cross-process single-flight check: at most one row may be "running".
type SyncRun struct {
	ID     string `gorm:"primaryKey"`
	Type   string `gorm:"index"` // full/incremental/manual
	Status string `gorm:"index"` // running/completed/failed

	StartedAt  time.Time
	FinishedAt *time.Time

	Processed int
	Created   int
	Updated   int
	Skipped   int
	Failed    int

	Errors    string `gorm:"type:text"` // JSON array, first N messages
	LastError string `gorm:"type:text"`
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"

	RunTypeFull        = "full"
	RunTypeIncremental = "incremental"
	RunTypeManual      = "manual"
)

// purchase_orders — drafts persisted from accepted suggestions.
type PurchaseOrder struct {
	ID         uint   `gorm:"primaryKey"`
	PONumber   string `gorm:"uniqueIndex"`
	VendorID   *uint  `gorm:"index"`
	VendorName string
	Status     string `gorm:"index;default:draft"`

	TotalAmount decimal.Decimal `gorm:"type:decimal(14,4)"`
	ItemCount   int
	CreatedBy   string

	Lines     []PurchaseOrderLine `gorm:"foreignKey:PurchaseOrderID"`
	CreatedAt time.Time           `gorm:"autoCreateTime"`
}

type PurchaseOrderLine struct {
	ID              uint   `gorm:"primaryKey"`
	PurchaseOrderID uint   `gorm:"index"`
	SKU             string `gorm:"index"`
	ProductName     string
	Quantity        int
	UnitCost        decimal.Decimal `gorm:"type:decimal(12,4)"`
	LineTotal       decimal.Decimal `gorm:"type:decimal(14,4)"`
}
