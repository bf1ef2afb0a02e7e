package syncer

import (
	"fmt"
	"time"

	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/extapi"
)

// Strategy selects what a sync pass fetches. All strategies flow
// through the same orchestrator loop; only the resolved filters differ.
type Strategy int

const (
	// Smart fetches records modified since the last completed run.
	Smart Strategy = iota
	// Full walks the entire catalog and refreshes vendors.
	Full
	// Inventory is a stock-only sweep over a narrow field subset.
	Inventory
	// Critical fetches only items the provider flags as low-stock.
	Critical
	// Active fetches the active catalog, skipping discontinued items.
	Active
)

func (s Strategy) String() string {
	switch s {
	case Smart:
		return "smart"
	case Full:
		return "full"
	case Inventory:
		return "inventory"
	case Critical:
		return "critical"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "smart", "":
		return Smart, nil
	case "full":
		return Full, nil
	case "inventory":
		return Inventory, nil
	case "critical":
		return Critical, nil
	case "active":
		return Active, nil
	default:
		return Smart, fmt.Errorf("unknown sync strategy %q", s)
	}
}

// RunType maps the strategy onto the persisted run type.
func (s Strategy) RunType() string {
	switch s {
	case Full:
		return db.RunTypeFull
	case Smart:
		return db.RunTypeIncremental
	default:
		return db.RunTypeManual
	}
}

// StockOnly strategies diff and write just the stock column.
func (s Strategy) StockOnly() bool { return s == Inventory }

// SyncsVendors reports whether the pass refreshes the vendor table too.
func (s Strategy) SyncsVendors() bool { return s == Full }

const stockFieldSubset = "id,sku,name,stock_quantity,date_modified_gmt"

// Filters is the single resolution point from strategy to fetch
// filters; there are no parallel per-strategy code paths.
func (s Strategy) Filters(lastCompleted *time.Time) extapi.Filters {
	switch s {
	case Smart:
		return extapi.Filters{ModifiedSince: lastCompleted}
	case Inventory:
		return extapi.Filters{Fields: stockFieldSubset}
	case Critical:
		return extapi.Filters{LowStockOnly: true}
	case Active:
		return extapi.Filters{ActiveOnly: true}
	default: // Full
		return extapi.Filters{}
	}
}
