// Package reorder implements the replenishment math: EOQ, suggested
// order quantities, stockout runway and urgency tiers. Everything here
// is pure; data-quality problems degrade to conservative defaults
// instead of erroring, because a missed restock costs more than an
// imperfect suggestion.
package reorder

import (
	"encoding/json"
	"math"
)

// Urgency classifies how soon an item stocks out.
type Urgency int

const (
	Low Urgency = iota
	Medium
	High
	Critical
)

func (u Urgency) String() string {
	switch u {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

func (u Urgency) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// CostParams feed the EOQ formula. Holding cost per unit is derived
// from the unit cost via HoldingCostRate, floored at MinHoldingCost so
// zero-cost items never divide by zero.
type CostParams struct {
	OrderCost       float64
	HoldingCostRate float64
	MinHoldingCost  float64
}

func DefaultCostParams() CostParams {
	return CostParams{OrderCost: 25, HoldingCostRate: 0.2, MinHoldingCost: 1}
}

func (p CostParams) holdingCost(unitCost float64) float64 {
	h := p.HoldingCostRate * unitCost
	if h < p.MinHoldingCost {
		h = p.MinHoldingCost
	}
	return h
}

// CalculateEOQ returns the economic order quantity
// ceil(sqrt(2*D*S / H)). No demand means no economic order size; a
// non-positive holding cost makes the formula undefined and also
// yields 0 (callers are expected to floor it beforehand).
func CalculateEOQ(annualDemand, orderCost, holdingCostPerUnit float64) int {
	if annualDemand <= 0 || holdingCostPerUnit <= 0 {
		return 0
	}
	return int(math.Ceil(math.Sqrt((2 * annualDemand * orderCost) / holdingCostPerUnit)))
}

// DaysUntilStockout estimates runway in whole days. A velocity of zero
// or less gives no reliable estimate: ok is false and callers decide
// how to treat the unknown (urgency classification treats it as
// critical). Negative stock counts as already out.
func DaysUntilStockout(stock, velocity float64) (days int, ok bool) {
	if velocity <= 0 {
		return 0, false
	}
	if stock <= 0 {
		return 0, true
	}
	return int(stock / velocity), true
}

// DetermineUrgency maps runway to a tier. nil means "no estimate" and
// is classified critical. Boundaries are inclusive on the lower tier:
// 7 is critical, 8 is high, 30 is medium, 31 is low.
func DetermineUrgency(days *int) Urgency {
	switch {
	case days == nil:
		return Critical
	case *days <= 7:
		return Critical
	case *days <= 14:
		return High
	case *days <= 30:
		return Medium
	default:
		return Low
	}
}

// ItemInput is the slice of an inventory item the quantity math needs.
type ItemInput struct {
	CurrentStock    float64
	ReorderQuantity int
	UnitCost        float64
	LeadTimeDays    int
	Velocity30d     float64
	Velocity90d     float64
}

// CalculateSuggestedQuantity combines EOQ with lead-time coverage and a
// variability-driven safety stock. Without a demand signal it falls
// back to the vendor's default lot size. The result is always >= 1.
func CalculateSuggestedQuantity(item ItemInput, costs CostParams) int {
	if item.Velocity30d <= 0 {
		if item.ReorderQuantity > 0 {
			return item.ReorderQuantity
		}
		return 1
	}

	annualDemand := item.Velocity30d * 365
	eoq := CalculateEOQ(annualDemand, costs.OrderCost, costs.holdingCost(item.UnitCost))

	leadDays := float64(item.LeadTimeDays)
	if leadDays < 0 {
		leadDays = 0
	}
	leadCover := item.Velocity30d * leadDays

	// more divergence between the short and long demand windows means
	// a less stable signal, so hold more safety stock
	variability := math.Abs(item.Velocity30d - item.Velocity90d)
	safety := variability * math.Sqrt(leadDays)

	qty := int(math.Ceil(math.Max(float64(eoq), leadCover) + safety))

	if qty < item.ReorderQuantity {
		qty = item.ReorderQuantity
	}
	if qty > 100 {
		qty = ((qty + 5) / 10) * 10
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}
