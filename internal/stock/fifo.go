package stock

import (
	"sort"

	"github.com/shopspring/decimal"
)

// LotDraw is one slice of a depletion plan: take Qty from Lot.
type LotDraw struct {
	Lot StockLot
	Qty decimal.Decimal
}

// PlanDepletion walks lots oldest-received-first and allocates the requested
// quantity across them, splitting where one lot's availability is not enough.
// Returns the draws and whatever quantity could not be covered. It never
// mutates the input lots.
func PlanDepletion(lots []StockLot, qty decimal.Decimal) ([]LotDraw, decimal.Decimal) {
	ordered := make([]StockLot, len(lots))
	copy(ordered, lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ReceivedAt.Equal(ordered[j].ReceivedAt) {
			return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	remaining := qty
	var draws []LotDraw
	for _, lot := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if !lot.AvailableQty.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, lot.AvailableQty)
		draws = append(draws, LotDraw{Lot: lot, Qty: take})
		remaining = remaining.Sub(take)
	}
	return draws, remaining
}

// DepletionCost sums the extended cost of a depletion plan.
func DepletionCost(draws []LotDraw) decimal.Decimal {
	total := decimal.Zero
	for _, d := range draws {
		total = total.Add(d.Qty.Mul(d.Lot.UnitCost))
	}
	return total
}

// AvailableTotal sums available quantity over lots.
func AvailableTotal(lots []StockLot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.AvailableQty)
	}
	return total
}
