package byproduct

import (
	"slices"

	"github.com/shopspring/decimal"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Allocate draws requested from lots oldest-first. Lots created at the same
// instant are ordered by identifier. The input slice is not modified and no
// lot quantity changes; the returned shortfall is what the lots could not cover.
func Allocate(requested types.Quantity, lots []Lot) ([]Allocation, types.Quantity) {
	ordered := slices.Clone(lots)
	slices.SortStableFunc(ordered, func(a, b Lot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case id.Less(a.ID, b.ID):
			return -1
		case id.Less(b.ID, a.ID):
			return 1
		}
		return 0
	})

	remaining := requested
	var out []Allocation
	for _, lot := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lot.QuantityRemaining)
		if !take.IsPositive() {
			continue
		}
		out = append(out, Allocation{
			ID:            id.New(),
			LotID:         lot.ID,
			BatchID:       lot.BatchID,
			Quantity:      take,
			EstimatedRate: lot.EstimatedRate,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return out, remaining
}
