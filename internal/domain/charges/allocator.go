// Package charges splits shared invoice charges (transport, handling) across
// line items grouped by unit-of-measure class.
package charges

import (
	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/types"
)

// Group is a named partition of line items with its share of the charge.
type Group struct {
	Name         string          `json:"name"`
	SharePercent decimal.Decimal `json:"sharePercent"`
}

// Item is one line item to receive a part of the charge.
// Quantity must already be in the base unit of the group.
type Item struct {
	Key      string         `json:"key"`
	Group    string         `json:"group"`
	Quantity types.Quantity `json:"quantity"`
}

// NewUnitItem builds an item whose group is the class of unitCode and whose
// quantity is normalized to the class base unit.
func NewUnitItem(key string, quantity types.Quantity, unitCode string) (Item, error) {
	class, normalized, err := Normalize(quantity, unitCode)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Group: string(class), Quantity: normalized}, nil
}

// ItemCharge is the allocated part of the charge for one item.
type ItemCharge struct {
	Key    string      `json:"key"`
	Group  string      `json:"group"`
	Amount types.Money `json:"amount"`
}

// ValidateShares checks group shares. It returns whether the configuration is
// final (shares sum to exactly 100). A sum below 100 is a valid draft.
func ValidateShares(groups []Group) (bool, error) {
	seen := make(map[string]struct{}, len(groups))
	sum := decimal.Zero
	for _, g := range groups {
		if g.Name == "" {
			return false, apperror.NewValidation("group name is required")
		}
		if _, dup := seen[g.Name]; dup {
			return false, apperror.NewValidation("duplicate charge group").WithDetail("group", g.Name)
		}
		seen[g.Name] = struct{}{}
		if g.SharePercent.IsNegative() || g.SharePercent.GreaterThan(types.Hundred) {
			return false, apperror.NewValidation("share must be between 0 and 100").
				WithDetail("group", g.Name).
				WithDetail("share", g.SharePercent.String())
		}
		sum = sum.Add(g.SharePercent)
	}
	if sum.GreaterThan(types.Hundred) {
		return false, apperror.NewValidation("shares exceed 100 percent").WithDetail("sum", sum.String())
	}
	return sum.Equal(types.Hundred), nil
}

// Allocate splits total across items. Shares must sum to exactly 100; any
// violation rejects the allocation before an item receives a value.
//
// Each item's charge is rounded to currency precision on its own, so a group's
// items may differ from the group charge by one minor unit. Items of a group
// with zero total quantity all receive 0 and the group's share is not
// redistributed.
func Allocate(total types.Money, groups []Group, items []Item) ([]ItemCharge, error) {
	if total.IsNegative() {
		return nil, apperror.NewValidation("charge must not be negative").WithDetail("total", total.String())
	}
	final, err := ValidateShares(groups)
	if err != nil {
		return nil, err
	}
	if !final {
		return nil, apperror.NewValidation("shares must sum to 100 percent")
	}

	shares := make(map[string]decimal.Decimal, len(groups))
	for _, g := range groups {
		shares[g.Name] = g.SharePercent
	}

	groupQty := make(map[string]decimal.Decimal, len(groups))
	for _, it := range items {
		if _, ok := shares[it.Group]; !ok {
			return nil, apperror.NewValidation("item group has no configured share").
				WithDetail("item", it.Key).
				WithDetail("group", it.Group)
		}
		if it.Quantity.IsNegative() {
			return nil, apperror.NewValidation("quantity must not be negative").WithDetail("item", it.Key)
		}
		groupQty[it.Group] = groupQty[it.Group].Add(it.Quantity)
	}

	out := make([]ItemCharge, 0, len(items))
	for _, it := range items {
		amount := decimal.Zero
		if gq := groupQty[it.Group]; gq.IsPositive() {
			groupCharge := total.Mul(shares[it.Group]).Div(types.Hundred)
			amount = types.RoundCurrency(groupCharge.Mul(it.Quantity).Div(gq))
		}
		out = append(out, ItemCharge{Key: it.Key, Group: it.Group, Amount: amount})
	}
	return out, nil
}
