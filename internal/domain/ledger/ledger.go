// Package ledger maintains the running weighted-average unit cost of raw materials.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Balance is the on-hand state of one material.
type Balance struct {
	MaterialID  id.ID          `db:"material_id" json:"materialId"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	AverageCost types.Money    `db:"average_cost" json:"averageCost"`
	Version     int            `db:"version" json:"version"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// Value is the carrying value of the balance at its average cost.
func (b Balance) Value() types.Money {
	return b.Quantity.Mul(b.AverageCost)
}

// MovementKind distinguishes ledger movements.
type MovementKind string

const (
	MovementReceipt     MovementKind = "receipt"
	MovementConsumption MovementKind = "consumption"
)

// Movement is an append-only trace of a balance change.
type Movement struct {
	ID            id.ID          `db:"id" json:"id"`
	MaterialID    id.ID          `db:"material_id" json:"materialId"`
	Kind          MovementKind   `db:"kind" json:"kind"`
	Quantity      types.Quantity `db:"quantity" json:"quantity"`
	UnitCost      types.Money    `db:"unit_cost" json:"unitCost"`
	QuantityAfter types.Quantity `db:"quantity_after" json:"quantityAfter"`
	AverageAfter  types.Money    `db:"average_after" json:"averageAfter"`
	Reference     string         `db:"reference" json:"reference"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// NextAverage blends an incoming purchase into the running average.
// With no existing quantity the landed unit cost becomes the average.
func NextAverage(existingQty types.Quantity, existingAvg types.Money, qty types.Quantity, landedUnitCost types.Money) (types.Money, error) {
	if !qty.IsPositive() {
		return decimal.Zero, apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty.String())
	}
	if landedUnitCost.IsNegative() {
		return decimal.Zero, apperror.NewValidation("landed unit cost must not be negative").
			WithDetail("landedUnitCost", landedUnitCost.String())
	}
	if existingQty.IsNegative() {
		return decimal.Zero, apperror.NewValidation("existing quantity must not be negative")
	}
	if existingQty.IsZero() {
		return landedUnitCost, nil
	}
	value := existingQty.Mul(existingAvg).Add(qty.Mul(landedUnitCost))
	return value.Div(existingQty.Add(qty)), nil
}

// Repository persists balances and movements.
type Repository interface {
	// Get returns the balance of a material; a material never purchased has a zero balance.
	Get(ctx context.Context, materialID id.ID) (Balance, error)

	// GetForUpdate returns the balance with a row lock held until the transaction ends.
	// The row is created first when the material has no balance yet.
	GetForUpdate(ctx context.Context, materialID id.ID) (Balance, error)

	// Save writes the balance; it fails with a conflict when Version moved underneath.
	Save(ctx context.Context, b Balance) error

	AppendMovements(ctx context.Context, movements []Movement) error
	ListMovements(ctx context.Context, materialID id.ID, limit int) ([]Movement, error)
}
