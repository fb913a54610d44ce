// Package byproduct tracks byproduct inventory lots and sells them oldest-first.
package byproduct

import (
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Lot is byproduct inventory created when a batch is finalized.
// QuantityRemaining only ever decreases; EstimatedRate is fixed at creation.
type Lot struct {
	ID                id.ID          `db:"id" json:"id"`
	ByproductType     string         `db:"byproduct_type" json:"byproductType"`
	BatchID           id.ID          `db:"batch_id" json:"batchId"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	QuantityRemaining types.Quantity `db:"quantity_remaining" json:"quantityRemaining"`
	EstimatedRate     types.Money    `db:"estimated_rate" json:"estimatedRate"`
}

// Age is derived from the creation time.
func (l Lot) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt)
}

// NewLot creates a lot for a batch's byproduct yield.
func NewLot(byproductType string, batchID id.ID, yield types.Quantity, estimatedRate types.Money, createdAt time.Time) Lot {
	return Lot{
		ID:                id.New(),
		ByproductType:     byproductType,
		BatchID:           batchID,
		CreatedAt:         createdAt.UTC(),
		QuantityRemaining: yield,
		EstimatedRate:     estimatedRate,
	}
}

// Allocation is the part of a sale drawn from one lot. It is immutable once committed.
type Allocation struct {
	ID            id.ID          `db:"id" json:"id"`
	SaleID        id.ID          `db:"sale_id" json:"saleId"`
	LotID         id.ID          `db:"lot_id" json:"lotId"`
	BatchID       id.ID          `db:"batch_id" json:"batchId"`
	Quantity      types.Quantity `db:"quantity" json:"quantity"`
	EstimatedRate types.Money    `db:"estimated_rate" json:"estimatedRate"`
	RealizedRate  types.Money    `db:"realized_rate" json:"realizedRate"`
	Adjustment    types.Money    `db:"adjustment" json:"adjustment"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// Adjustment is a signed change to a batch's net cost caused by one allocation.
// Positive means the byproduct sold below its estimate and the batch got dearer.
type Adjustment struct {
	BatchID      id.ID       `json:"batchId"`
	SaleID       id.ID       `json:"saleId"`
	AllocationID id.ID       `json:"allocationId"`
	Amount       types.Money `json:"amount"`
}

// Reconcile computes (estimated − realized) × quantity for an allocation.
func Reconcile(a Allocation) Adjustment {
	return Adjustment{
		BatchID:      a.BatchID,
		SaleID:       a.SaleID,
		AllocationID: a.ID,
		Amount:       a.EstimatedRate.Sub(a.RealizedRate).Mul(a.Quantity),
	}
}
