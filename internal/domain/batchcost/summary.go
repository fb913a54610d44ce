// Package batchcost aggregates the net cost of production batches and keeps it
// current as byproduct sales reconcile against the batch.
package batchcost

import (
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/stagecost"
)

// ByproductYield is a byproduct produced by a batch, valued at its estimated rate.
type ByproductYield struct {
	Type          string         `json:"type"`
	Yield         types.Quantity `json:"yield"`
	EstimatedRate types.Money    `json:"estimatedRate"`
}

// Revenue is yield × estimated rate.
func (b ByproductYield) Revenue() types.Money {
	return b.Yield.Mul(b.EstimatedRate)
}

// Summary is the cost of one batch (BatchCostSummary). NetCost and CostPerUnit
// move whenever a reconciliation adjustment is posted.
type Summary struct {
	BatchID          id.ID          `db:"batch_id" json:"batchId"`
	BatchNumber      string         `db:"batch_number" json:"batchNumber"`
	BaseMaterialCost types.Money    `db:"base_material_cost" json:"baseMaterialCost"`
	StageCost        types.Money    `db:"stage_cost" json:"stageCost"`
	ByproductRevenue types.Money    `db:"byproduct_revenue" json:"byproductRevenue"`
	AdjustmentTotal  types.Money    `db:"adjustment_total" json:"adjustmentTotal"`
	NetCost          types.Money    `db:"net_cost" json:"netCost"`
	OutputQuantity   types.Quantity `db:"output_quantity" json:"outputQuantity"`
	CostPerUnit      types.Money    `db:"cost_per_unit" json:"costPerUnit"`
	Version          int            `db:"version" json:"version"`
	FinalizedAt      time.Time      `db:"finalized_at" json:"finalizedAt"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`

	Stages     []stagecost.Result `db:"-" json:"stages,omitempty"`
	Byproducts []ByproductYield   `db:"-" json:"byproducts,omitempty"`
}

// Aggregate combines base material cost, applied stage lines and byproduct
// revenue. Cost per unit is 0 when there is no output.
func Aggregate(batchID id.ID, baseMaterialCost types.Money, stages []stagecost.Result, byproductRevenue types.Money, outputQuantity types.Quantity) Summary {
	stageCost := decimal.Zero
	for _, st := range stages {
		for _, l := range st.Lines {
			if l.Applied {
				stageCost = stageCost.Add(l.Total)
			}
		}
	}
	s := Summary{
		BatchID:          batchID,
		BaseMaterialCost: baseMaterialCost,
		StageCost:        stageCost,
		ByproductRevenue: byproductRevenue,
		AdjustmentTotal:  decimal.Zero,
		NetCost:          baseMaterialCost.Add(stageCost).Sub(byproductRevenue),
		OutputQuantity:   outputQuantity,
		Stages:           stages,
	}
	s.CostPerUnit = costPerUnit(s.NetCost, outputQuantity)
	return s
}

// ApplyAdjustment adds a signed reconciliation amount to the net cost.
// Adjustments accumulate; applying +50 then −30 equals applying +20.
func ApplyAdjustment(s Summary, amount types.Money) Summary {
	s.AdjustmentTotal = s.AdjustmentTotal.Add(amount)
	s.NetCost = s.NetCost.Add(amount)
	s.CostPerUnit = costPerUnit(s.NetCost, s.OutputQuantity)
	return s
}

func costPerUnit(netCost types.Money, output types.Quantity) types.Money {
	if !output.IsPositive() {
		return decimal.Zero
	}
	return netCost.Div(output)
}

// AdjustmentEntry is the history row of a posted adjustment.
type AdjustmentEntry struct {
	ID           id.ID       `db:"id" json:"id"`
	BatchID      id.ID       `db:"batch_id" json:"batchId"`
	SaleID       id.ID       `db:"sale_id" json:"saleId"`
	AllocationID id.ID       `db:"allocation_id" json:"allocationId"`
	Amount       types.Money `db:"amount" json:"amount"`
	NetCostAfter types.Money `db:"net_cost_after" json:"netCostAfter"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
}
