package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/batchcost"
	"costengine/internal/domain/byproduct"
	"costengine/internal/domain/catalog"
	"costengine/internal/domain/charges"
	"costengine/internal/domain/override"
	"costengine/internal/domain/purchase"
	"costengine/internal/domain/stagecost"
)

const dateLayout = "2006-01-02"

// --- Catalog ---

// CatalogQuery filters the element listing.
type CatalogQuery struct {
	Stage   string `form:"stage" binding:"omitempty,oneof=drying crushing complete_batch"`
	Refresh bool   `form:"refresh"`
}

// CatalogResponse lists cost elements of a snapshot.
type CatalogResponse struct {
	Elements  []catalog.CostElement `json:"elements"`
	FetchedAt time.Time             `json:"fetchedAt"`
	Stale     bool                  `json:"stale"`
	Warning   *WarningResponse      `json:"warning,omitempty"`
}

// FromSnapshot renders a snapshot, optionally narrowed to one stage.
func FromSnapshot(s catalog.Snapshot, stage catalog.Stage) CatalogResponse {
	elements := s.Elements
	if stage != "" {
		elements = s.ForStage(stage)
	}
	if elements == nil {
		elements = []catalog.CostElement{}
	}
	return CatalogResponse{
		Elements:  elements,
		FetchedAt: s.FetchedAt,
		Stale:     s.Stale,
		Warning:   Warning(s.Warning),
	}
}

// Warning renders a non-fatal error, or nil.
func Warning(err error) *WarningResponse {
	if err == nil {
		return nil
	}
	if appErr, ok := apperror.AsAppError(err); ok {
		return &WarningResponse{Code: appErr.Code, Message: appErr.Message}
	}
	return &WarningResponse{Code: apperror.CodeStaleCatalog, Message: err.Error()}
}

// --- Stage costing ---

// StageRequest is the operator input for one stage.
type StageRequest struct {
	Stage     string              `json:"stage" binding:"required,oneof=drying crushing complete_batch"`
	Context   stagecost.Context   `json:"context"`
	Overrides stagecost.Overrides `json:"overrides"`
}

// ToInput converts to the domain input.
func (r StageRequest) ToInput() batchcost.StageInput {
	return batchcost.StageInput{
		Stage:     catalog.Stage(r.Stage),
		Context:   r.Context,
		Overrides: r.Overrides,
	}
}

// MaterialRequest is a raw material consumed by a batch.
type MaterialRequest struct {
	MaterialID id.ID          `json:"materialId" binding:"required"`
	Quantity   types.Quantity `json:"quantity"`
}

// ByproductRequest is a byproduct yielded by a batch.
type ByproductRequest struct {
	Type          string         `json:"type" binding:"required,max=100"`
	Yield         types.Quantity `json:"yield"`
	EstimatedRate types.Money    `json:"estimatedRate"`
}

// FinalizeRequest closes a batch. BatchID is generated when omitted.
type FinalizeRequest struct {
	BatchID        *id.ID             `json:"batchId"`
	BatchNumber    string             `json:"batchNumber" binding:"required,max=64"`
	Materials      []MaterialRequest  `json:"materials" binding:"dive"`
	Stages         []StageRequest     `json:"stages" binding:"dive"`
	OutputQuantity types.Quantity     `json:"outputQuantity"`
	Byproducts     []ByproductRequest `json:"byproducts" binding:"dive"`
}

// ToInput converts to the domain input.
func (r FinalizeRequest) ToInput() batchcost.FinalizeInput {
	in := batchcost.FinalizeInput{
		BatchID:        orNew(r.BatchID),
		BatchNumber:    r.BatchNumber,
		OutputQuantity: r.OutputQuantity,
	}
	for _, m := range r.Materials {
		in.Materials = append(in.Materials, batchcost.MaterialInput{MaterialID: m.MaterialID, Quantity: m.Quantity})
	}
	for _, s := range r.Stages {
		in.Stages = append(in.Stages, s.ToInput())
	}
	for _, b := range r.Byproducts {
		in.Byproducts = append(in.Byproducts, batchcost.ByproductYield{
			Type:          b.Type,
			Yield:         b.Yield,
			EstimatedRate: b.EstimatedRate,
		})
	}
	return in
}

// FinalizeResponse is a finalized batch with an optional stale-catalog warning.
type FinalizeResponse struct {
	batchcost.FinalizeResult
	Warning *WarningResponse `json:"warning,omitempty"`
}

// --- Overrides ---

// EvaluateRequest asks for the deviation of a proposed rate.
type EvaluateRequest struct {
	ElementID    id.ID       `json:"elementId" binding:"required"`
	ProposedRate types.Money `json:"proposedRate"`
}

// EvaluationResponse is the deviation of a proposed rate.
type EvaluationResponse struct {
	DeviationPercent decimal.Decimal `json:"deviationPercent"`
	RequiresReason   bool            `json:"requiresReason"`
}

// FromEvaluation renders an evaluation.
func FromEvaluation(e override.Evaluation) EvaluationResponse {
	return EvaluationResponse{DeviationPercent: e.DeviationPercent.Round(2), RequiresReason: e.RequiresReason}
}

// SubmitOverrideRequest records an override outside batch finalization.
type SubmitOverrideRequest struct {
	ElementID     id.ID       `json:"elementId" binding:"required"`
	BatchID       *id.ID      `json:"batchId"`
	ProposedRate  types.Money `json:"proposedRate"`
	Reason        string      `json:"reason" binding:"max=500"`
	ApplyToFuture bool        `json:"applyToFuture"`
}

// ToInput converts to the domain input.
func (r SubmitOverrideRequest) ToInput() override.SubmitInput {
	return override.SubmitInput{
		ElementID:     r.ElementID,
		BatchID:       r.BatchID,
		ProposedRate:  r.ProposedRate,
		Reason:        r.Reason,
		ApplyToFuture: r.ApplyToFuture,
	}
}

// --- Purchases ---

// ShareRequest is the charge share of a unit class.
type ShareRequest struct {
	Group        string          `json:"group" binding:"required,oneof=mass volume count"`
	SharePercent decimal.Decimal `json:"sharePercent"`
}

// InvoiceLineRequest is one purchased material.
type InvoiceLineRequest struct {
	MaterialID id.ID           `json:"materialId" binding:"required"`
	Quantity   types.Quantity  `json:"quantity"`
	Unit       string          `json:"unit" binding:"required,max=16"`
	UnitRate   types.Money     `json:"unitRate"`
	GSTPercent decimal.Decimal `json:"gstPercent"`
}

// InvoiceRequest is a supplier invoice.
type InvoiceRequest struct {
	ID              *id.ID               `json:"id"`
	Number          string               `json:"number" binding:"required,max=64"`
	Supplier        string               `json:"supplier" binding:"max=200"`
	Date            string               `json:"date" binding:"required,datetime=2006-01-02"`
	TransportCharge types.Money          `json:"transportCharge"`
	HandlingCharge  types.Money          `json:"handlingCharge"`
	Shares          []ShareRequest       `json:"shares" binding:"dive"`
	Lines           []InvoiceLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ToInvoice converts to the domain invoice.
func (r InvoiceRequest) ToInvoice() (purchase.Invoice, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return purchase.Invoice{}, apperror.NewValidation("invalid invoice date").WithDetail("date", r.Date)
	}
	inv := purchase.Invoice{
		ID:              orNew(r.ID),
		Number:          r.Number,
		Supplier:        r.Supplier,
		Date:            date,
		TransportCharge: r.TransportCharge,
		HandlingCharge:  r.HandlingCharge,
	}
	for _, s := range r.Shares {
		inv.Shares = append(inv.Shares, charges.Group{Name: s.Group, SharePercent: s.SharePercent})
	}
	for _, l := range r.Lines {
		inv.Lines = append(inv.Lines, purchase.Line{
			MaterialID: l.MaterialID,
			Quantity:   l.Quantity,
			Unit:       l.Unit,
			UnitRate:   l.UnitRate,
			GSTPercent: l.GSTPercent,
		})
	}
	return inv, nil
}

// --- Byproduct sales ---

// SaleRequest previews a sale. SaleID is generated when omitted.
type SaleRequest struct {
	SaleID        *id.ID         `json:"saleId"`
	ByproductType string         `json:"byproductType" binding:"required,max=100"`
	Quantity      types.Quantity `json:"quantity"`
	RealizedRate  types.Money    `json:"realizedRate"`
}

// ToDomain converts to the domain request.
func (r SaleRequest) ToDomain() byproduct.SaleRequest {
	return byproduct.SaleRequest{
		SaleID:        orNew(r.SaleID),
		ByproductType: r.ByproductType,
		Quantity:      r.Quantity,
		RealizedRate:  r.RealizedRate,
	}
}
