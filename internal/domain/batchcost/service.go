package batchcost

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	appctx "costengine/internal/core/context"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/byproduct"
	"costengine/internal/domain/catalog"
	"costengine/internal/domain/override"
	"costengine/internal/domain/stagecost"
	"costengine/pkg/logger"
)

// Repository persists batch summaries and their adjustment history.
type Repository interface {
	// Create stores a new summary with its stage lines; it fails with a conflict
	// when the batch was already finalized.
	Create(ctx context.Context, s Summary) error
	Get(ctx context.Context, batchID id.ID) (Summary, error)
	GetForUpdate(ctx context.Context, batchID id.ID) (Summary, error)

	// Update writes totals guarded by Version and increments it.
	Update(ctx context.Context, s Summary) error

	AppendAdjustments(ctx context.Context, entries []AdjustmentEntry) error
	ListAdjustments(ctx context.Context, batchID id.ID) ([]AdjustmentEntry, error)
}

// Catalog supplies cost elements.
type Catalog interface {
	Fetch(ctx context.Context, forceRefresh bool) catalog.Snapshot
}

// MaterialLedger draws batch inputs at their weighted average.
type MaterialLedger interface {
	RecordConsumption(ctx context.Context, materialID id.ID, qty types.Quantity, reference string) (types.Money, error)
}

// LotStore receives the byproduct lots of a finalized batch.
type LotStore interface {
	CreateLots(ctx context.Context, lots []byproduct.Lot) error
}

// OverrideLog stores the audit records of overridden lines.
type OverrideLog interface {
	SaveRecords(ctx context.Context, records []override.Record) error
}

// MaterialInput is a raw material consumed by a batch.
type MaterialInput struct {
	MaterialID id.ID          `json:"materialId"`
	Quantity   types.Quantity `json:"quantity"`
}

// StageInput is the operator input for one stage.
type StageInput struct {
	Stage     catalog.Stage       `json:"stage"`
	Context   stagecost.Context   `json:"context"`
	Overrides stagecost.Overrides `json:"overrides"`
}

// FinalizeInput closes a batch.
type FinalizeInput struct {
	BatchID        id.ID            `json:"batchId"`
	BatchNumber    string           `json:"batchNumber"`
	Materials      []MaterialInput  `json:"materials"`
	Stages         []StageInput     `json:"stages"`
	OutputQuantity types.Quantity   `json:"outputQuantity"`
	Byproducts     []ByproductYield `json:"byproducts"`
}

// FinalizeResult is a finalized batch. Warning is set when the catalog was stale.
type FinalizeResult struct {
	Summary   Summary           `json:"summary"`
	Lots      []byproduct.Lot   `json:"lots"`
	Overrides []override.Record `json:"overrides"`
	Warning   error             `json:"-"`
}

// Service finalizes batches and posts reconciliation adjustments.
type Service struct {
	repo       Repository
	catalog    Catalog
	calculator *stagecost.Calculator
	ledger     MaterialLedger
	lots       LotStore
	overrides  OverrideLog
	txManager  tx.Manager
	now        func() time.Time
}

// NewService creates a batch cost service.
func NewService(
	repo Repository,
	cat Catalog,
	calculator *stagecost.Calculator,
	ledger MaterialLedger,
	lots LotStore,
	overrides OverrideLog,
	txManager tx.Manager,
) *Service {
	return &Service{
		repo:       repo,
		catalog:    cat,
		calculator: calculator,
		ledger:     ledger,
		lots:       lots,
		overrides:  overrides,
		txManager:  txManager,
		now:        time.Now,
	}
}

// Preview prices one stage against the current catalog without persisting anything.
func (s *Service) Preview(ctx context.Context, in StageInput) (stagecost.Result, error) {
	snap := s.catalog.Fetch(ctx, false)
	return s.calculator.Calculate(in.Stage, snap.Elements, in.Context, in.Overrides)
}

// Finalize prices every stage, consumes materials, stores the summary, creates
// byproduct lots and records overrides in one transaction.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	in.Byproducts = normalizeByproducts(in.Byproducts)
	if err := validateFinalize(in); err != nil {
		return FinalizeResult{}, err
	}

	snap := s.catalog.Fetch(ctx, false)
	stages := make([]stagecost.Result, 0, len(in.Stages))
	for _, st := range in.Stages {
		res, err := s.calculator.Calculate(st.Stage, snap.Elements, st.Context, st.Overrides)
		if err != nil {
			return FinalizeResult{}, err
		}
		stages = append(stages, res)
	}

	finalizedAt := s.now().UTC()
	revenue := decimal.Zero
	lots := make([]byproduct.Lot, 0, len(in.Byproducts))
	for _, bp := range in.Byproducts {
		revenue = revenue.Add(bp.Revenue())
		if bp.Yield.IsPositive() {
			lots = append(lots, byproduct.NewLot(bp.Type, in.BatchID, bp.Yield, bp.EstimatedRate, finalizedAt))
		}
	}
	records := overrideRecords(in.BatchID, stages, appctx.Actor(ctx), finalizedAt)

	var summary Summary
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		base := decimal.Zero
		for _, m := range in.Materials {
			cost, err := s.ledger.RecordConsumption(ctx, m.MaterialID, m.Quantity, in.BatchNumber)
			if err != nil {
				return err
			}
			base = base.Add(cost)
		}

		summary = Aggregate(in.BatchID, base, stages, revenue, in.OutputQuantity)
		summary.BatchNumber = in.BatchNumber
		summary.Byproducts = in.Byproducts
		summary.FinalizedAt = finalizedAt
		summary.UpdatedAt = finalizedAt
		summary.Version = 1
		if err := s.repo.Create(ctx, summary); err != nil {
			return fmt.Errorf("create summary: %w", err)
		}
		if len(lots) > 0 {
			if err := s.lots.CreateLots(ctx, lots); err != nil {
				return fmt.Errorf("create lots: %w", err)
			}
		}
		if len(records) > 0 {
			if err := s.overrides.SaveRecords(ctx, records); err != nil {
				return fmt.Errorf("save override records: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, apperror.Persist("finalize batch", err)
	}

	logger.Info(ctx, "batch finalized",
		"batch_id", in.BatchID,
		"net_cost", types.RoundCurrency(summary.NetCost).String(),
		"cost_per_unit", types.RoundCurrency(summary.CostPerUnit).String(),
		"lots", len(lots),
		"stale_catalog", snap.Stale,
	)
	return FinalizeResult{Summary: summary, Lots: lots, Overrides: records, Warning: snap.Warning}, nil
}

// PostAdjustments applies reconciliation adjustments to their batches. Batches
// are locked in identifier order and each one's version moves once per call.
func (s *Service) PostAdjustments(ctx context.Context, adjustments []byproduct.Adjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	byBatch := make(map[id.ID][]byproduct.Adjustment)
	for _, a := range adjustments {
		byBatch[a.BatchID] = append(byBatch[a.BatchID], a)
	}
	batchIDs := make([]id.ID, 0, len(byBatch))
	for b := range byBatch {
		batchIDs = append(batchIDs, b)
	}
	slices.SortFunc(batchIDs, func(a, b id.ID) int { return strings.Compare(a.String(), b.String()) })

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		postedAt := s.now().UTC()
		for _, batchID := range batchIDs {
			summary, err := s.repo.GetForUpdate(ctx, batchID)
			if err != nil {
				return fmt.Errorf("lock summary %s: %w", batchID, err)
			}
			entries := make([]AdjustmentEntry, 0, len(byBatch[batchID]))
			for _, a := range byBatch[batchID] {
				summary = ApplyAdjustment(summary, a.Amount)
				entries = append(entries, AdjustmentEntry{
					ID:           id.New(),
					BatchID:      batchID,
					SaleID:       a.SaleID,
					AllocationID: a.AllocationID,
					Amount:       a.Amount,
					NetCostAfter: summary.NetCost,
					CreatedAt:    postedAt,
				})
			}
			summary.UpdatedAt = postedAt
			if err := s.repo.Update(ctx, summary); err != nil {
				return fmt.Errorf("update summary %s: %w", batchID, err)
			}
			if err := s.repo.AppendAdjustments(ctx, entries); err != nil {
				return fmt.Errorf("append adjustments %s: %w", batchID, err)
			}
			logger.Debug(ctx, "batch cost adjusted",
				"batch_id", batchID,
				"adjustments", len(entries),
				"net_cost", summary.NetCost.String(),
			)
		}
		return nil
	})
	return apperror.Persist("post adjustments", err)
}

// Get returns a batch summary.
func (s *Service) Get(ctx context.Context, batchID id.ID) (Summary, error) {
	summary, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return Summary{}, apperror.Persist("get summary", err)
	}
	return summary, nil
}

// Adjustments returns the reconciliation history of a batch.
func (s *Service) Adjustments(ctx context.Context, batchID id.ID) ([]AdjustmentEntry, error) {
	out, err := s.repo.ListAdjustments(ctx, batchID)
	if err != nil {
		return nil, apperror.Persist("list adjustments", err)
	}
	return out, nil
}

func overrideRecords(batchID id.ID, stages []stagecost.Result, actor string, at time.Time) []override.Record {
	var out []override.Record
	for _, st := range stages {
		for _, l := range st.Lines {
			if !l.Overridden {
				continue
			}
			b := batchID
			out = append(out, override.Record{
				ID:               id.New(),
				ElementID:        l.ElementID,
				ElementName:      l.ElementName,
				BatchID:          &b,
				OriginalRate:     l.DefaultRate,
				NewRate:          l.Rate,
				DeviationPercent: l.DeviationPercent,
				Reason:           l.OverrideReason,
				Actor:            actor,
				Timestamp:        at,
			})
		}
	}
	return out
}

// normalizeByproducts trims byproduct types so lots match the types sales look up.
func normalizeByproducts(in []ByproductYield) []ByproductYield {
	out := slices.Clone(in)
	for i := range out {
		out[i].Type = strings.TrimSpace(out[i].Type)
	}
	return out
}

func validateFinalize(in FinalizeInput) error {
	if id.IsNil(in.BatchID) {
		return apperror.NewValidation("batch id is required").WithDetail("field", "batchId")
	}
	if in.OutputQuantity.IsNegative() {
		return apperror.NewValidation("output quantity must not be negative").WithDetail("field", "outputQuantity")
	}
	seen := make(map[catalog.Stage]struct{}, len(in.Stages))
	for _, st := range in.Stages {
		if !slices.Contains(catalog.Stages, st.Stage) {
			return apperror.NewValidation("unknown stage").WithDetail("stage", st.Stage)
		}
		if _, dup := seen[st.Stage]; dup {
			return apperror.NewValidation("stage listed twice").WithDetail("stage", st.Stage)
		}
		seen[st.Stage] = struct{}{}
	}
	for _, m := range in.Materials {
		if id.IsNil(m.MaterialID) || !m.Quantity.IsPositive() {
			return apperror.NewValidation("material inputs need a material and a positive quantity")
		}
	}
	for _, bp := range in.Byproducts {
		if bp.Type == "" {
			return apperror.NewValidation("byproduct type is required")
		}
		if bp.Yield.IsNegative() || bp.EstimatedRate.IsNegative() {
			return apperror.NewValidation("byproduct yield and estimated rate must not be negative").
				WithDetail("byproduct", bp.Type)
		}
	}
	return nil
}
