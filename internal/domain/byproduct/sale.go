package byproduct

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/pkg/logger"
)

// Repository persists lots and allocations.
type Repository interface {
	// ListAvailable returns lots of a type with quantity remaining, oldest first.
	ListAvailable(ctx context.Context, byproductType string) ([]Lot, error)

	// GetForUpdate returns a lot with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, lotID id.ID) (Lot, error)

	UpdateRemaining(ctx context.Context, lotID id.ID, remaining types.Quantity) error
	SaveAllocations(ctx context.Context, allocations []Allocation) error
	ListAllocationsBySale(ctx context.Context, saleID id.ID) ([]Allocation, error)
}

// Locker serializes commits per lot across processes.
type Locker interface {
	// Lock acquires every key or none. The returned function releases them.
	Lock(ctx context.Context, keys []string) (func(context.Context), error)
}

// NoopLocker is used when the store's row locks are the only writer serialization.
type NoopLocker struct{}

// Lock implements Locker.
func (NoopLocker) Lock(context.Context, []string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

// AdjustmentPoster applies reconciliation adjustments to originating batches.
type AdjustmentPoster interface {
	PostAdjustments(ctx context.Context, adjustments []Adjustment) error
}

// SaleRequest is a byproduct sale to be previewed.
type SaleRequest struct {
	SaleID        id.ID          `json:"saleId"`
	ByproductType string         `json:"byproductType"`
	Quantity      types.Quantity `json:"quantity"`
	RealizedRate  types.Money    `json:"realizedRate"`
}

// Plan is a previewed sale. It reflects lot quantities at preview time only.
type Plan struct {
	SaleID        id.ID          `json:"saleId"`
	ByproductType string         `json:"byproductType"`
	Requested     types.Quantity `json:"requested"`
	RealizedRate  types.Money    `json:"realizedRate"`
	Allocations   []Allocation   `json:"allocations"`
	Shortfall     types.Quantity `json:"shortfall"`
}

// Satisfiable reports whether the lots covered the whole request.
func (p Plan) Satisfiable() bool {
	return !p.Shortfall.IsPositive()
}

// Sale is a committed sale.
type Sale struct {
	SaleID          id.ID          `json:"saleId"`
	ByproductType   string         `json:"byproductType"`
	Quantity        types.Quantity `json:"quantity"`
	RealizedRate    types.Money    `json:"realizedRate"`
	Allocations     []Allocation   `json:"allocations"`
	Adjustments     []Adjustment   `json:"adjustments"`
	TotalAdjustment types.Money    `json:"totalAdjustment"`
}

// SaleService previews and commits byproduct sales.
type SaleService struct {
	repo      Repository
	locker    Locker
	poster    AdjustmentPoster
	txManager tx.Manager
	now       func() time.Time
}

// NewSaleService creates a sale service. A nil locker means NoopLocker.
func NewSaleService(repo Repository, locker Locker, poster AdjustmentPoster, txManager tx.Manager) *SaleService {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &SaleService{repo: repo, locker: locker, poster: poster, txManager: txManager, now: time.Now}
}

// Preview computes the FIFO plan for a sale without touching inventory.
func (s *SaleService) Preview(ctx context.Context, req SaleRequest) (Plan, error) {
	req.ByproductType = strings.TrimSpace(req.ByproductType)
	if err := validateRequest(req); err != nil {
		return Plan{}, err
	}
	lots, err := s.repo.ListAvailable(ctx, req.ByproductType)
	if err != nil {
		return Plan{}, apperror.Persist("list lots", err)
	}

	saleID := req.SaleID
	if id.IsNil(saleID) {
		saleID = id.New()
	}
	allocations, shortfall := Allocate(req.Quantity, lots)
	for i := range allocations {
		allocations[i].SaleID = saleID
		allocations[i].RealizedRate = req.RealizedRate
		allocations[i].Adjustment = Reconcile(allocations[i]).Amount
	}

	return Plan{
		SaleID:        saleID,
		ByproductType: req.ByproductType,
		Requested:     req.Quantity,
		RealizedRate:  req.RealizedRate,
		Allocations:   allocations,
		Shortfall:     shortfall,
	}, nil
}

// Commit charges inventory for a previewed plan. The plan must equal the
// oldest-first allocation of the lots available at commit time, and every
// allocation is re-validated against its locked lot; otherwise the whole sale
// fails and nothing is written.
func (s *SaleService) Commit(ctx context.Context, plan Plan) (Sale, error) {
	if err := validatePlan(plan); err != nil {
		return Sale{}, err
	}

	keys := make([]string, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		keys = append(keys, "lot:"+a.LotID.String())
	}
	slices.Sort(keys)
	release, err := s.locker.Lock(ctx, keys)
	if err != nil {
		return Sale{}, err
	}
	defer release(context.WithoutCancel(ctx))

	// Lock rows in a stable order.
	allocations := slices.Clone(plan.Allocations)
	slices.SortFunc(allocations, func(a, b Allocation) int {
		return strings.Compare(a.LotID.String(), b.LotID.String())
	})

	committedAt := s.now().UTC()
	sale := Sale{
		SaleID:          plan.SaleID,
		ByproductType:   plan.ByproductType,
		Quantity:        plan.Requested,
		RealizedRate:    plan.RealizedRate,
		TotalAdjustment: decimal.Zero,
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.ListAllocationsBySale(ctx, plan.SaleID)
		if err != nil {
			return fmt.Errorf("check sale %s: %w", plan.SaleID, err)
		}
		if len(existing) > 0 {
			return apperror.NewConflict("sale already committed").WithDetail("saleId", plan.SaleID)
		}

		// The plan must still be the oldest-first draw over the lots available now.
		available, err := s.repo.ListAvailable(ctx, plan.ByproductType)
		if err != nil {
			return fmt.Errorf("list lots: %w", err)
		}
		expected, shortfall := Allocate(plan.Requested, available)
		if shortfall.IsPositive() {
			return apperror.NewInsufficientInventory("byproduct "+plan.ByproductType,
				plan.Requested, plan.Requested.Sub(shortfall), shortfall)
		}
		if !sameDraws(plan.Allocations, expected) {
			return apperror.NewConflict("sale plan does not draw the oldest lots first; preview again").
				WithDetail("saleId", plan.SaleID)
		}

		locked := make(map[id.ID]Lot, len(allocations))
		remaining := make(map[id.ID]types.Quantity, len(allocations))
		for _, a := range allocations {
			avail, ok := remaining[a.LotID]
			if !ok {
				lot, err := s.repo.GetForUpdate(ctx, a.LotID)
				if err != nil {
					return fmt.Errorf("lock lot %s: %w", a.LotID, err)
				}
				if lot.ByproductType != plan.ByproductType {
					return apperror.NewConflict("lot belongs to another byproduct type").
						WithDetail("lotId", a.LotID)
				}
				locked[a.LotID] = lot
				avail = lot.QuantityRemaining
			}
			if avail.LessThan(a.Quantity) {
				return apperror.NewInsufficientInventory("lot "+a.LotID.String(), a.Quantity, avail, a.Quantity.Sub(avail))
			}
			remaining[a.LotID] = avail.Sub(a.Quantity)
		}

		for _, a := range allocations {
			if q, ok := remaining[a.LotID]; ok {
				if err := s.repo.UpdateRemaining(ctx, a.LotID, q); err != nil {
					return fmt.Errorf("update lot %s: %w", a.LotID, err)
				}
				delete(remaining, a.LotID)
			}
		}

		committed := make([]Allocation, 0, len(plan.Allocations))
		adjustments := make([]Adjustment, 0, len(plan.Allocations))
		for _, a := range plan.Allocations {
			lot := locked[a.LotID]
			if id.IsNil(a.ID) {
				a.ID = id.New()
			}
			a.SaleID = plan.SaleID
			a.BatchID = lot.BatchID
			a.EstimatedRate = lot.EstimatedRate
			a.RealizedRate = plan.RealizedRate
			adj := Reconcile(a)
			a.Adjustment = adj.Amount
			a.CreatedAt = committedAt
			committed = append(committed, a)
			adjustments = append(adjustments, adj)
			sale.TotalAdjustment = sale.TotalAdjustment.Add(adj.Amount)
		}
		if err := s.repo.SaveAllocations(ctx, committed); err != nil {
			return fmt.Errorf("save allocations: %w", err)
		}
		if err := s.poster.PostAdjustments(ctx, adjustments); err != nil {
			return fmt.Errorf("post adjustments: %w", err)
		}
		sale.Allocations = committed
		sale.Adjustments = adjustments
		return nil
	})
	if err != nil {
		if apperror.IsInsufficientInventory(err) {
			logger.Warn(ctx, "sale commit rejected, lots changed since preview", "sale_id", plan.SaleID, "error", err)
		}
		return Sale{}, apperror.Persist("commit sale", err)
	}

	logger.Info(ctx, "byproduct sale committed",
		"sale_id", sale.SaleID,
		"byproduct_type", sale.ByproductType,
		"quantity", sale.Quantity.String(),
		"lots", len(sale.Allocations),
		"total_adjustment", types.RoundCurrency(sale.TotalAdjustment).String(),
	)
	return sale, nil
}

// Allocations returns the committed allocations of a sale.
func (s *SaleService) Allocations(ctx context.Context, saleID id.ID) ([]Allocation, error) {
	out, err := s.repo.ListAllocationsBySale(ctx, saleID)
	if err != nil {
		return nil, apperror.Persist("list allocations", err)
	}
	return out, nil
}

// sameDraws reports whether planned takes the same lots, in the same order and
// quantities, as expected.
func sameDraws(planned, expected []Allocation) bool {
	return slices.EqualFunc(planned, expected, func(p, e Allocation) bool {
		return p.LotID == e.LotID && p.Quantity.Equal(e.Quantity)
	})
}

func validateRequest(req SaleRequest) error {
	switch {
	case req.ByproductType == "":
		return apperror.NewValidation("byproduct type is required").WithDetail("field", "byproductType")
	case !req.Quantity.IsPositive():
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	case !req.RealizedRate.IsPositive():
		return apperror.NewValidation("realized rate must be positive").WithDetail("field", "realizedRate")
	}
	return nil
}

func validatePlan(p Plan) error {
	if err := validateRequest(SaleRequest{ByproductType: p.ByproductType, Quantity: p.Requested, RealizedRate: p.RealizedRate}); err != nil {
		return err
	}
	if id.IsNil(p.SaleID) {
		return apperror.NewValidation("sale id is required").WithDetail("field", "saleId")
	}

	allocated := decimal.Zero
	for _, a := range p.Allocations {
		if !a.Quantity.IsPositive() {
			return apperror.NewValidation("allocation quantity must be positive").WithDetail("lotId", a.LotID)
		}
		allocated = allocated.Add(a.Quantity)
	}
	if p.Shortfall.IsPositive() || allocated.LessThan(p.Requested) {
		short := p.Requested.Sub(allocated)
		return apperror.NewInsufficientInventory(p.ByproductType, p.Requested, allocated, short)
	}
	if !allocated.Equal(p.Requested) {
		return apperror.NewValidation("allocations exceed requested quantity").
			WithDetail("requested", p.Requested.String()).
			WithDetail("allocated", allocated.String())
	}
	return nil
}
