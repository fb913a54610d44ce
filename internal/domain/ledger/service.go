package ledger

import (
	"context"
	"fmt"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/pkg/logger"
)

// Receipt is an accepted purchase of a material at its landed unit cost.
type Receipt struct {
	MaterialID     id.ID
	Quantity       types.Quantity
	LandedUnitCost types.Money
	Reference      string
}

// Service updates material balances under row locks.
// Calls join the caller's transaction when one is active.
type Service struct {
	repo      Repository
	txManager tx.Manager
	now       func() time.Time
}

// NewService creates a ledger service.
func NewService(repo Repository, txManager tx.Manager) *Service {
	return &Service{repo: repo, txManager: txManager, now: time.Now}
}

// RecordPurchase applies one receipt and returns the new weighted average.
func (s *Service) RecordPurchase(ctx context.Context, r Receipt) (types.Money, error) {
	balances, err := s.RecordPurchases(ctx, []Receipt{r})
	if err != nil {
		return types.Zero(), err
	}
	return balances[0].AverageCost, nil
}

// RecordPurchases applies receipts in order within one transaction and returns
// the balance after each receipt.
func (s *Service) RecordPurchases(ctx context.Context, receipts []Receipt) ([]Balance, error) {
	for i, r := range receipts {
		if id.IsNil(r.MaterialID) {
			return nil, apperror.NewValidation(fmt.Sprintf("receipt %d: material is required", i))
		}
	}

	out := make([]Balance, 0, len(receipts))
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		movements := make([]Movement, 0, len(receipts))
		for _, r := range receipts {
			bal, err := s.repo.GetForUpdate(ctx, r.MaterialID)
			if err != nil {
				return fmt.Errorf("lock balance %s: %w", r.MaterialID, err)
			}
			avg, err := NextAverage(bal.Quantity, bal.AverageCost, r.Quantity, r.LandedUnitCost)
			if err != nil {
				return err
			}
			bal.Quantity = bal.Quantity.Add(r.Quantity)
			bal.AverageCost = avg
			bal.UpdatedAt = s.now().UTC()
			if err := s.repo.Save(ctx, bal); err != nil {
				return fmt.Errorf("save balance %s: %w", r.MaterialID, err)
			}
			bal.Version++
			out = append(out, bal)
			movements = append(movements, s.movement(bal, MovementReceipt, r.Quantity, r.LandedUnitCost, r.Reference))
		}
		return s.repo.AppendMovements(ctx, movements)
	})
	if err != nil {
		return nil, apperror.Persist("record purchases", err)
	}

	for _, b := range out {
		logger.Debug(ctx, "weighted average updated",
			"material_id", b.MaterialID,
			"quantity", b.Quantity.String(),
			"average_cost", b.AverageCost.String(),
		)
	}
	return out, nil
}

// RecordConsumption draws quantity at the current average, leaving the average
// unchanged. It returns the cost of the drawn quantity.
func (s *Service) RecordConsumption(ctx context.Context, materialID id.ID, qty types.Quantity, reference string) (types.Money, error) {
	if !qty.IsPositive() {
		return types.Zero(), apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty.String())
	}

	var cost types.Money
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.repo.GetForUpdate(ctx, materialID)
		if err != nil {
			return fmt.Errorf("lock balance %s: %w", materialID, err)
		}
		if bal.Quantity.LessThan(qty) {
			return apperror.NewInsufficientInventory(materialID.String(), qty, bal.Quantity, qty.Sub(bal.Quantity))
		}
		bal.Quantity = bal.Quantity.Sub(qty)
		bal.UpdatedAt = s.now().UTC()
		if err := s.repo.Save(ctx, bal); err != nil {
			return fmt.Errorf("save balance %s: %w", materialID, err)
		}
		cost = qty.Mul(bal.AverageCost)
		return s.repo.AppendMovements(ctx, []Movement{s.movement(bal, MovementConsumption, qty, bal.AverageCost, reference)})
	})
	if err != nil {
		return types.Zero(), apperror.Persist("record consumption", err)
	}
	return cost, nil
}

// Balance returns the current balance of a material.
func (s *Service) Balance(ctx context.Context, materialID id.ID) (Balance, error) {
	b, err := s.repo.Get(ctx, materialID)
	if err != nil {
		return Balance{}, apperror.Persist("get balance", err)
	}
	return b, nil
}

// Movements returns the latest movements of a material.
func (s *Service) Movements(ctx context.Context, materialID id.ID, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	ms, err := s.repo.ListMovements(ctx, materialID, limit)
	if err != nil {
		return nil, apperror.Persist("list movements", err)
	}
	return ms, nil
}

func (s *Service) movement(bal Balance, kind MovementKind, qty types.Quantity, unitCost types.Money, reference string) Movement {
	return Movement{
		ID:            id.New(),
		MaterialID:    bal.MaterialID,
		Kind:          kind,
		Quantity:      qty,
		UnitCost:      unitCost,
		QuantityAfter: bal.Quantity,
		AverageAfter:  bal.AverageCost,
		Reference:     reference,
		CreatedAt:     bal.UpdatedAt,
	}
}
