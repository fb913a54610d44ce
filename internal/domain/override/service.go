package override

import (
	"context"
	"fmt"

	"costengine/internal/core/apperror"
	appctx "costengine/internal/core/context"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/catalog"
	"costengine/pkg/logger"
)

// Repository persists override audit records.
type Repository interface {
	SaveRecords(ctx context.Context, records []Record) error
	ListByElement(ctx context.Context, elementID id.ID, limit int) ([]Record, error)
}

// RateCatalog is the subset of the catalog the service reads and invalidates.
type RateCatalog interface {
	Fetch(ctx context.Context, forceRefresh bool) catalog.Snapshot
	Invalidate()
}

// RateStore updates master-data default rates.
type RateStore interface {
	UpdateDefaultRate(ctx context.Context, elementID id.ID, rate types.Money) error
}

// SubmitInput is an operator's standalone override request.
type SubmitInput struct {
	ElementID     id.ID
	BatchID       *id.ID
	ProposedRate  types.Money
	Reason        string
	ApplyToFuture bool
}

// Service records overrides and carries out "apply to future batches" requests.
type Service struct {
	auditor   *Auditor
	repo      Repository
	catalog   RateCatalog
	rates     RateStore
	txManager tx.Manager
}

// NewService creates an override service.
func NewService(auditor *Auditor, repo Repository, cat RateCatalog, rates RateStore, txManager tx.Manager) *Service {
	return &Service{
		auditor:   auditor,
		repo:      repo,
		catalog:   cat,
		rates:     rates,
		txManager: txManager,
	}
}

// Auditor exposes the pure evaluator.
func (s *Service) Auditor() *Auditor {
	return s.auditor
}

// Evaluate compares proposedRate with the catalog rate of the element.
func (s *Service) Evaluate(ctx context.Context, elementID id.ID, proposedRate types.Money) (Evaluation, error) {
	el, err := s.element(ctx, elementID)
	if err != nil {
		return Evaluation{}, err
	}
	return s.auditor.Evaluate(el.DefaultRate, proposedRate), nil
}

// Submit validates and records an override. When ApplyToFuture is set the
// element's default rate is updated in the same transaction and the catalog invalidated.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Record, error) {
	el, err := s.element(ctx, in.ElementID)
	if err != nil {
		return Record{}, err
	}

	rec, err := s.auditor.Review(Submission{
		ElementID:     el.ID,
		ElementName:   el.Name,
		BatchID:       in.BatchID,
		DefaultRate:   el.DefaultRate,
		ProposedRate:  in.ProposedRate,
		Reason:        in.Reason,
		ApplyToFuture: in.ApplyToFuture,
	}, appctx.Actor(ctx))
	if err != nil {
		return Record{}, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveRecords(ctx, []Record{rec}); err != nil {
			return fmt.Errorf("save override record: %w", err)
		}
		if rec.ApplyToFuture {
			if err := s.rates.UpdateDefaultRate(ctx, rec.ElementID, rec.NewRate); err != nil {
				return fmt.Errorf("update default rate: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, apperror.Persist("submit override", err)
	}

	if rec.ApplyToFuture {
		s.catalog.Invalidate()
	}

	logger.Info(ctx, "rate override recorded",
		"element", rec.ElementName,
		"original_rate", rec.OriginalRate.String(),
		"new_rate", rec.NewRate.String(),
		"deviation_percent", rec.DeviationPercent.StringFixed(2),
		"apply_to_future", rec.ApplyToFuture,
	)
	return rec, nil
}

// History returns the latest override records of an element.
func (s *Service) History(ctx context.Context, elementID id.ID, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	recs, err := s.repo.ListByElement(ctx, elementID, limit)
	if err != nil {
		return nil, apperror.Persist("list override records", err)
	}
	return recs, nil
}

func (s *Service) element(ctx context.Context, elementID id.ID) (catalog.CostElement, error) {
	el, ok := s.catalog.Fetch(ctx, false).ByID(elementID)
	if !ok {
		return catalog.CostElement{}, apperror.NewNotFound("cost element", elementID)
	}
	return el, nil
}
