package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/byproduct"
	"costengine/internal/infrastructure/storage/postgres"
)

const (
	lotsTable        = "byproduct_lots"
	allocationsTable = "byproduct_allocations"
)

var _ byproduct.Repository = (*LotRepo)(nil)

// LotRepo implements byproduct.Repository.
type LotRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLotRepo creates a byproduct lot repository.
func NewLotRepo(txm *postgres.TxManager) *LotRepo {
	return &LotRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// ListAvailable returns lots with stock left, oldest first.
func (r *LotRepo) ListAvailable(ctx context.Context, byproductType string) ([]byproduct.Lot, error) {
	q := r.builder.Select(postgres.Columns[byproduct.Lot]()...).
		From(lotsTable).
		Where(squirrel.Eq{"byproduct_type": byproductType}).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		OrderBy("created_at", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []byproduct.Lot
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}
	return lots, nil
}

// GetForUpdate locks a lot until the transaction ends.
func (r *LotRepo) GetForUpdate(ctx context.Context, lotID id.ID) (byproduct.Lot, error) {
	q := r.builder.Select(postgres.Columns[byproduct.Lot]()...).
		From(lotsTable).
		Where(squirrel.Eq{"id": lotID}).
		Suffix("FOR UPDATE")

	sql, args, err := q.ToSql()
	if err != nil {
		return byproduct.Lot{}, fmt.Errorf("build query: %w", err)
	}

	var lot byproduct.Lot
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &lot, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return byproduct.Lot{}, apperror.NewNotFound("byproduct lot", lotID)
		}
		return byproduct.Lot{}, fmt.Errorf("get lot for update: %w", err)
	}
	return lot, nil
}

// UpdateRemaining sets the remaining quantity of a locked lot.
func (r *LotRepo) UpdateRemaining(ctx context.Context, lotID id.ID, remaining types.Quantity) error {
	q := r.builder.Update(lotsTable).
		Set("quantity_remaining", remaining).
		Where(squirrel.Eq{"id": lotID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("byproduct lot", lotID)
	}
	return nil
}

// CreateLots inserts the lots of a finalized batch.
func (r *LotRepo) CreateLots(ctx context.Context, lots []byproduct.Lot) error {
	if len(lots) == 0 {
		return nil
	}

	q := r.builder.Insert(lotsTable).Columns(postgres.Columns[byproduct.Lot]()...)
	for _, l := range lots {
		q = q.Values(postgres.Values(l)...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lots: %w", err)
	}
	return nil
}

// SaveAllocations copies committed allocations.
func (r *LotRepo) SaveAllocations(ctx context.Context, allocations []byproduct.Allocation) error {
	rows := make([][]any, 0, len(allocations))
	for _, a := range allocations {
		rows = append(rows, postgres.Values(a))
	}
	if _, err := r.txm.CopyRows(ctx, allocationsTable, postgres.Columns[byproduct.Allocation](), rows); err != nil {
		return fmt.Errorf("save allocations: %w", err)
	}
	return nil
}

// ListAllocationsBySale returns a sale's allocations in allocation order.
func (r *LotRepo) ListAllocationsBySale(ctx context.Context, saleID id.ID) ([]byproduct.Allocation, error) {
	q := r.builder.Select(postgres.Columns[byproduct.Allocation]()...).
		From(allocationsTable).
		Where(squirrel.Eq{"sale_id": saleID}).
		OrderBy("id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var allocations []byproduct.Allocation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &allocations, sql, args...); err != nil {
		return nil, fmt.Errorf("select allocations: %w", err)
	}
	return allocations, nil
}
