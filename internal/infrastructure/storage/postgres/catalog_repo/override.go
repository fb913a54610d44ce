package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/id"
	"costengine/internal/domain/override"
	"costengine/internal/infrastructure/storage/postgres"
)

const overridesTable = "rate_overrides"

var _ override.Repository = (*OverrideRepo)(nil)

// OverrideRepo implements override.Repository. Records are append-only.
type OverrideRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewOverrideRepo creates an override history repository.
func NewOverrideRepo(txm *postgres.TxManager) *OverrideRepo {
	return &OverrideRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// SaveRecords appends override records.
func (r *OverrideRepo) SaveRecords(ctx context.Context, records []override.Record) error {
	if len(records) == 0 {
		return nil
	}

	q := r.builder.Insert(overridesTable).Columns(postgres.Columns[override.Record]()...)
	for _, rec := range records {
		q = q.Values(postgres.Values(rec)...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert override records: %w", err)
	}
	return nil
}

// ListByElement returns the newest records of an element first.
func (r *OverrideRepo) ListByElement(ctx context.Context, elementID id.ID, limit int) ([]override.Record, error) {
	q := r.builder.Select(postgres.Columns[override.Record]()...).
		From(overridesTable).
		Where(squirrel.Eq{"element_id": elementID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []override.Record
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("select override records: %w", err)
	}
	return records, nil
}
