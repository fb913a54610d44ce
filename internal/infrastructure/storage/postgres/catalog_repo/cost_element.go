// Package catalog_repo stores cost-element master data and rate override history.
package catalog_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/catalog"
	"costengine/internal/infrastructure/storage/postgres"
)

const costElementsTable = "cost_elements"

var _ catalog.Store = (*CostElementRepo)(nil)

// elementRow mirrors cost_elements; stages come back as plain text.
type elementRow struct {
	ID                id.ID       `db:"id"`
	Name              string      `db:"name"`
	Category          string      `db:"category"`
	UnitType          string      `db:"unit_type"`
	Method            string      `db:"calculation_method"`
	DefaultRate       types.Money `db:"default_rate"`
	Optional          bool        `db:"is_optional"`
	Stages            []string    `db:"stages"`
	UseOutputQuantity bool        `db:"computed_from_output"`
}

func (r elementRow) toDomain() catalog.CostElement {
	stages := make([]catalog.Stage, 0, len(r.Stages))
	for _, s := range r.Stages {
		stages = append(stages, catalog.Stage(s))
	}
	return catalog.CostElement{
		ID:                r.ID,
		Name:              r.Name,
		Category:          catalog.Category(r.Category),
		UnitType:          r.UnitType,
		Method:            catalog.Method(r.Method),
		DefaultRate:       r.DefaultRate,
		Optional:          r.Optional,
		Stages:            stages,
		UseOutputQuantity: r.UseOutputQuantity,
	}
}

func fromDomain(e catalog.CostElement) elementRow {
	stages := make([]string, 0, len(e.Stages))
	for _, s := range e.Stages {
		stages = append(stages, string(s))
	}
	return elementRow{
		ID:                e.ID,
		Name:              e.Name,
		Category:          string(e.Category),
		UnitType:          e.UnitType,
		Method:            string(e.Method),
		DefaultRate:       e.DefaultRate,
		Optional:          e.Optional,
		Stages:            stages,
		UseOutputQuantity: e.UseOutputQuantity,
	}
}

// CostElementRepo implements catalog.Store.
type CostElementRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewCostElementRepo creates a cost element repository.
func NewCostElementRepo(txm *postgres.TxManager) *CostElementRepo {
	return &CostElementRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// ListCostElements returns the whole catalog in display order.
func (r *CostElementRepo) ListCostElements(ctx context.Context) ([]catalog.CostElement, error) {
	q := r.builder.Select(postgres.Columns[elementRow]()...).
		From(costElementsTable).
		OrderBy("sort_order", "name", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []elementRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select cost elements: %w", err)
	}

	elements := make([]catalog.CostElement, 0, len(rows))
	for _, row := range rows {
		elements = append(elements, row.toDomain())
	}
	return elements, nil
}

// UpdateDefaultRate changes the master-data rate of one element.
func (r *CostElementRepo) UpdateDefaultRate(ctx context.Context, elementID id.ID, rate types.Money) error {
	q := r.builder.Update(costElementsTable).
		Set("default_rate", rate).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": elementID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update default rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("cost element", elementID)
	}
	return nil
}

// Upsert writes elements, replacing rows with the same id. sortOrder follows slice order.
func (r *CostElementRepo) Upsert(ctx context.Context, elements []catalog.CostElement) error {
	if len(elements) == 0 {
		return nil
	}

	cols := append(postgres.Columns[elementRow](), "sort_order", "updated_at")
	q := r.builder.Insert(costElementsTable).Columns(cols...)
	now := time.Now().UTC()
	for i, e := range elements {
		vals := append(postgres.Values(fromDomain(e)), i, now)
		q = q.Values(vals...)
	}
	q = q.Suffix(`ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		category = EXCLUDED.category,
		unit_type = EXCLUDED.unit_type,
		calculation_method = EXCLUDED.calculation_method,
		default_rate = EXCLUDED.default_rate,
		is_optional = EXCLUDED.is_optional,
		stages = EXCLUDED.stages,
		computed_from_output = EXCLUDED.computed_from_output,
		sort_order = EXCLUDED.sort_order,
		updated_at = EXCLUDED.updated_at`)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert cost elements: %w", err)
	}
	return nil
}
