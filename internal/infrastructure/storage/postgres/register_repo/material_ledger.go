// Package register_repo stores running balances: the material ledger and byproduct lots.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/domain/ledger"
	"costengine/internal/infrastructure/storage/postgres"
)

const (
	balancesTable  = "material_balances"
	movementsTable = "material_movements"
)

var _ ledger.Repository = (*MaterialLedgerRepo)(nil)

// MaterialLedgerRepo implements ledger.Repository.
type MaterialLedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewMaterialLedgerRepo creates a material ledger repository.
func NewMaterialLedgerRepo(txm *postgres.TxManager) *MaterialLedgerRepo {
	return &MaterialLedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get returns the balance, or a zero balance for a material never purchased.
func (r *MaterialLedgerRepo) Get(ctx context.Context, materialID id.ID) (ledger.Balance, error) {
	q := r.builder.Select(postgres.Columns[ledger.Balance]()...).
		From(balancesTable).
		Where(squirrel.Eq{"material_id": materialID})

	sql, args, err := q.ToSql()
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("build query: %w", err)
	}

	var bal ledger.Balance
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &bal, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return ledger.Balance{MaterialID: materialID, Quantity: decimal.Zero, AverageCost: decimal.Zero}, nil
		}
		return ledger.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// GetForUpdate creates the balance row when missing and locks it.
func (r *MaterialLedgerRepo) GetForUpdate(ctx context.Context, materialID id.ID) (ledger.Balance, error) {
	querier := r.txm.GetQuerier(ctx)

	if _, err := querier.Exec(ctx, `
		INSERT INTO material_balances (material_id, quantity, average_cost, version, updated_at)
		VALUES ($1, 0, 0, 0, now())
		ON CONFLICT (material_id) DO NOTHING
	`, materialID); err != nil {
		return ledger.Balance{}, fmt.Errorf("ensure balance: %w", err)
	}

	var bal ledger.Balance
	err := pgxscan.Get(ctx, querier, &bal, `
		SELECT material_id, quantity, average_cost, version, updated_at
		FROM material_balances
		WHERE material_id = $1
		FOR UPDATE
	`, materialID)
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("get balance for update: %w", err)
	}
	return bal, nil
}

// Save writes quantity and average guarded by version.
func (r *MaterialLedgerRepo) Save(ctx context.Context, b ledger.Balance) error {
	q := r.builder.Update(balancesTable).
		Set("quantity", b.Quantity).
		Set("average_cost", b.AverageCost).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"material_id": b.MaterialID, "version": b.Version})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("material balance modified concurrently").
			WithDetail("materialId", b.MaterialID)
	}
	return nil
}

// AppendMovements copies movements in bulk inside the current transaction.
func (r *MaterialLedgerRepo) AppendMovements(ctx context.Context, movements []ledger.Movement) error {
	rows := make([][]any, 0, len(movements))
	for _, m := range movements {
		rows = append(rows, postgres.Values(m))
	}
	if _, err := r.txm.CopyRows(ctx, movementsTable, postgres.Columns[ledger.Movement](), rows); err != nil {
		return fmt.Errorf("append movements: %w", err)
	}
	return nil
}

// ListMovements returns the latest movements of a material, newest first.
func (r *MaterialLedgerRepo) ListMovements(ctx context.Context, materialID id.ID, limit int) ([]ledger.Movement, error) {
	q := r.builder.Select(postgres.Columns[ledger.Movement]()...).
		From(movementsTable).
		Where(squirrel.Eq{"material_id": materialID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var movements []ledger.Movement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}
