// Package document_repo stores finalized documents: batch cost summaries and purchase invoices.
package document_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/domain/batchcost"
	"costengine/internal/domain/stagecost"
	"costengine/internal/infrastructure/storage/postgres"
)

const (
	summariesTable   = "batch_cost_summaries"
	adjustmentsTable = "batch_cost_adjustments"
)

var _ batchcost.Repository = (*BatchSummaryRepo)(nil)

// summaryPayload holds what the summary row does not spread into columns.
type summaryPayload struct {
	Stages     []stagecost.Result         `json:"stages"`
	Byproducts []batchcost.ByproductYield `json:"byproducts,omitempty"`
}

type summaryRow struct {
	batchcost.Summary
	Payload      []byte `db:"payload"`
	PayloadCodec string `db:"payload_codec"`
}

// BatchSummaryRepo implements batchcost.Repository.
type BatchSummaryRepo struct {
	txm     *postgres.TxManager
	codec   *postgres.PayloadCodec
	builder squirrel.StatementBuilderType
}

// NewBatchSummaryRepo creates a batch summary repository.
func NewBatchSummaryRepo(txm *postgres.TxManager, codec *postgres.PayloadCodec) *BatchSummaryRepo {
	return &BatchSummaryRepo{
		txm:     txm,
		codec:   codec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a finalized summary with its stage lines.
func (r *BatchSummaryRepo) Create(ctx context.Context, s batchcost.Summary) error {
	payload, codec, err := r.codec.Encode(summaryPayload{Stages: s.Stages, Byproducts: s.Byproducts})
	if err != nil {
		return fmt.Errorf("encode stage lines: %w", err)
	}

	data := postgres.StructToMap(s)
	data["payload"] = payload
	data["payload_codec"] = codec

	sql, args, err := r.builder.Insert(summariesTable).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("batch already finalized").WithDetail("batchId", s.BatchID)
		}
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Get loads a summary with its stage lines.
func (r *BatchSummaryRepo) Get(ctx context.Context, batchID id.ID) (batchcost.Summary, error) {
	return r.get(ctx, batchID, false)
}

// GetForUpdate loads and locks a summary.
func (r *BatchSummaryRepo) GetForUpdate(ctx context.Context, batchID id.ID) (batchcost.Summary, error) {
	return r.get(ctx, batchID, true)
}

func (r *BatchSummaryRepo) get(ctx context.Context, batchID id.ID, lock bool) (batchcost.Summary, error) {
	q := r.builder.Select(postgres.Columns[summaryRow]()...).
		From(summariesTable).
		Where(squirrel.Eq{"batch_id": batchID})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return batchcost.Summary{}, fmt.Errorf("build query: %w", err)
	}

	var row summaryRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return batchcost.Summary{}, apperror.NewNotFound("batch cost summary", batchID)
		}
		return batchcost.Summary{}, fmt.Errorf("get summary: %w", err)
	}

	var payload summaryPayload
	if err := r.codec.Decode(row.Payload, row.PayloadCodec, &payload); err != nil {
		return batchcost.Summary{}, fmt.Errorf("decode stage lines: %w", err)
	}
	s := row.Summary
	s.Stages = payload.Stages
	s.Byproducts = payload.Byproducts
	return s, nil
}

// Update writes the adjusted totals guarded by version.
func (r *BatchSummaryRepo) Update(ctx context.Context, s batchcost.Summary) error {
	q := r.builder.Update(summariesTable).
		Set("adjustment_total", s.AdjustmentTotal).
		Set("net_cost", s.NetCost).
		Set("cost_per_unit", s.CostPerUnit).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"batch_id": s.BatchID, "version": s.Version})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("batch cost summary modified concurrently").WithDetail("batchId", s.BatchID)
	}
	return nil
}

// AppendAdjustments copies adjustment history rows.
func (r *BatchSummaryRepo) AppendAdjustments(ctx context.Context, entries []batchcost.AdjustmentEntry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, postgres.Values(e))
	}
	if _, err := r.txm.CopyRows(ctx, adjustmentsTable, postgres.Columns[batchcost.AdjustmentEntry](), rows); err != nil {
		return fmt.Errorf("append adjustments: %w", err)
	}
	return nil
}

// ListAdjustments returns a batch's adjustment history in posting order.
func (r *BatchSummaryRepo) ListAdjustments(ctx context.Context, batchID id.ID) ([]batchcost.AdjustmentEntry, error) {
	q := r.builder.Select(postgres.Columns[batchcost.AdjustmentEntry]()...).
		From(adjustmentsTable).
		Where(squirrel.Eq{"batch_id": batchID}).
		OrderBy("created_at", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []batchcost.AdjustmentEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select adjustments: %w", err)
	}
	return entries, nil
}
