package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"costengine/internal/core/apperror"
	"costengine/internal/domain/purchase"
	"costengine/internal/infrastructure/storage/postgres"
)

const invoicesTable = "purchase_invoices"

var _ purchase.Repository = (*InvoiceRepo)(nil)

type invoicePayload struct {
	Invoice purchase.Invoice `json:"invoice"`
	Result  purchase.Result  `json:"result"`
}

// InvoiceRepo implements purchase.Repository.
type InvoiceRepo struct {
	txm     *postgres.TxManager
	codec   *postgres.PayloadCodec
	builder squirrel.StatementBuilderType
}

// NewInvoiceRepo creates an invoice repository.
func NewInvoiceRepo(txm *postgres.TxManager, codec *postgres.PayloadCodec) *InvoiceRepo {
	return &InvoiceRepo{
		txm:     txm,
		codec:   codec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Save stores a priced invoice. Lines and charge splits are kept as one payload.
func (r *InvoiceRepo) Save(ctx context.Context, inv purchase.Invoice, res purchase.Result) error {
	payload, codec, err := r.codec.Encode(invoicePayload{Invoice: inv, Result: res})
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}

	q := r.builder.Insert(invoicesTable).SetMap(map[string]any{
		"id":            inv.ID,
		"number":        inv.Number,
		"supplier":      inv.Supplier,
		"invoice_date":  inv.Date,
		"total":         res.Total,
		"payload":       payload,
		"payload_codec": codec,
	})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("invoice already recorded").WithDetail("invoiceId", inv.ID)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}
