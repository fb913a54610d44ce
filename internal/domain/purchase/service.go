// Package purchase prices supplier invoices into landed unit costs and feeds
// them into the weighted-average ledger.
package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/charges"
	"costengine/internal/domain/ledger"
	"costengine/pkg/logger"
)

// Line is one material line of a supplier invoice.
type Line struct {
	MaterialID id.ID           `json:"materialId"`
	Quantity   types.Quantity  `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitRate   types.Money     `json:"unitRate"`
	GSTPercent decimal.Decimal `json:"gstPercent"`
}

// Invoice is a supplier invoice with shared charges. Shares split both the
// transport and the handling charge across unit-of-measure groups.
type Invoice struct {
	ID              id.ID           `json:"id"`
	Number          string          `json:"number"`
	Supplier        string          `json:"supplier"`
	Date            time.Time       `json:"date"`
	TransportCharge types.Money     `json:"transportCharge"`
	HandlingCharge  types.Money     `json:"handlingCharge"`
	Shares          []charges.Group `json:"shares"`
	Lines           []Line          `json:"lines"`
}

// LineItem is a priced invoice line (PurchaseLineItem).
type LineItem struct {
	Line
	BaseQuantity   types.Quantity `json:"baseQuantity"`
	Base           types.Money    `json:"base"`
	GST            types.Money    `json:"gst"`
	Transport      types.Money    `json:"transport"`
	Handling       types.Money    `json:"handling"`
	Total          types.Money    `json:"total"`
	LandedUnitCost types.Money    `json:"landedUnitCost"`
}

// Result is a priced invoice.
type Result struct {
	InvoiceID id.ID       `json:"invoiceId"`
	Number    string      `json:"number"`
	Items     []LineItem  `json:"items"`
	Total     types.Money `json:"total"`
}

// Ledger receives landed costs.
type Ledger interface {
	RecordPurchases(ctx context.Context, receipts []ledger.Receipt) ([]ledger.Balance, error)
}

// Repository persists priced invoices.
type Repository interface {
	Save(ctx context.Context, inv Invoice, res Result) error
}

// Service records invoices.
type Service struct {
	ledger    Ledger
	repo      Repository
	txManager tx.Manager
}

// NewService creates a purchase service.
func NewService(l Ledger, repo Repository, txManager tx.Manager) *Service {
	return &Service{ledger: l, repo: repo, txManager: txManager}
}

// Record prices the invoice, stores it and updates the ledger in one transaction.
func (s *Service) Record(ctx context.Context, inv Invoice) (Result, error) {
	if id.IsNil(inv.ID) {
		inv.ID = id.New()
	}
	res, err := Price(inv)
	if err != nil {
		return Result{}, err
	}

	receipts := make([]ledger.Receipt, 0, len(res.Items))
	for _, it := range res.Items {
		receipts = append(receipts, ledger.Receipt{
			MaterialID:     it.MaterialID,
			Quantity:       it.BaseQuantity,
			LandedUnitCost: it.LandedUnitCost,
			Reference:      inv.Number,
		})
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Save(ctx, inv, res); err != nil {
			return fmt.Errorf("save invoice: %w", err)
		}
		if _, err := s.ledger.RecordPurchases(ctx, receipts); err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, apperror.Persist("record invoice", err)
	}

	logger.Info(ctx, "purchase invoice recorded",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"lines", len(res.Items),
		"total", types.RoundCurrency(res.Total).String(),
	)
	return res, nil
}

// Price computes per-line landed costs:
//
//	base = qty × rate, gst = base × gst% / 100
//	total = base + gst + transport + handling
//	landed unit cost = total / qty in the base unit
func Price(inv Invoice) (Result, error) {
	if len(inv.Lines) == 0 {
		return Result{}, apperror.NewValidation("invoice has no lines")
	}

	items := make([]charges.Item, 0, len(inv.Lines))
	for i, l := range inv.Lines {
		if err := validateLine(i, l); err != nil {
			return Result{}, err
		}
		it, err := charges.NewUnitItem(lineKey(i), l.Quantity, l.Unit)
		if err != nil {
			return Result{}, err
		}
		items = append(items, it)
	}

	transport, err := split(inv.TransportCharge, inv.Shares, items)
	if err != nil {
		return Result{}, err
	}
	handling, err := split(inv.HandlingCharge, inv.Shares, items)
	if err != nil {
		return Result{}, err
	}

	res := Result{InvoiceID: inv.ID, Number: inv.Number, Items: make([]LineItem, 0, len(inv.Lines)), Total: decimal.Zero}
	for i, l := range inv.Lines {
		base := l.Quantity.Mul(l.UnitRate)
		gst := base.Mul(l.GSTPercent).Div(types.Hundred)
		total := base.Add(gst).Add(transport[i]).Add(handling[i])
		res.Items = append(res.Items, LineItem{
			Line:           l,
			BaseQuantity:   items[i].Quantity,
			Base:           base,
			GST:            gst,
			Transport:      transport[i],
			Handling:       handling[i],
			Total:          total,
			LandedUnitCost: total.Div(items[i].Quantity),
		})
		res.Total = res.Total.Add(total)
	}
	return res, nil
}

// split allocates a charge per item index. A zero charge with no configured
// shares needs no allocation.
func split(total types.Money, shares []charges.Group, items []charges.Item) ([]types.Money, error) {
	out := make([]types.Money, len(items))
	for i := range out {
		out[i] = decimal.Zero
	}
	if total.IsZero() && len(shares) == 0 {
		return out, nil
	}
	allocated, err := charges.Allocate(total, shares, items)
	if err != nil {
		return nil, err
	}
	for i, a := range allocated {
		out[i] = a.Amount
	}
	return out, nil
}

func validateLine(i int, l Line) error {
	field := func(name, msg string) error {
		return apperror.NewValidation(fmt.Sprintf("line %d: %s", i+1, msg)).WithDetail("field", name)
	}
	switch {
	case id.IsNil(l.MaterialID):
		return field("materialId", "material is required")
	case !l.Quantity.IsPositive():
		return field("quantity", "quantity must be positive")
	case !l.UnitRate.IsPositive():
		return field("unitRate", "unit rate must be positive")
	case l.GSTPercent.IsNegative() || l.GSTPercent.GreaterThan(types.Hundred):
		return field("gstPercent", "GST rate must be between 0 and 100")
	case strings.TrimSpace(l.Unit) == "":
		return field("unit", "unit is required")
	}
	return nil
}

func lineKey(i int) string {
	return fmt.Sprintf("line-%d", i+1)
}
