package purchase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/domain/charges"
	"costengine/internal/domain/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingLedger struct {
	receipts []ledger.Receipt
}

func (l *recordingLedger) RecordPurchases(ctx context.Context, receipts []ledger.Receipt) ([]ledger.Balance, error) {
	l.receipts = append(l.receipts, receipts...)
	return nil, nil
}

type memoryInvoices struct {
	saved []Result
	err   error
}

func (r *memoryInvoices) Save(ctx context.Context, inv Invoice, res Result) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, res)
	return nil
}

func sampleInvoice() Invoice {
	return Invoice{
		Number:          "INV-204",
		Supplier:        "Valley Growers",
		TransportCharge: d("1000"),
		HandlingCharge:  d("200"),
		Shares: []charges.Group{
			{Name: string(charges.ClassMass), SharePercent: d("80")},
			{Name: string(charges.ClassCount), SharePercent: d("20")},
		},
		Lines: []Line{
			{MaterialID: id.New(), Quantity: d("2"), Unit: "ton", UnitRate: d("20000"), GSTPercent: d("5")},
			{MaterialID: id.New(), Quantity: d("100"), Unit: "bag", UnitRate: d("12"), GSTPercent: d("18")},
		},
	}
}

func TestPriceComputesLandedCost(t *testing.T) {
	res, err := Price(sampleInvoice())
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	grain := res.Items[0]
	assert.True(t, grain.BaseQuantity.Equal(d("2000")))
	assert.True(t, grain.Base.Equal(d("40000")))
	assert.True(t, grain.GST.Equal(d("2000")))
	assert.True(t, grain.Transport.Equal(d("800")))
	assert.True(t, grain.Handling.Equal(d("160")))
	assert.True(t, grain.Total.Equal(d("42960")))
	assert.True(t, grain.LandedUnitCost.Equal(d("21.48")))

	bags := res.Items[1]
	assert.True(t, bags.Total.Equal(d("1200").Add(d("216")).Add(d("200")).Add(d("40"))))
	assert.True(t, res.Total.Equal(grain.Total.Add(bags.Total)))
}

func TestPriceRejectsInvalidLines(t *testing.T) {
	inv := sampleInvoice()
	inv.Lines[0].GSTPercent = d("101")
	_, err := Price(inv)
	assert.True(t, apperror.IsValidation(err))

	inv = sampleInvoice()
	inv.Lines[1].Quantity = decimal.Zero
	_, err = Price(inv)
	assert.True(t, apperror.IsValidation(err))

	inv = sampleInvoice()
	inv.Shares = inv.Shares[:1]
	_, err = Price(inv)
	assert.True(t, apperror.IsValidation(err), "shares below 100 must block allocation")
}

func TestPriceWithoutCharges(t *testing.T) {
	inv := sampleInvoice()
	inv.TransportCharge = decimal.Zero
	inv.HandlingCharge = decimal.Zero
	inv.Shares = nil

	res, err := Price(inv)
	require.NoError(t, err)
	assert.True(t, res.Items[0].Transport.IsZero())
	assert.True(t, res.Items[0].LandedUnitCost.Equal(d("21")))
}

func TestRecordFeedsLedger(t *testing.T) {
	l := &recordingLedger{}
	repo := &memoryInvoices{}
	svc := NewService(l, repo, tx.Passthrough)

	res, err := svc.Record(context.Background(), sampleInvoice())
	require.NoError(t, err)
	assert.False(t, id.IsNil(res.InvoiceID))
	require.Len(t, l.receipts, 2)
	assert.True(t, l.receipts[0].Quantity.Equal(d("2000")))
	assert.True(t, l.receipts[0].LandedUnitCost.Equal(d("21.48")))
	assert.Equal(t, "INV-204", l.receipts[0].Reference)
	assert.Len(t, repo.saved, 1)
}

func TestRecordPersistenceFailure(t *testing.T) {
	l := &recordingLedger{}
	svc := NewService(l, &memoryInvoices{err: errors.New("connection reset")}, tx.Passthrough)

	_, err := svc.Record(context.Background(), sampleInvoice())
	assert.True(t, apperror.IsPersistence(err))
	assert.Empty(t, l.receipts)
}
