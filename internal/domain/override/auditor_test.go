package override

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	appctx "costengine/internal/core/context"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/catalog"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateThresholdIsStrict(t *testing.T) {
	a := NewAuditor(nil)

	at := a.Evaluate(d("100"), d("120"))
	assert.True(t, at.DeviationPercent.Equal(d("20")))
	assert.False(t, at.RequiresReason)

	above := a.Evaluate(d("100"), d("120.01"))
	assert.True(t, above.RequiresReason)

	below := a.Evaluate(d("100"), d("79.99"))
	assert.True(t, below.RequiresReason)
	assert.True(t, below.DeviationPercent.IsNegative())
}

func TestEvaluateZeroDefaultRate(t *testing.T) {
	ev := NewAuditor(nil).Evaluate(decimal.Zero, d("50"))
	assert.True(t, ev.DeviationPercent.IsZero())
	assert.False(t, ev.RequiresReason)
}

func TestCustomThreshold(t *testing.T) {
	ten := d("10")
	ev := NewAuditor(&ten).Evaluate(d("100"), d("111"))
	assert.True(t, ev.RequiresReason)
}

func TestValidateSubmission(t *testing.T) {
	a := NewAuditor(nil)

	_, err := a.ValidateSubmission(decimal.Zero, "", false)
	require.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "rate must be positive")

	_, err = a.ValidateSubmission(d("130"), "   ", true)
	require.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "reason required")

	rec, err := a.ValidateSubmission(d("130"), " supplier price hike ", true)
	require.NoError(t, err)
	assert.Equal(t, "supplier price hike", rec.Reason)
	assert.False(t, rec.Timestamp.IsZero())
}

type memoryRecords struct {
	saved []Record
	err   error
}

func (m *memoryRecords) SaveRecords(ctx context.Context, records []Record) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, records...)
	return nil
}

func (m *memoryRecords) ListByElement(ctx context.Context, elementID id.ID, limit int) ([]Record, error) {
	var out []Record
	for _, r := range m.saved {
		if r.ElementID == elementID {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubCatalog struct {
	snap        catalog.Snapshot
	invalidated int
}

func (c *stubCatalog) Fetch(ctx context.Context, forceRefresh bool) catalog.Snapshot { return c.snap }
func (c *stubCatalog) Invalidate()                                                   { c.invalidated++ }

type stubRates struct{ updated map[id.ID]types.Money }

func (r *stubRates) UpdateDefaultRate(ctx context.Context, elementID id.ID, rate types.Money) error {
	r.updated[elementID] = rate
	return nil
}

func TestSubmitApplyToFuture(t *testing.T) {
	el := catalog.CostElement{ID: id.New(), Name: "Dryer labour", DefaultRate: d("100")}
	cat := &stubCatalog{snap: catalog.Snapshot{Elements: []catalog.CostElement{el}}}
	rates := &stubRates{updated: map[id.ID]types.Money{}}
	repo := &memoryRecords{}
	svc := NewService(NewAuditor(nil), repo, cat, rates, tx.Passthrough)

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "7", Name: "plant.manager"})
	rec, err := svc.Submit(ctx, SubmitInput{ElementID: el.ID, ProposedRate: d("150"), Reason: "new wage agreement", ApplyToFuture: true})
	require.NoError(t, err)

	assert.Equal(t, "plant.manager", rec.Actor)
	assert.True(t, rec.OriginalRate.Equal(d("100")))
	assert.True(t, rec.DeviationPercent.Equal(d("50")))
	assert.True(t, rates.updated[el.ID].Equal(d("150")))
	assert.Equal(t, 1, cat.invalidated)
	assert.Len(t, repo.saved, 1)
}

func TestSubmitRejectsMissingReasonBeforeWriting(t *testing.T) {
	el := catalog.CostElement{ID: id.New(), Name: "Fuel", DefaultRate: d("10")}
	repo := &memoryRecords{}
	svc := NewService(NewAuditor(nil), repo, &stubCatalog{snap: catalog.Snapshot{Elements: []catalog.CostElement{el}}}, &stubRates{updated: map[id.ID]types.Money{}}, tx.Passthrough)

	_, err := svc.Submit(context.Background(), SubmitInput{ElementID: el.ID, ProposedRate: d("13")})
	require.True(t, apperror.IsValidation(err))
	assert.Empty(t, repo.saved)
}

func TestSubmitUnknownElementAndPersistenceFailure(t *testing.T) {
	el := catalog.CostElement{ID: id.New(), Name: "Fuel", DefaultRate: d("10")}
	repo := &memoryRecords{err: errors.New("disk full")}
	cat := &stubCatalog{snap: catalog.Snapshot{Elements: []catalog.CostElement{el}}}
	svc := NewService(NewAuditor(nil), repo, cat, &stubRates{updated: map[id.ID]types.Money{}}, tx.Passthrough)

	_, err := svc.Submit(context.Background(), SubmitInput{ElementID: id.New(), ProposedRate: d("10")})
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.Submit(context.Background(), SubmitInput{ElementID: el.ID, ProposedRate: d("11")})
	assert.True(t, apperror.IsPersistence(err))
	assert.Zero(t, cat.invalidated)
}
