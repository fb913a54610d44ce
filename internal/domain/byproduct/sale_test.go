package byproduct

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func lotAged(days int, qty, rate string) Lot {
	return NewLot("husk", id.New(), d(qty), d(rate), now.AddDate(0, 0, -days))
}

type memoryLots struct {
	mu          sync.Mutex
	lots        map[id.ID]Lot
	allocations []Allocation
}

func newMemoryLots(lots ...Lot) *memoryLots {
	m := &memoryLots{lots: map[id.ID]Lot{}}
	for _, l := range lots {
		m.lots[l.ID] = l
	}
	return m
}

func (m *memoryLots) ListAvailable(ctx context.Context, byproductType string) ([]Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lot
	for _, l := range m.lots {
		if l.ByproductType == byproductType && l.QuantityRemaining.IsPositive() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryLots) GetForUpdate(ctx context.Context, lotID id.ID) (Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[lotID]
	if !ok {
		return Lot{}, apperror.NewNotFound("lot", lotID)
	}
	return l, nil
}

func (m *memoryLots) UpdateRemaining(ctx context.Context, lotID id.ID, remaining types.Quantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lots[lotID]
	l.QuantityRemaining = remaining
	m.lots[lotID] = l
	return nil
}

func (m *memoryLots) SaveAllocations(ctx context.Context, allocations []Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations = append(m.allocations, allocations...)
	return nil
}

func (m *memoryLots) ListAllocationsBySale(ctx context.Context, saleID id.ID) ([]Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Allocation
	for _, a := range m.allocations {
		if a.SaleID == saleID {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingPoster struct {
	posted []Adjustment
}

func (p *recordingPoster) PostAdjustments(ctx context.Context, adjustments []Adjustment) error {
	p.posted = append(p.posted, adjustments...)
	return nil
}

func TestAllocateOldestFirst(t *testing.T) {
	ten := lotAged(10, "100", "5")
	five := lotAged(5, "100", "5")
	twenty := lotAged(20, "100", "5")

	allocs, shortfall := Allocate(d("40"), []Lot{ten, five, twenty})
	require.Len(t, allocs, 1)
	assert.Equal(t, twenty.ID, allocs[0].LotID)
	assert.True(t, allocs[0].Quantity.Equal(d("40")))
	assert.True(t, shortfall.IsZero())
}

func TestAllocateReportsShortfall(t *testing.T) {
	older := lotAged(3, "30", "5")
	newer := lotAged(1, "20", "5")

	allocs, shortfall := Allocate(d("60"), []Lot{newer, older})
	require.Len(t, allocs, 2)
	assert.True(t, allocs[0].Quantity.Equal(d("30")))
	assert.True(t, allocs[1].Quantity.Equal(d("20")))
	assert.True(t, shortfall.Equal(d("10")))
	assert.True(t, newer.QuantityRemaining.Equal(d("20")), "input lots are not modified")
}

func TestAllocateTieBreakAndEmptyLots(t *testing.T) {
	a := lotAged(2, "10", "5")
	b := lotAged(2, "10", "5")
	empty := lotAged(9, "0", "5")
	first, second := a, b
	if id.Less(b.ID, a.ID) {
		first, second = b, a
	}

	allocs, _ := Allocate(d("15"), []Lot{second, empty, first})
	require.Len(t, allocs, 2)
	assert.Equal(t, first.ID, allocs[0].LotID)
	assert.Equal(t, second.ID, allocs[1].LotID)
	assert.True(t, allocs[1].Quantity.Equal(d("5")))
}

func TestReconcileSign(t *testing.T) {
	below := Reconcile(Allocation{Quantity: d("10"), EstimatedRate: d("8"), RealizedRate: d("3")})
	assert.True(t, below.Amount.Equal(d("50")))

	above := Reconcile(Allocation{Quantity: d("10"), EstimatedRate: d("8"), RealizedRate: d("11")})
	assert.True(t, above.Amount.Equal(d("-30")))
}

func TestPreviewAndCommit(t *testing.T) {
	older := lotAged(3, "30", "8")
	newer := lotAged(1, "20", "8")
	repo := newMemoryLots(older, newer)
	poster := &recordingPoster{}
	svc := NewSaleService(repo, nil, poster, tx.Passthrough)
	ctx := context.Background()

	plan, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("40"), RealizedRate: d("6")})
	require.NoError(t, err)
	require.True(t, plan.Satisfiable())
	assert.True(t, repo.lots[older.ID].QuantityRemaining.Equal(d("30")), "preview must not charge inventory")

	sale, err := svc.Commit(ctx, plan)
	require.NoError(t, err)
	assert.True(t, sale.TotalAdjustment.Equal(d("80")))
	assert.True(t, repo.lots[older.ID].QuantityRemaining.IsZero())
	assert.True(t, repo.lots[newer.ID].QuantityRemaining.Equal(d("10")))
	require.Len(t, poster.posted, 2)
	assert.Equal(t, older.BatchID, poster.posted[0].BatchID)

	saved, err := svc.Allocations(ctx, plan.SaleID)
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestCommitRejectsShortfall(t *testing.T) {
	repo := newMemoryLots(lotAged(3, "30", "8"), lotAged(1, "20", "8"))
	svc := NewSaleService(repo, nil, &recordingPoster{}, tx.Passthrough)
	ctx := context.Background()

	plan, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("60"), RealizedRate: d("6")})
	require.NoError(t, err)
	assert.True(t, plan.Shortfall.Equal(d("10")))

	_, err = svc.Commit(ctx, plan)
	require.True(t, apperror.IsInsufficientInventory(err))
	assert.Empty(t, repo.allocations)
}

func TestStalePreviewFailsWithoutPartialCommit(t *testing.T) {
	older := lotAged(3, "30", "8")
	newer := lotAged(1, "20", "8")
	repo := newMemoryLots(older, newer)
	poster := &recordingPoster{}
	svc := NewSaleService(repo, nil, poster, tx.Passthrough)
	ctx := context.Background()

	first, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("35"), RealizedRate: d("6")})
	require.NoError(t, err)
	second, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("35"), RealizedRate: d("7")})
	require.NoError(t, err)

	_, err = svc.Commit(ctx, first)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, second)
	require.True(t, apperror.IsInsufficientInventory(err))

	assert.True(t, repo.lots[older.ID].QuantityRemaining.IsZero())
	assert.True(t, repo.lots[newer.ID].QuantityRemaining.Equal(d("15")))
	assert.Len(t, repo.allocations, 2)
	assert.Len(t, poster.posted, 2)
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	lot := lotAged(1, "50", "8")
	repo := newMemoryLots(lot)
	var mu sync.Mutex
	serial := tx.Func(func(ctx context.Context, fn func(ctx context.Context) error) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx)
	})
	svc := NewSaleService(repo, nil, &recordingPoster{}, serial)
	ctx := context.Background()

	plans := make([]Plan, 5)
	for i := range plans {
		p, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("20"), RealizedRate: d("8")})
		require.NoError(t, err)
		plans[i] = p
	}

	var wg sync.WaitGroup
	var okMu sync.Mutex
	succeeded := 0
	for _, p := range plans {
		wg.Add(1)
		go func(p Plan) {
			defer wg.Done()
			if _, err := svc.Commit(ctx, p); err == nil {
				okMu.Lock()
				succeeded++
				okMu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.True(t, repo.lots[lot.ID].QuantityRemaining.Equal(d("10")))
}

func TestPreviewValidation(t *testing.T) {
	svc := NewSaleService(newMemoryLots(), nil, &recordingPoster{}, tx.Passthrough)
	ctx := context.Background()

	_, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: decimal.Zero, RealizedRate: d("1")})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("1"), RealizedRate: decimal.Zero})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Preview(ctx, SaleRequest{Quantity: d("1"), RealizedRate: d("1")})
	assert.True(t, apperror.IsValidation(err))
}

func TestCommitTwiceIsRejected(t *testing.T) {
	repo := newMemoryLots(lotAged(3, "100", "8"))
	svc := NewSaleService(repo, nil, &recordingPoster{}, tx.Passthrough)
	ctx := context.Background()

	plan, err := svc.Preview(ctx, SaleRequest{ByproductType: "husk", Quantity: d("10"), RealizedRate: d("8")})
	require.NoError(t, err)
	_, err = svc.Commit(ctx, plan)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, plan)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
	assert.Len(t, repo.allocations, 1)
}

func TestCommitRejectsPlanSkippingOlderLot(t *testing.T) {
	older := lotAged(10, "30", "8")
	newer := lotAged(1, "20", "8")
	repo := newMemoryLots(older, newer)
	poster := &recordingPoster{}
	svc := NewSaleService(repo, nil, poster, tx.Passthrough)
	ctx := context.Background()

	plan := Plan{
		SaleID:        id.New(),
		ByproductType: "husk",
		Requested:     d("10"),
		RealizedRate:  d("6"),
		Allocations:   []Allocation{{LotID: newer.ID, Quantity: d("10")}},
	}
	_, err := svc.Commit(ctx, plan)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)

	assert.True(t, repo.lots[older.ID].QuantityRemaining.Equal(d("30")))
	assert.True(t, repo.lots[newer.ID].QuantityRemaining.Equal(d("20")))
	assert.Empty(t, repo.allocations)
	assert.Empty(t, poster.posted)

	plan.Allocations = []Allocation{{LotID: older.ID, Quantity: d("10")}}
	sale, err := svc.Commit(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, older.BatchID, sale.Allocations[0].BatchID)
	assert.True(t, repo.lots[older.ID].QuantityRemaining.Equal(d("20")))
}

func TestCommitRejectsPlanSplitDifferently(t *testing.T) {
	older := lotAged(10, "30", "8")
	newer := lotAged(1, "20", "8")
	repo := newMemoryLots(older, newer)
	svc := NewSaleService(repo, nil, &recordingPoster{}, tx.Passthrough)

	plan := Plan{
		SaleID:        id.New(),
		ByproductType: "husk",
		Requested:     d("40"),
		RealizedRate:  d("6"),
		Allocations: []Allocation{
			{LotID: older.ID, Quantity: d("20")},
			{LotID: newer.ID, Quantity: d("20")},
		},
	}
	_, err := svc.Commit(context.Background(), plan)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
	assert.Empty(t, repo.allocations)
}
