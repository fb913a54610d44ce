package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryRepo struct {
	mu        sync.Mutex
	balances  map[id.ID]Balance
	movements []Movement
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: map[id.ID]Balance{}}
}

func (r *memoryRepo) Get(ctx context.Context, materialID id.ID) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.balances[materialID]; ok {
		return b, nil
	}
	return Balance{MaterialID: materialID}, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, materialID id.ID) (Balance, error) {
	return r.Get(ctx, materialID)
}

func (r *memoryRepo) Save(ctx context.Context, b Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.balances[b.MaterialID]; cur.Version != b.Version {
		return apperror.NewConflict("balance modified concurrently")
	}
	b.Version++
	r.balances[b.MaterialID] = b
	return nil
}

func (r *memoryRepo) AppendMovements(ctx context.Context, movements []Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movements = append(r.movements, movements...)
	return nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, materialID id.ID, limit int) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.movements {
		if m.MaterialID == materialID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestNextAverage(t *testing.T) {
	avg, err := NextAverage(decimal.Zero, decimal.Zero, d("100"), d("50"))
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("50")))

	avg, err = NextAverage(d("100"), d("50"), d("50"), d("80"))
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("60")))

	_, err = NextAverage(d("100"), d("50"), decimal.Zero, d("80"))
	assert.True(t, apperror.IsValidation(err))

	_, err = NextAverage(d("100"), d("50"), d("1"), d("-1"))
	assert.True(t, apperror.IsValidation(err))
}

func TestRecordPurchaseBlendsAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, tx.Passthrough)
	ctx := context.Background()
	maize := id.New()

	avg, err := svc.RecordPurchase(ctx, Receipt{MaterialID: maize, Quantity: d("100"), LandedUnitCost: d("50"), Reference: "INV-1"})
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("50")))

	avg, err = svc.RecordPurchase(ctx, Receipt{MaterialID: maize, Quantity: d("50"), LandedUnitCost: d("80"), Reference: "INV-2"})
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("60")))

	bal, err := svc.Balance(ctx, maize)
	require.NoError(t, err)
	assert.True(t, bal.Quantity.Equal(d("150")))
	assert.True(t, bal.Value().Equal(d("9000")))

	moves, err := svc.Movements(ctx, maize, 0)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, MovementReceipt, moves[1].Kind)
	assert.True(t, moves[1].AverageAfter.Equal(d("60")))
}

func TestRecordPurchasesSameMaterialTwice(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, tx.Passthrough)
	soy := id.New()

	out, err := svc.RecordPurchases(context.Background(), []Receipt{
		{MaterialID: soy, Quantity: d("10"), LandedUnitCost: d("20")},
		{MaterialID: soy, Quantity: d("10"), LandedUnitCost: d("40")},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[1].AverageCost.Equal(d("30")))
	assert.True(t, out[1].Quantity.Equal(d("20")))
}

func TestRecordConsumption(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, tx.Passthrough)
	ctx := context.Background()
	maize := id.New()

	_, err := svc.RecordPurchase(ctx, Receipt{MaterialID: maize, Quantity: d("100"), LandedUnitCost: d("12.5")})
	require.NoError(t, err)

	cost, err := svc.RecordConsumption(ctx, maize, d("40"), "BATCH-7")
	require.NoError(t, err)
	assert.True(t, cost.Equal(d("500")))

	_, err = svc.RecordConsumption(ctx, maize, d("61"), "BATCH-8")
	require.True(t, apperror.IsInsufficientInventory(err))

	bal, err := svc.Balance(ctx, maize)
	require.NoError(t, err)
	assert.True(t, bal.Quantity.Equal(d("60")))
	assert.True(t, bal.AverageCost.Equal(d("12.5")))
}
