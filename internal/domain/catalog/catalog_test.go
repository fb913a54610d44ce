package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
)

type fakeSource struct {
	mu       sync.Mutex
	elements []CostElement
	err      error
	calls    int
}

func (s *fakeSource) ListCostElements(ctx context.Context) ([]CostElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]CostElement(nil), s.elements...), nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func element(name string, method Method, rate string, stages ...Stage) CostElement {
	return CostElement{
		ID:          id.New(),
		Name:        name,
		Category:    CategoryLabor,
		UnitType:    "per kilogram",
		Method:      method,
		DefaultRate: decimal.RequireFromString(rate),
		Stages:      stages,
	}
}

func TestFetchServesCacheWithinTTL(t *testing.T) {
	src := &fakeSource{elements: []CostElement{element("Loading labour", MethodPerQuantity, "2", StageCompleteBatch)}}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	c := New(src, WithClock(clock.Now))
	ctx := context.Background()

	first := c.Fetch(ctx, false)
	require.Len(t, first.Elements, 1)

	clock.t = clock.t.Add(4 * time.Minute)
	c.Fetch(ctx, false)
	assert.Equal(t, 1, src.calls)

	clock.t = clock.t.Add(2 * time.Minute)
	c.Fetch(ctx, false)
	assert.Equal(t, 2, src.calls)

	c.Fetch(ctx, true)
	assert.Equal(t, 3, src.calls)
}

func TestFetchServesStaleSnapshotOnFailure(t *testing.T) {
	src := &fakeSource{elements: []CostElement{element("Dryer fuel", MethodPerHour, "150")}}
	c := New(src)
	ctx := context.Background()

	fresh := c.Fetch(ctx, false)
	require.False(t, fresh.Stale)

	src.err = errors.New("store unavailable")
	stale := c.Fetch(ctx, true)
	assert.True(t, stale.Stale)
	assert.Len(t, stale.Elements, 1)
	appErr, ok := apperror.AsAppError(stale.Warning)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeStaleCatalog, appErr.Code)
}

func TestFetchWithoutCacheReturnsEmptyOnFailure(t *testing.T) {
	c := New(&fakeSource{err: errors.New("timeout")})

	snap := c.Fetch(context.Background(), false)
	assert.True(t, snap.Stale)
	assert.Empty(t, snap.Elements)
	assert.True(t, c.RateOf(context.Background(), "anything").IsZero())
}

func TestRateOf(t *testing.T) {
	src := &fakeSource{elements: []CostElement{element("Crushing labour", MethodPerQuantity, "3.5")}}
	c := New(src)
	ctx := context.Background()

	assert.True(t, c.RateOf(ctx, "crushing labour").Equal(decimal.RequireFromString("3.5")))
	assert.True(t, c.RateOf(ctx, "Missing").IsZero())
}

func TestFetchedSnapshotIsACopy(t *testing.T) {
	src := &fakeSource{elements: []CostElement{element("Loading labour", MethodPerQuantity, "2", StageDrying)}}
	c := New(src)
	ctx := context.Background()

	snap := c.Fetch(ctx, false)
	snap.Elements[0].DefaultRate = decimal.NewFromInt(999)
	snap.Elements[0].Stages[0] = StageCrushing

	assert.True(t, c.RateOf(ctx, "Loading labour").Equal(decimal.NewFromInt(2)))
	assert.Len(t, c.ForStage(ctx, StageDrying), 1)
	assert.Empty(t, c.ForStage(ctx, StageCrushing))
	assert.Equal(t, 1, src.calls)

	src.err = errors.New("store down")
	stale := c.Fetch(ctx, true)
	require.True(t, stale.Stale)
	stale.Elements[0].DefaultRate = decimal.NewFromInt(999)
	assert.True(t, c.Fetch(ctx, true).Elements[0].DefaultRate.Equal(decimal.NewFromInt(2)))
}

func TestInvalidateForcesReload(t *testing.T) {
	src := &fakeSource{elements: []CostElement{element("Packing", MethodFixed, "100")}}
	c := New(src)
	ctx := context.Background()

	c.Fetch(ctx, false)
	c.Invalidate()
	c.Fetch(ctx, false)
	assert.Equal(t, 2, src.calls)
}

func TestSnapshotDropsInvalidElements(t *testing.T) {
	bad := element("", MethodFixed, "1")
	negative := element("Refund", MethodFixed, "-1")
	unknown := element("Mystery", Method("per_moon"), "1")
	good := element("Electricity", MethodPerHour, "12", StageDrying)
	c := New(&fakeSource{elements: []CostElement{bad, negative, unknown, good}})

	snap := c.Fetch(context.Background(), false)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, "Electricity", snap.Elements[0].Name)
}

func TestLegacyStageMigration(t *testing.T) {
	c := New(&fakeSource{elements: []CostElement{
		element("Drying Labour", MethodPerQuantity, "1"),
		element("Crusher maintenance", MethodFixed, "1"),
		element("Quality test", MethodFixed, "1"),
		element("Bagging", MethodPerBag, "1", StageCrushing),
	}})

	snap := c.Fetch(context.Background(), false)

	names := func(els []CostElement) []string {
		var out []string
		for _, e := range els {
			out = append(out, e.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Drying Labour"}, names(snap.ForStage(StageDrying)))
	assert.Equal(t, []string{"Crusher maintenance", "Bagging"}, names(snap.ForStage(StageCrushing)))
	assert.Equal(t, []string{"Quality test"}, names(snap.ForStage(StageCompleteBatch)))
}

func TestParseStage(t *testing.T) {
	st, ok := ParseStage(" Drying ")
	assert.True(t, ok)
	assert.Equal(t, StageDrying, st)

	_, ok = ParseStage("roasting")
	assert.False(t, ok)
}
