package catalog

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/pkg/logger"
)

// DefaultTTL is the freshness window of a catalog snapshot.
const DefaultTTL = 5 * time.Minute

// Source is the store collaborator holding cost-element master data.
type Source interface {
	// ListCostElements returns the full catalog.
	ListCostElements(ctx context.Context) ([]CostElement, error)
}

// Store extends Source with the single write the engine performs on master data.
type Store interface {
	Source
	UpdateDefaultRate(ctx context.Context, elementID id.ID, rate types.Money) error
}

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	Elements  []CostElement
	FetchedAt time.Time

	// Stale is set when the snapshot could not be refreshed; Warning explains why.
	Stale   bool
	Warning error
}

// ByID returns the element with the given identifier.
func (s Snapshot) ByID(elementID id.ID) (CostElement, bool) {
	for _, e := range s.Elements {
		if e.ID == elementID {
			return e, true
		}
	}
	return CostElement{}, false
}

// clone copies the elements and their stage lists so callers never share the cached arrays.
func (s Snapshot) clone() Snapshot {
	out := s
	out.Elements = make([]CostElement, len(s.Elements))
	for i, e := range s.Elements {
		e.Stages = slices.Clone(e.Stages)
		out.Elements[i] = e
	}
	return out
}

// ForStage returns elements explicitly tagged with stage, in catalog order.
func (s Snapshot) ForStage(stage Stage) []CostElement {
	out := make([]CostElement, 0, len(s.Elements))
	for _, e := range s.Elements {
		if e.AppliesTo(stage) {
			out = append(out, e)
		}
	}
	return out
}

// Catalog caches cost elements for a bounded freshness window.
// It is an explicit object injected into its consumers; refreshes replace the whole
// snapshot and concurrent forced refreshes resolve as last write wins.
type Catalog struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	validate *validator.Validate

	snapshot atomic.Pointer[Snapshot]
	// refreshMu only collapses concurrent non-forced refreshes of an expired snapshot.
	refreshMu sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates a catalog backed by source.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{
		source:   source,
		ttl:      DefaultTTL,
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached snapshot unless forceRefresh is set or it is older than
// the freshness window. It never fails: on source errors it serves the previous
// snapshot flagged as stale, or an empty stale snapshot when nothing was cached.
func (c *Catalog) Fetch(ctx context.Context, forceRefresh bool) Snapshot {
	if !forceRefresh {
		if cur := c.snapshot.Load(); cur != nil && c.fresh(cur) {
			return cur.clone()
		}
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()
		// Another caller may have refreshed while we waited.
		if cur := c.snapshot.Load(); cur != nil && c.fresh(cur) {
			return cur.clone()
		}
	}
	return c.refresh(ctx)
}

// Elements is shorthand for Fetch(ctx, false).Elements.
func (c *Catalog) Elements(ctx context.Context) []CostElement {
	return c.Fetch(ctx, false).Elements
}

// ForStage returns the elements applicable to stage from the current snapshot.
func (c *Catalog) ForStage(ctx context.Context, stage Stage) []CostElement {
	return c.Fetch(ctx, false).ForStage(stage)
}

// RateOf returns the default rate of the named element, or zero when no such
// element exists. Absence means the cost does not apply.
func (c *Catalog) RateOf(ctx context.Context, elementName string) types.Money {
	for _, e := range c.Elements(ctx) {
		if strings.EqualFold(e.Name, elementName) {
			return e.DefaultRate
		}
	}
	return decimal.Zero
}

// Invalidate drops the cached snapshot so the next Fetch reloads from the source.
func (c *Catalog) Invalidate() {
	c.snapshot.Store(nil)
}

func (c *Catalog) fresh(s *Snapshot) bool {
	return !s.Stale && c.now().Sub(s.FetchedAt) < c.ttl
}

func (c *Catalog) refresh(ctx context.Context) Snapshot {
	elements, err := c.source.ListCostElements(ctx)
	if err != nil {
		return c.serveStale(ctx, err)
	}

	snap := &Snapshot{
		Elements:  c.prepare(ctx, elements),
		FetchedAt: c.now(),
	}
	c.snapshot.Store(snap)

	logger.Debug(ctx, "cost element catalog refreshed", "elements", len(snap.Elements))
	return snap.clone()
}

func (c *Catalog) serveStale(ctx context.Context, cause error) Snapshot {
	warning := apperror.NewStaleCatalog(cause)
	prev := c.snapshot.Load()
	if prev == nil {
		logger.Warn(ctx, "cost element catalog unavailable, no cached data", "error", cause)
		return Snapshot{Stale: true, Warning: warning, FetchedAt: c.now()}
	}
	logger.Warn(ctx, "cost element catalog refresh failed, serving stale snapshot",
		"error", cause,
		"fetched_at", prev.FetchedAt,
	)
	stale := prev.clone()
	stale.Stale = true
	stale.Warning = warning
	return stale
}

// prepare validates master data and applies the legacy stage migration.
func (c *Catalog) prepare(ctx context.Context, elements []CostElement) []CostElement {
	out := make([]CostElement, 0, len(elements))
	for _, e := range elements {
		if err := c.check(e); err != nil {
			logger.Warn(ctx, "skipping invalid cost element", "element_id", e.ID, "name", e.Name, "error", err)
			continue
		}
		e = MigrateLegacyStages(e)
		e.Stages = append([]Stage(nil), e.Stages...)
		out = append(out, e)
	}
	return out
}

func (c *Catalog) check(e CostElement) error {
	if err := c.validate.Struct(e); err != nil {
		return err
	}
	if e.DefaultRate.IsNegative() {
		return errors.New("default rate must not be negative")
	}
	return nil
}
