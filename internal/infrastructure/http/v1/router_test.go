package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/batchcost"
	"costengine/internal/domain/catalog"
	"costengine/internal/domain/override"
	"costengine/internal/domain/stagecost"
	"costengine/pkg/logger"
)

type staticSource struct{ elements []catalog.CostElement }

func (s staticSource) ListCostElements(ctx context.Context) ([]catalog.CostElement, error) {
	return s.elements, nil
}

type memoryOverrides struct {
	mu      sync.Mutex
	records []override.Record
}

func (m *memoryOverrides) SaveRecords(ctx context.Context, records []override.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryOverrides) ListByElement(ctx context.Context, elementID id.ID, limit int) ([]override.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []override.Record
	for _, r := range m.records {
		if r.ElementID == elementID {
			out = append(out, r)
		}
	}
	return out, nil
}

type ignoreRates struct{}

func (ignoreRates) UpdateDefaultRate(ctx context.Context, elementID id.ID, rate types.Money) error {
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, catalog.CostElement, *memoryOverrides) {
	t.Helper()
	labour := catalog.CostElement{
		ID:          id.New(),
		Name:        "Drying labour",
		Category:    catalog.CategoryLabor,
		Method:      catalog.MethodPerQuantity,
		DefaultRate: decimal.NewFromInt(2),
		Stages:      []catalog.Stage{catalog.StageDrying},
	}
	power := catalog.CostElement{
		ID:          id.New(),
		Name:        "Crusher power",
		Category:    catalog.CategoryUtilities,
		Method:      catalog.MethodPerHour,
		DefaultRate: decimal.NewFromInt(100),
		Stages:      []catalog.Stage{catalog.StageCrushing},
	}
	cat := catalog.New(staticSource{elements: []catalog.CostElement{labour, power}})

	records := &memoryOverrides{}
	auditor := override.NewAuditor(nil)
	batches := batchcost.NewService(nil, cat, stagecost.NewCalculator(auditor, decimal.Zero), nil, nil, nil, tx.Passthrough)
	overrides := override.NewService(auditor, records, cat, ignoreRates{}, tx.Passthrough)

	router := NewRouter(RouterConfig{
		Logger:    logger.NewNop(),
		Catalog:   cat,
		Batches:   batches,
		Overrides: overrides,
	})
	return router, labour, records
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCatalogListFiltersByStage(t *testing.T) {
	router, labour, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodGet, "/api/v1/catalog/elements?stage=drying", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	elements := body["elements"].([]any)
	require.Len(t, elements, 1)
	assert.Equal(t, labour.ID.String(), elements[0].(map[string]any)["id"])
	assert.Equal(t, false, body["stale"])

	rec, _ = do(t, router, http.MethodGet, "/api/v1/catalog/elements?stage=roasting", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStagePreview(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodPost, "/api/v1/stages/preview", map[string]any{
		"stage":   "drying",
		"context": map[string]any{"quantity": "1000"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	total, err := decimal.NewFromString(body["total"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(2000)))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStagePreviewValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodPost, "/api/v1/stages/preview", map[string]any{"stage": "roasting"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	rec, body = do(t, router, http.MethodPost, "/api/v1/stages/preview", map[string]any{
		"stage":   "drying",
		"context": map[string]any{"quantity": "-1"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestOverrideSubmitStampsOperator(t *testing.T) {
	router, labour, records := newTestRouter(t)
	headers := map[string]string{"X-Operator-ID": "17", "X-Operator-Name": "shift.lead"}

	rec, body := do(t, router, http.MethodPost, "/api/v1/overrides/evaluate", map[string]any{
		"elementId":    labour.ID,
		"proposedRate": "3",
	}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["requiresReason"])

	rec, body = do(t, router, http.MethodPost, "/api/v1/overrides", map[string]any{
		"elementId":    labour.ID,
		"proposedRate": "3",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	rec, _ = do(t, router, http.MethodPost, "/api/v1/overrides", map[string]any{
		"elementId":    labour.ID,
		"proposedRate": "3",
		"reason":       "night shift premium",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, records.records, 1)
	assert.Equal(t, "shift.lead", records.records[0].Actor)

	rec, body = do(t, router, http.MethodGet, "/api/v1/overrides/"+labour.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestInvalidPathID(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec, body := do(t, router, http.MethodGet, "/api/v1/overrides/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}
