package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/restockd/restockd/internal/cache"
	conf "github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/extapi"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/restockd/restockd/internal/reorder"
	"github.com/restockd/restockd/internal/syncer"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	dbh    *db.Handle
	cache  cache.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// empty catalog: sync runs complete immediately
		w.Write([]byte("[]"))
	}))
	t.Cleanup(provider.Close)

	dbh, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, dbh.Migrate())

	limiter := ratelimit.New(zerolog.Nop(), 1000, 64)
	require.NoError(t, limiter.Start(context.Background()))
	t.Cleanup(limiter.Stop)

	apiCfg := conf.APIConfig{BaseURL: provider.URL, PageSize: 50}
	client := extapi.NewClient(zerolog.Nop(), apiCfg, limiter)
	tracker := syncer.NewTracker(zerolog.Nop(), dbh.DB, 30*time.Minute)
	orch := syncer.NewOrchestrator(zerolog.Nop(), dbh.DB, client, tracker, nil,
		syncer.OrchestratorConfig{PageSize: 50, MaxPages: 5, MaxRetries: 1, RetryBase: time.Millisecond, RetryMax: time.Millisecond})
	aggregator := reorder.NewAggregator(zerolog.Nop(), dbh.DB, reorder.DefaultCostParams())

	cfg := conf.Default()
	cfg.AutoSync = false
	manager := syncer.NewManager(zerolog.Nop(), cfg, orch, aggregator, nil)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	c := cache.NewMemory()
	server := NewServer(zerolog.Nop(), ":0", Deps{
		Manager:    manager,
		Tracker:    tracker,
		Limiter:    limiter,
		Aggregator: aggregator,
		Client:     client,
		Cache:      c,
		CacheTTL:   time.Minute,
	})

	return &testEnv{server: server, dbh: dbh, cache: c}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerSync_EmptyBodyDefaultsToSmart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/sync/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp TriggerSyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	// the empty-catalog run finishes quickly; wait for the slot to free
	require.Eventually(t, func() bool {
		var run db.SyncRun
		if err := env.dbh.DB.First(&run, "id = ?", resp.RunID).Error; err != nil {
			return false
		}
		return run.Status != db.RunStatusRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerSync_UnknownStrategy(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/sync/trigger", TriggerSyncRequest{Strategy: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync_Conflict(t *testing.T) {
	env := newTestEnv(t)

	// a fresh running run holds the single-flight slot
	require.NoError(t, env.dbh.DB.Create(&db.SyncRun{
		ID: "busy", Type: db.RunTypeManual, Status: db.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}).Error)

	rec := env.do(http.MethodPost, "/api/v1/sync/trigger", TriggerSyncRequest{Strategy: "full"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AlreadyRunning", resp.Code)
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info syncer.StatusInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.HasRunningSync)
}

func TestCleanupStuck(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.dbh.DB.Create(&db.SyncRun{
		ID: "stale", Type: db.RunTypeFull, Status: db.RunStatusRunning,
		StartedAt: time.Now().UTC().Add(-2 * time.Hour),
	}).Error)

	rec := env.do(http.MethodPost, "/api/v1/sync/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CleanupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Cleaned)
}

func TestLimiterStats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/sync/limiter", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats ratelimit.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 64, stats.QueueMaxDepth)
}

func TestReorderSuggestions(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.dbh.DB.Create(&db.InventoryItem{
		SKU: "LOW-1", Name: "Low item", CurrentStock: 2, ReorderPoint: 10,
		ReorderQuantity: 12, Active: true, Velocity30d: 1, Velocity90d: 1,
		UnitCost: decimal.NewFromInt(4),
	}).Error)

	rec := env.do(http.MethodGet, "/api/v1/reorder/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var suggestions []reorder.Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "LOW-1", suggestions[0].Items[0].SKU)

	// the response is now cached; a new low item is invisible until expiry
	require.NoError(t, env.dbh.DB.Create(&db.InventoryItem{
		SKU: "LOW-2", Name: "Another", CurrentStock: 1, ReorderPoint: 10,
		ReorderQuantity: 12, Active: true,
	}).Error)

	rec = env.do(http.MethodGet, "/api/v1/reorder/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	assert.Len(t, suggestions, 1, "served from cache")
}

func TestCreatePurchaseOrder(t *testing.T) {
	env := newTestEnv(t)

	req := CreatePurchaseOrderRequest{
		Suggestion: reorder.Suggestion{
			VendorName: "Acme",
			Items: []reorder.LineItem{
				{SKU: "A-1", ProductName: "Widget", SuggestedQuantity: 10, UnitCost: decimal.NewFromInt(3)},
			},
		},
		CreatedBy: "tester",
	}

	rec := env.do(http.MethodPost, "/api/v1/purchase-orders", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		PurchaseOrder db.PurchaseOrder `json:"purchase_order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^PO-\d{4}-\d{6}$`, resp.PurchaseOrder.PONumber)
	assert.Equal(t, "draft", resp.PurchaseOrder.Status)

	var count int64
	require.NoError(t, env.dbh.DB.Model(&db.PurchaseOrder{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// accepting a suggestion invalidates the cached list
	_, err := env.cache.Get(context.Background(), suggestionsCacheKey)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestCreatePurchaseOrder_NoItems(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/purchase-orders", CreatePurchaseOrderRequest{
		Suggestion: reorder.Suggestion{VendorName: "Acme"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.server.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	// minted when absent
	rec = env.do(http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
