package handler_test

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/pharmacy-inventory/internal/inventory/handler"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/medflow/pharmacy-inventory/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suite *testutil.IntegrationSuite

const staffID = "6a1f3b2c-7d4e-4f5a-8b9c-0d1e2f3a4b5c"

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

func newRouter(h *handler.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.StaffIdentity)
	h.Routes(r)
	return r
}

// offlineRouter has no services behind it; only requests rejected before
// reaching a service can be sent through it
func offlineRouter() http.Handler {
	log := logger.Nop()
	return newRouter(&handler.Handlers{
		Batches:     handler.NewBatchHandler(nil, log),
		Stock:       handler.NewStockHandler(nil, nil, log),
		Adjustments: handler.NewAdjustmentHandler(nil, log),
		Alerts:      handler.NewAlertHandler(nil, log),
	})
}

type testAPI struct {
	router   http.Handler
	fixtures *testutil.FixtureFactory
	repos    *repository.Repositories
}

func newTestAPI(t *testing.T, name string) *testAPI {
	t.Helper()
	testutil.SkipIfShort(t)

	ts := suite.SetupSchema(t, context.Background(), name)
	log := logger.Nop()
	repos := repository.NewRepositories(ts.DB)
	opts := service.DefaultOptions()

	engine := service.NewFEFOEngine(ts.DB, repos, nil, nil, opts, log)
	return &testAPI{
		router: newRouter(&handler.Handlers{
			Batches:     handler.NewBatchHandler(service.NewBatchService(ts.DB, repos, repos.Medicines, nil, nil, opts, log), log),
			Stock:       handler.NewStockHandler(engine, service.NewAnalyticsService(repos, opts, log), log),
			Adjustments: handler.NewAdjustmentHandler(service.NewAdjustmentService(ts.DB, repos, nil, nil, opts, log), log),
			Alerts:      handler.NewAlertHandler(service.NewAlertEvaluator(repos, nil, nil, opts, log), log),
		}),
		fixtures: testutil.NewFixtureFactory(ts.DB),
		repos:    repos,
	}
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	req := testutil.WithStaffHeader(testutil.NewHTTPRequest(method, path, body), staffID)
	return testutil.ExecuteRequest(a.router, req)
}

// decode parses the response envelope, unmarshalling data into the given target
func decode(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) httputil.Response {
	t.Helper()
	resp := httputil.Response{Data: data}
	testutil.ParseJSONBody(t, rr, &resp)
	return resp
}

func TestRoutes_RejectMalformedIDs(t *testing.T) {
	router := offlineRouter()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"list batches", http.MethodGet, "/api/v1/inventory/medicines/not-a-uuid/batches", nil},
		{"deduct", http.MethodPost, "/api/v1/inventory/medicines/42/deduct", map[string]int{"quantity": 1}},
		{"availability", http.MethodGet, "/api/v1/inventory/medicines/42/availability?quantity=1", nil},
		{"get batch", http.MethodGet, "/api/v1/inventory/batches/xyz", nil},
		{"adjust batch", http.MethodPost, "/api/v1/inventory/batches/xyz/adjustments", nil},
		{"approve", http.MethodPost, "/api/v1/inventory/adjustments/xyz/approve", nil},
		{"acknowledge", http.MethodPut, "/api/v1/inventory/alerts/xyz/acknowledge", nil},
		{"resolve", http.MethodPut, "/api/v1/inventory/alerts/xyz/resolve", nil},
		{"turnover", http.MethodGet, "/api/v1/inventory/medicines/42/turnover", nil},
		{"monthly consumption", http.MethodGet, "/api/v1/inventory/medicines/42/consumption/monthly", nil},
		{"medicine analytics", http.MethodGet, "/api/v1/inventory/medicines/42/analytics", nil},
		{"batch by number scope", http.MethodGet, "/api/v1/inventory/batches/by-number/LOT-1?medicine_id=42", nil},
		{"high demand limit", http.MethodGet, "/api/v1/inventory/analytics/high-demand?limit=ten", nil},
		{"stockout window", http.MethodGet, "/api/v1/inventory/analytics/stockouts?days=x", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.WithStaffHeader(testutil.NewHTTPRequest(tt.method, tt.path, tt.body), staffID)
			rr := testutil.ExecuteRequest(router, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code, "body: %s", rr.Body.String())
		})
	}
}

func TestRoutes_RequireStaffForAttributedActions(t *testing.T) {
	router := offlineRouter()
	id := "0c9d8e7f-6a5b-4c3d-8e1f-2a3b4c5d6e7f"

	for _, path := range []string{
		"/api/v1/inventory/adjustments/" + id + "/approve",
		"/api/v1/inventory/batches/" + id + "/adjustments",
	} {
		rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)

		req := testutil.WithStaffHeader(testutil.NewHTTPRequest(http.MethodPost, path, nil), "nurse-joy")
		rr = testutil.ExecuteRequest(router, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestAvailability_RequiresPositiveQuantity(t *testing.T) {
	router := offlineRouter()
	id := "0c9d8e7f-6a5b-4c3d-8e1f-2a3b4c5d6e7f"

	for _, q := range []string{"", "?quantity=0", "?quantity=abc", "?quantity=-3"} {
		rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodGet, "/api/v1/inventory/medicines/"+id+"/availability"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestDeduct_ValidatesBody(t *testing.T) {
	router := offlineRouter()
	path := "/api/v1/inventory/medicines/0c9d8e7f-6a5b-4c3d-8e1f-2a3b4c5d6e7f/deduct"

	for name, body := range map[string]interface{}{
		"zero quantity":  map[string]int{"quantity": 0},
		"unknown field":  map[string]interface{}{"quantity": 1, "batch_id": "x"},
		"missing body":   nil,
		"negative count": map[string]int{"quantity": -1},
	} {
		t.Run(name, func(t *testing.T) {
			rr := testutil.ExecuteRequest(router, testutil.NewHTTPRequest(http.MethodPost, path, body))
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestDeduct_EndToEnd(t *testing.T) {
	api := newTestAPI(t, "handler-deduct")
	med := api.fixtures.Medicine(t)
	early := api.fixtures.Batch(t, med.ID, time.Now().AddDate(0, 0, 20), 4)
	api.fixtures.Batch(t, med.ID, time.Now().AddDate(0, 0, 80), 10)

	var body handler.DeductResponse
	res := api.do(http.MethodPost, "/api/v1/inventory/medicines/"+med.ID+"/deduct", map[string]interface{}{
		"quantity":  6,
		"issued_to": "Ward 7",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	resp := decode(t, res, &body)
	assert.True(t, resp.Success)
	require.Len(t, body.Batches, 2)
	assert.Equal(t, early.ID, body.Batches[0].BatchID)
	assert.Equal(t, 4, body.Batches[0].QuantityDeducted)

	res = api.do(http.MethodPost, "/api/v1/inventory/medicines/"+med.ID+"/deduct", map[string]int{"quantity": 100})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	resp = decode(t, res, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)

	var avail map[string]interface{}
	res = api.do(http.MethodGet, "/api/v1/inventory/medicines/"+med.ID+"/availability?quantity=8", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &avail)
	assert.Equal(t, true, avail["available"])
}

func TestBatchLifecycle_EndToEnd(t *testing.T) {
	api := newTestAPI(t, "handler-batch")
	med := api.fixtures.Medicine(t)

	var batch repository.MedicineBatch
	res := api.do(http.MethodPost, "/api/v1/inventory/medicines/"+med.ID+"/batches", map[string]interface{}{
		"batch_number":      "LOT-777",
		"manufacture_date":  time.Now().AddDate(-1, 0, 0).Format(time.RFC3339),
		"expiry_date":       time.Now().AddDate(1, 0, 0).Format(time.RFC3339),
		"cost_price":        "1.20",
		"quantity_received": 25,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	decode(t, res, &batch)
	assert.Equal(t, "LOT-777", batch.BatchNumber)

	res = api.do(http.MethodPost, "/api/v1/inventory/batches/"+batch.ID+"/adjustments", map[string]interface{}{
		"type":        "damaged",
		"medicine_id": med.ID,
		"quantity":    5,
		"reason":      "crushed carton",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var details struct {
		Inventory  repository.InventoryRecord `json:"inventory"`
		TotalUnits int                        `json:"total_units"`
	}
	res = api.do(http.MethodGet, "/api/v1/inventory/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &details)
	assert.Equal(t, 20, details.Inventory.QuantityAvailable)
	assert.Equal(t, 5, details.Inventory.QuantityDamaged)
	assert.Equal(t, 25, details.TotalUnits)

	var adjustments []repository.StockAdjustment
	res = api.do(http.MethodGet, "/api/v1/inventory/adjustments?batch_id="+batch.ID, nil)
	require.Equal(t, http.StatusOK, res.Code)
	resp := decode(t, res, &adjustments)
	require.Len(t, adjustments, 1)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 1, resp.Meta.Page)

	res = api.do(http.MethodPost, "/api/v1/inventory/adjustments/"+adjustments[0].ID+"/approve", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = api.do(http.MethodPost, "/api/v1/inventory/batches/"+batch.ID+"/deactivate", map[string]string{"reason": "recall"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = api.do(http.MethodPost, "/api/v1/inventory/medicines/"+med.ID+"/deduct", map[string]int{"quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestAlerts_EndToEnd(t *testing.T) {
	api := newTestAPI(t, "handler-alerts")
	med := api.fixtures.Medicine(t, testutil.WithThreshold(10))
	api.fixtures.Batch(t, med.ID, time.Now().AddDate(1, 0, 0), 3)

	var created []repository.StockAlert
	res := api.do(http.MethodPost, "/api/v1/inventory/alerts/check", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	decode(t, res, &created)
	require.Len(t, created, 1)
	assert.Equal(t, repository.AlertCriticalStock, created[0].AlertType)

	res = api.do(http.MethodPut, "/api/v1/inventory/alerts/"+created[0].ID+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var active []repository.StockAlert
	res = api.do(http.MethodGet, "/api/v1/inventory/alerts?acknowledged=true", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &active)
	assert.Len(t, active, 1)

	res = api.do(http.MethodPut, "/api/v1/inventory/alerts/"+created[0].ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, res.Code)

	active = nil
	res = api.do(http.MethodGet, "/api/v1/inventory/alerts", nil)
	require.Equal(t, http.StatusOK, res.Code)
	decode(t, res, &active)
	assert.Empty(t, active)
}

func TestAnalytics_EndToEnd(t *testing.T) {
	api := newTestAPI(t, "handler-analytics")
	med := api.fixtures.Medicine(t)
	b := api.fixtures.Batch(t, med.ID, time.Now().AddDate(0, 3, 0), 6, testutil.WithBatchNumber("LOT-900"))

	res := api.do(http.MethodPost, "/api/v1/inventory/medicines/"+med.ID+"/deduct", map[string]int{"quantity": 6})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var top []repository.MedicineSales
	res = api.do(http.MethodGet, "/api/v1/inventory/analytics/high-demand?limit=5", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	decode(t, res, &top)
	require.Len(t, top, 1)
	assert.Equal(t, 6, top[0].TotalSold)

	var outs []repository.StockoutSummary
	res = api.do(http.MethodGet, "/api/v1/inventory/analytics/stockouts", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	decode(t, res, &outs)
	require.Len(t, outs, 1)
	assert.Equal(t, med.ID, outs[0].MedicineID)

	res = api.do(http.MethodGet, "/api/v1/inventory/analytics/high-demand?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	var found repository.MedicineBatch
	res = api.do(http.MethodGet, "/api/v1/inventory/batches/by-number/LOT-900?medicine_id="+med.ID, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	decode(t, res, &found)
	assert.Equal(t, b.ID, found.ID)

	res = api.do(http.MethodGet, "/api/v1/inventory/batches/by-number/LOT-404", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}
