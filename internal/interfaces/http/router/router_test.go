package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appledger "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/infrastructure/cache"
	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/erp/ledger/internal/infrastructure/persistence"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/erp/ledger/internal/interfaces/http/handler"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.NotNil(t, r)
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	var hits int
	r := NewRouter(engine, WithAPIVersion("v2"), WithAPIMiddleware(func(c *gin.Context) {
		hits++
		c.Next()
	}))
	r.Register(pingRegistrar{}).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, 1, hits)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewEngine_Chain(t *testing.T) {
	engine, err := NewEngine(EngineConfig{MaxBodySize: 16})
	require.NoError(t, err)
	engine.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(make([]byte, 64)))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNewEngine_HTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	engine, err := NewEngine(EngineConfig{MaxBodySize: 1 << 20, Meter: provider.Meter("http.server")})
	require.NoError(t, err)
	engine.GET(HealthPath, func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["http_server_request_total"])
	assert.True(t, names["http_server_request_duration_seconds"])
}

// ledgerAPI wires the real service over an in-memory sqlite database
type ledgerAPI struct {
	engine   *gin.Engine
	db       *persistence.Database
	tenantID uuid.UUID
}

func newLedgerAPI(t *testing.T) *ledgerAPI {
	t.Helper()
	middleware.SetupValidator()

	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.AutoMigrate())

	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	svc := appledger.NewService(
		persistence.NewGormInvoiceRepository(db.DB),
		persistence.NewGormPaymentTransactionRepository(db.DB),
		persistence.NewGormTransactionScope(db.DB),
		cache.NewInMemoryInvoiceLocker(time.Second),
		nil,
	)
	svc.SetIdempotencyStore(store, time.Hour)

	engine, err := NewEngine(EngineConfig{MaxBodySize: 1 << 20})
	require.NoError(t, err)
	engine.GET(HealthPath, handler.NewHealthHandler(db).Health)
	NewRouter(engine, WithAPIMiddleware(middleware.Auth(middleware.AuthConfig{AllowHeaderAuth: true}))).
		Register(handler.NewPaymentHandler(svc)).
		Setup()

	return &ledgerAPI{engine: engine, db: db, tenantID: uuid.New()}
}

func (a *ledgerAPI) seedInvoice(t *testing.T, total string) uuid.UUID {
	t.Helper()
	inv, err := ledger.NewInvoice(a.tenantID, "INV-"+uuid.NewString()[:8], "usd", decimal.RequireFromString(total))
	require.NoError(t, err)
	inv.Status = ledger.InvoiceStatusSent
	require.NoError(t, persistence.NewGormInvoiceRepository(a.db.DB).Save(t.Context(), inv))
	return inv.ID
}

func (a *ledgerAPI) call(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantIDHeader, a.tenantID.String())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func TestLedgerAPI_OverpaymentLifecycle(t *testing.T) {
	api := newLedgerAPI(t)
	invoiceID := api.seedInvoice(t, "1000")
	base := "/api/v1/invoices/" + invoiceID.String() + "/payments"

	status, resp := api.call(t, http.MethodPost, base, `{"type":"payment","amount":"1200","method":"credit_card"}`,
		map[string]string{handler.IdempotencyKeyHeader: "pay-1"})
	require.Equal(t, http.StatusCreated, status, resp)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "overpaid", data["invoice"].(map[string]any)["status"])
	assert.Equal(t, "0", data["current_balance"])
	assert.Equal(t, "200", data["available_credits"])
	credit := data["credit_transaction"].(map[string]any)
	assert.Equal(t, "credit", credit["type"])
	assert.EqualValues(t, 2, credit["payment_number"])
	paymentID := data["transaction"].(map[string]any)["id"].(string)

	// Retry with the same key is rejected
	status, resp = api.call(t, http.MethodPost, base, `{"type":"payment","amount":"1200","method":"credit_card"}`,
		map[string]string{handler.IdempotencyKeyHeader: "pay-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, dto.ErrCodeDuplicateRequest, resp["error"].(map[string]any)["code"])

	status, resp = api.call(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, status)
	data = resp["data"].(map[string]any)
	assert.Len(t, data["transactions"], 2)
	assert.Equal(t, "USD", data["invoice"].(map[string]any)["currency"])

	status, resp = api.call(t, http.MethodPut, base+"/"+paymentID, `{"amount":"400"}`, nil)
	require.Equal(t, http.StatusOK, status, resp)
	data = resp["data"].(map[string]any)
	assert.Equal(t, "600", data["current_balance"])
	assert.Equal(t, "partially_paid", data["invoice"].(map[string]any)["status"])

	status, resp = api.call(t, http.MethodDelete, base+"/"+paymentID, "", nil)
	require.Equal(t, http.StatusOK, status, resp)
	data = resp["data"].(map[string]any)
	assert.Equal(t, "sent", data["invoice"].(map[string]any)["status"])

	status, resp = api.call(t, http.MethodDelete, base+"/"+paymentID, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, dto.ErrCodePaymentNotFound, resp["error"].(map[string]any)["code"])
}

func TestLedgerAPI_TenantIsolation(t *testing.T) {
	api := newLedgerAPI(t)
	invoiceID := api.seedInvoice(t, "500")

	status, resp := api.call(t, http.MethodGet, "/api/v1/invoices/"+invoiceID.String()+"/payments", "",
		map[string]string{middleware.TenantIDHeader: uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, dto.ErrCodeInvoiceNotFound, resp["error"].(map[string]any)["code"])
}

func TestLedgerAPI_Health(t *testing.T) {
	api := newLedgerAPI(t)

	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
