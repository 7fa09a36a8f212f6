package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/redisclient"
	"furbox-service/internal/service"
	"furbox-service/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}
func (nopPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}
func (nopPublisher) PublishPlanActivated(context.Context, *models.PlanActivatedEvent) error {
	return nil
}
func (nopPublisher) PublishPlanRenewed(context.Context, *models.PlanRenewedEvent) error {
	return nil
}
func (nopPublisher) PublishRenewalFailed(context.Context, *models.RenewalFailedEvent) error {
	return nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	t      *testing.T
	db     *memstore.Store
	router *gin.Engine
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	ist := time.FixedZone("IST", 5*3600+30*60)
	opts := service.Options{
		Rules:          pricing.DefaultRules(),
		Location:       ist,
		IdempotencyTTL: time.Hour,
		Now:            func() time.Time { return time.Date(2026, time.March, 10, 10, 0, 0, 0, ist) },
	}

	db := memstore.New()
	events := nopPublisher{}
	h := NewHandler(Services{
		Drafts:   service.NewDraftService(db, opts),
		Checkout: service.NewCheckoutService(db, rc, events, opts),
		Plans:    service.NewPlanService(db, opts),
		Orders:   service.NewOrderService(db, events, opts),
		Renewals: service.NewRenewalService(db, rc, events, opts),
		Cart:     service.NewCartService(db),
	}, checks)

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{t: t, db: db, router: router}
}

func (s *testServer) do(method, path string, userID int64, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (s *testServer) variant(name string, price int64, stock int) (int64, int64) {
	productID := s.db.AddProduct(name, true)
	return productID, s.db.AddVariant(productID, "Regular", name+"-REG", price, stock)
}

func (s *testServer) address(userID int64) int64 {
	return s.db.AddAddress(models.Address{
		UserID:     userID,
		Name:       "Asha Rao",
		Line1:      "12 Residency Road",
		City:       "Bengaluru",
		PostalCode: "560025",
		Country:    "IN",
		IsDefault:  true,
	})
}

func idOf(t *testing.T, body map[string]interface{}, path ...string) int64 {
	t.Helper()
	cur := body
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]interface{})
		require.True(t, ok, "missing %s in %v", key, cur)
		cur = next
	}
	id, ok := cur[path[len(path)-1]].(float64)
	require.True(t, ok, "missing %s in %v", path[len(path)-1], cur)
	return int64(id)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, _ = s.do(http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"redis":    pingerFunc(func(context.Context) error { return nil }),
		"database": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w, body := s.do(http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connection refused", details["database"])
	assert.NotContains(t, details, "redis")
}

func TestRequiresUserHeader(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(http.MethodGet, "/api/v1/drafts", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, body["error"], userIDHeader)

	w, _ = s.do(http.MethodGet, "/api/v1/drafts", 0, nil, userIDHeader, "abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDraftFlow(t *testing.T) {
	s := newTestServer(t, nil)
	productID, variantID := s.variant("Kibble", 20000, 10)

	w, body := s.do(http.MethodPost, "/api/v1/drafts", 7, gin.H{"kind": "bundle", "budget": 30000})
	require.Equal(t, http.StatusCreated, w.Code, body)
	draftID := idOf(t, body, "draft", "id")

	path := "/api/v1/drafts/" + strconv.FormatInt(draftID, 10)

	w, body = s.do(http.MethodPost, path+"/items", 7, gin.H{"product_id": productID, "variant_id": variantID, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code, body)
	wallet := body["wallet"].(map[string]interface{})
	assert.Equal(t, float64(20000), wallet["spent"])
	assert.Equal(t, float64(10000), wallet["remaining"])

	w, body = s.do(http.MethodPost, path+"/items", 7, gin.H{"product_id": productID, "variant_id": variantID, "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "budget")

	w, body = s.do(http.MethodGet, path+"/wallet", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20000), body["spent"])

	w, _ = s.do(http.MethodGet, path, 8, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(http.MethodPut, path+"/budget", 7, gin.H{"budget": 10000})
	assert.Equal(t, http.StatusBadRequest, w.Code, body)

	w, body = s.do(http.MethodPatch, path+"/items/"+strconv.FormatInt(variantID, 10), 7, gin.H{"quantity": 0})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Empty(t, body["draft"].(map[string]interface{})["items"])

	w, body = s.do(http.MethodDelete, path+"/items/"+strconv.FormatInt(productID, 10), 7, nil)
	assert.Equal(t, http.StatusOK, w.Code, body)

	w, body = s.do(http.MethodPut, path+"/categories", 7, gin.H{"categories": []string{"food", " food", "toys"}})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, []interface{}{"food", "toys"}, body["draft"].(map[string]interface{})["selected_categories"])
}

func TestCreateDraftRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(http.MethodPost, "/api/v1/drafts", 7, gin.H{"kind": "weekly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestInvalidPathID(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(http.MethodGet, "/api/v1/orders/abc", 7, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderFlow(t *testing.T) {
	s := newTestServer(t, nil)
	_, variantID := s.variant("Kibble", 20000, 5)
	addressID := s.address(7)

	checkout := gin.H{
		"items":          []gin.H{{"variant_id": variantID, "quantity": 2}},
		"address_id":     addressID,
		"payment_method": "card",
	}
	w, body := s.do(http.MethodPost, "/api/v1/orders", 7, checkout, "Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, w.Code, body)
	assert.Equal(t, "ORD2603100001", body["order_number"])
	orderID := idOf(t, body, "id")

	w, body = s.do(http.MethodPost, "/api/v1/orders", 7, checkout, "Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, w.Code, body)
	assert.Equal(t, float64(orderID), body["id"])
	assert.Equal(t, 3, s.db.Stock(variantID))

	path := "/api/v1/orders/" + strconv.FormatInt(orderID, 10)

	w, _ = s.do(http.MethodGet, path, 8, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(http.MethodGet, "/api/v1/orders", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)

	w, body = s.do(http.MethodPost, path+"/cancel", 7, nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, models.OrderStatusCancelled, body["status"])
	assert.Equal(t, 5, s.db.Stock(variantID))

	w, _ = s.do(http.MethodPost, path+"/cancel", 7, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutShortStockIsBadRequest(t *testing.T) {
	s := newTestServer(t, nil)
	_, variantID := s.variant("Kibble", 20000, 1)

	w, body := s.do(http.MethodPost, "/api/v1/orders", 7, gin.H{
		"items":          []gin.H{{"variant_id": variantID, "quantity": 2}},
		"address_id":     s.address(7),
		"payment_method": "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "Insufficient stock")
}

func TestAdvanceStatusOneStepAtATime(t *testing.T) {
	s := newTestServer(t, nil)
	_, variantID := s.variant("Kibble", 20000, 5)

	w, body := s.do(http.MethodPost, "/internal/orders", 0, gin.H{
		"user_id":          7,
		"items":            []gin.H{{"variant_id": variantID, "quantity": 1}},
		"shipping_address": gin.H{"name": "Asha Rao", "city": "Bengaluru"},
		"payment_method":   "cod",
	})
	require.Equal(t, http.StatusCreated, w.Code, body)
	path := "/internal/orders/" + strconv.FormatInt(idOf(t, body, "id"), 10) + "/status"

	w, _ = s.do(http.MethodPost, path, 0, gin.H{"status": models.OrderStatusShipped})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(http.MethodPost, path, 0, gin.H{"status": models.OrderStatusConfirmed})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, models.OrderStatusConfirmed, body["status"])
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	productID, variantID := s.variant("Kibble", 20000, 10)
	addressID := s.address(7)

	_, body := s.do(http.MethodPost, "/api/v1/drafts", 7, gin.H{"kind": "monthly_plan", "budget": 50000})
	planPath := "/api/v1/plans/" + strconv.FormatInt(idOf(t, body, "draft", "id"), 10)
	draftPath := "/api/v1/drafts/" + strconv.FormatInt(idOf(t, body, "draft", "id"), 10)

	w, body := s.do(http.MethodPost, draftPath+"/items", 7, gin.H{"product_id": productID, "variant_id": variantID, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code, body)

	w, body = s.do(http.MethodPost, planPath+"/activate", 7, gin.H{"address_id": addressID, "payment_method": "upi", "billing_day": 29})
	assert.Equal(t, http.StatusBadRequest, w.Code, body)

	w, body = s.do(http.MethodPost, planPath+"/activate", 7, gin.H{"address_id": addressID, "payment_method": "upi", "billing_day": 15})
	require.Equal(t, http.StatusCreated, w.Code, body)
	order := body["order"].(map[string]interface{})
	assert.Regexp(t, `^SUB260310\d{4}$`, order["order_number"])
	assert.Equal(t, models.DraftStatusActive, body["plan"].(map[string]interface{})["status"])

	w, body = s.do(http.MethodPost, planPath+"/pause", 7, nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, models.DraftStatusPaused, body["status"])

	w, body = s.do(http.MethodPost, planPath+"/resume", 7, nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, models.DraftStatusActive, body["status"])

	w, body = s.do(http.MethodGet, planPath+"/cycles", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["cycles"], 1)

	w, body = s.do(http.MethodPost, planPath+"/cancel", 7, nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, models.DraftStatusCancelled, body["status"])

	w, _ = s.do(http.MethodPost, planPath+"/pause", 7, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunRenewalsWithNothingDue(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(http.MethodPost, "/internal/renewals/run", 0, nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Empty(t, body["results"])
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	_, variantID := s.variant("Kibble", 20000, 5)

	w, body := s.do(http.MethodPost, "/api/v1/cart/items", 7, gin.H{"variant_id": variantID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Len(t, body["items"], 1)

	w, body = s.do(http.MethodGet, "/api/v1/cart", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["items"], 1)

	w, body = s.do(http.MethodDelete, "/api/v1/cart/items/"+strconv.FormatInt(variantID, 10), 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["items"])
}

func TestQuantityAboveCapRejectedAtBinding(t *testing.T) {
	s := newTestServer(t, nil)
	productID, variantID := s.variant("Kibble", 1, 5000)

	_, body := s.do(http.MethodPost, "/api/v1/drafts", 7, gin.H{"kind": "bundle", "budget": 100000})
	path := "/api/v1/drafts/" + strconv.FormatInt(idOf(t, body, "draft", "id"), 10)

	w, body := s.do(http.MethodPost, path+"/items", 7, gin.H{"product_id": productID, "variant_id": variantID, "quantity": 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", body["error"])

	w, _ = s.do(http.MethodPost, "/api/v1/orders", 7, gin.H{
		"items":          []gin.H{{"variant_id": variantID, "quantity": 1000}},
		"address_id":     s.address(7),
		"payment_method": "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/cart/items", 7, gin.H{"variant_id": variantID, "quantity": 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 5000, s.db.Stock(variantID))
}
