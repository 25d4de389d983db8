package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmeshcher/shopbot/internal/broadcast"
	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/mmeshcher/shopbot/internal/service"
)

const (
	buyerID = int64(100)
	adminID = int64(1)
)

// stubService реализует только методы, нужные тестам. Вызов остальных приводит к панике.
type stubService struct {
	Service

	accessErr    error
	pingErr      error
	pingCacheErr error

	user *model.User

	purchase    *model.Purchase
	purchaseErr error

	categories []model.Category

	addedItems    int
	addedStock    int
	addItemsText  string
	addItemsErr   error
	deleteCatErr  error
	updatePatch   model.ProductPatch
	adjustBalance decimal.Decimal
	adjustErr     error
	registered    string

	paymentStatus model.PaymentStatus
	paymentErr    error
}

func (s *stubService) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubService) PingCache(ctx context.Context) error { return s.pingCacheErr }

func (s *stubService) CheckAccess(ctx context.Context, userID int64) error { return s.accessErr }

func (s *stubService) RegisterUser(ctx context.Context, id int64, firstName string, username *string) (*model.User, error) {
	s.registered = firstName
	return &model.User{ID: id, FirstName: firstName, Username: username, Balance: decimal.Zero}, nil
}

func (s *stubService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if s.user == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubService) Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error) {
	return s.purchase, s.purchaseErr
}

func (s *stubService) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	return s.categories, nil
}

func (s *stubService) DeleteCategory(ctx context.Context, id int64) error { return s.deleteCatErr }

func (s *stubService) UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error {
	s.updatePatch = patch
	return nil
}

func (s *stubService) AddProductItems(ctx context.Context, productID int64, text string) (int, int, error) {
	s.addItemsText = text
	return s.addedItems, s.addedStock, s.addItemsErr
}

func (s *stubService) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	return s.adjustBalance, s.adjustErr
}

func (s *stubService) SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) (*model.Payment, error) {
	s.paymentStatus = status
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	return &model.Payment{ID: id, UserID: buyerID, Amount: decimal.NewFromInt(30), Method: "card", Status: status, CreatedAt: time.Now().UTC()}, nil
}

type stubBroadcaster struct {
	job broadcast.Job
}

func (b *stubBroadcaster) Start(text string) (broadcast.Job, error) {
	return b.job, nil
}

func (b *stubBroadcaster) Get(id uuid.UUID) (broadcast.Job, error) {
	if id != b.job.ID {
		return broadcast.Job{}, broadcast.ErrJobNotFound
	}
	return b.job, nil
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
}

func newTestServer(t *testing.T, svc Service, b Broadcaster) *testServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	auth := middleware.NewAuthMiddleware("test-secret", logger)
	h := NewHandler(svc, b, logger, auth, []int64{adminID})

	return &testServer{router: h.SetupRouter(), auth: auth}
}

func (s *testServer) do(t *testing.T, userID int64, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		token, err := s.auth.IssueToken(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" && !strings.HasSuffix(path, "/items") {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)
	rec := srv.do(t, 0, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	srv = newTestServer(t, &stubService{pingErr: errors.New("db down")}, nil)
	rec = srv.do(t, 0, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv = newTestServer(t, &stubService{pingCacheErr: errors.New("redis down")}, nil)
	rec = srv.do(t, 0, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["cache"])
}

func TestAPI_RequiresToken(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, 0, http.MethodGet, "/api/catalog/categories", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStart_RegistersUser(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, buyerID, http.MethodPost, "/api/users/start", `{"first_name":"Ann","username":"ann"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.EqualValues(t, buyerID, body["id"])
	assert.Equal(t, "0.00", body["balance"])
	assert.Equal(t, "Ann", svc.registered)
}

func TestStart_RejectsBadBodies(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: `{"first_name":"Ann","role":"admin"}`},
		{name: "missing first name", body: `{"username":"ann"}`},
		{name: "not json", body: `first_name=Ann`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, buyerID, http.MethodPost, "/api/users/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestStart_NotSubscribed(t *testing.T) {
	srv := newTestServer(t, &stubService{accessErr: service.ErrNotSubscribed}, nil)

	rec := srv.do(t, buyerID, http.MethodPost, "/api/users/start", `{"first_name":"Ann"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBlockedUserIsRefused(t *testing.T) {
	srv := newTestServer(t, &stubService{accessErr: service.ErrUserBlocked}, nil)

	rec := srv.do(t, buyerID, http.MethodGet, "/api/catalog/categories", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPurchase_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: repository.ErrProductNotFound, want: http.StatusNotFound},
		{name: "out of stock", err: service.ErrOutOfStock, want: http.StatusConflict},
		{name: "blocked", err: service.ErrUserBlocked, want: http.StatusForbidden},
		{name: "storage", err: service.ErrStorageUnavailable, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubService{purchaseErr: tt.err}, nil)

			rec := srv.do(t, buyerID, http.MethodPost, "/api/catalog/products/7/purchase", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPurchase_InsufficientFundsDetails(t *testing.T) {
	svc := &stubService{purchaseErr: &service.InsufficientFundsError{
		Needed: decimal.RequireFromString("50"),
		Have:   decimal.RequireFromString("10"),
	}}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, buyerID, http.MethodPost, "/api/catalog/products/7/purchase", "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	details, ok := decodeBody(t, rec)["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "50.00", details["needed"])
	assert.Equal(t, "10.00", details["have"])
	assert.Equal(t, "40.00", details["shortfall"])
}

func TestPurchase_Success(t *testing.T) {
	svc := &stubService{purchase: &model.Purchase{
		OrderID:     3,
		ProductID:   7,
		ProductName: "Premium",
		Payload:     "login:secret",
		Charged:     decimal.RequireFromString("50"),
		Balance:     decimal.RequireFromString("70"),
		PurchasedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, buyerID, http.MethodPost, "/api/catalog/products/7/purchase", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decodeBody(t, rec)
	assert.Equal(t, "login:secret", body["payload"])
	assert.Equal(t, "50.00", body["charged"])
	assert.Equal(t, "70.00", body["balance"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["purchased_at"])
}

func TestPurchase_BadProductID(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, buyerID, http.MethodPost, "/api/catalog/products/abc/purchase", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RequiresAdmin(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, buyerID, http.MethodGet, "/api/admin/categories", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, adminID, http.MethodGet, "/api/admin/categories", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_DeleteCategoryNotEmpty(t *testing.T) {
	srv := newTestServer(t, &stubService{deleteCatErr: repository.ErrCategoryNotEmpty}, nil)

	rec := srv.do(t, adminID, http.MethodDelete, "/api/admin/categories/3", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdmin_UpdateProductPatch(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, adminID, http.MethodPatch, "/api/admin/products/7", `{"price":"12.50","active":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.NotNil(t, svc.updatePatch.Price)
	assert.True(t, svc.updatePatch.Price.Equal(decimal.RequireFromString("12.5")))
	require.NotNil(t, svc.updatePatch.Active)
	assert.False(t, *svc.updatePatch.Active)
	assert.Nil(t, svc.updatePatch.Name)

	rec = srv.do(t, adminID, http.MethodPatch, "/api/admin/products/7", `{"stock_count":99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_AddProductItems(t *testing.T) {
	svc := &stubService{addedItems: 5, addedStock: 8}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, adminID, http.MethodPost, "/api/admin/products/7/items", "a\nb\n\nc\nd\ne\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a\nb\n\nc\nd\ne\n", svc.addItemsText)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 5, body["added"])
	assert.EqualValues(t, 8, body["stock"])

	srv = newTestServer(t, &stubService{addItemsErr: repository.ErrProductNotFound}, nil)
	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/products/7/items", "a")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_AdjustBalance(t *testing.T) {
	svc := &stubService{adjustBalance: decimal.RequireFromString("-5")}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, adminID, http.MethodPost, "/api/admin/users/100/balance", `{"delta":"-15"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-5.00", decodeBody(t, rec)["balance"])

	srv = newTestServer(t, &stubService{adjustErr: service.ErrInvalidInput}, nil)
	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/users/100/balance", `{"delta":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_Broadcasts(t *testing.T) {
	job := broadcast.Job{ID: uuid.New(), Status: broadcast.StatusRunning, StartedAt: time.Now().UTC()}
	srv := newTestServer(t, &stubService{}, &stubBroadcaster{job: job})

	rec := srv.do(t, adminID, http.MethodPost, "/api/admin/broadcasts", `{"text":"sale"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, job.ID.String(), decodeBody(t, rec)["id"])

	rec = srv.do(t, adminID, http.MethodGet, "/api/admin/broadcasts/"+job.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, adminID, http.MethodGet, "/api/admin/broadcasts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, adminID, http.MethodGet, "/api/admin/broadcasts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_SetPaymentStatus(t *testing.T) {
	id := uuid.New()
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, adminID, http.MethodPost, "/api/admin/payments/"+id.String()+"/status", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PaymentStatusCompleted, svc.paymentStatus)
	body := decodeBody(t, rec)
	assert.Equal(t, id.String(), body["id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "30.00", body["amount"])

	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/payments/"+id.String()+"/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/payments/42/status", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, buyerID, http.MethodPost, "/api/admin/payments/"+id.String()+"/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	srv = newTestServer(t, &stubService{paymentErr: repository.ErrPaymentNotPending}, nil)
	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/payments/"+id.String()+"/status", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	srv = newTestServer(t, &stubService{paymentErr: repository.ErrPaymentNotFound}, nil)
	rec = srv.do(t, adminID, http.MethodPost, "/api/admin/payments/"+id.String()+"/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
