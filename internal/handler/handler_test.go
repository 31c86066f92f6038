package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/ledger"
	"github.com/mmeshcher/scango-gate/internal/middleware"
	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/repository"
	"github.com/mmeshcher/scango-gate/internal/service"
)

type stubService struct {
	checkoutRes *service.CheckoutResult
	checkoutErr error

	order    *model.Order
	orderErr error

	paymentRes *service.PaymentResult
	paymentErr error

	exitRes *service.ExitResult
	exitErr error

	scanned string
	actor   string
}

func (s *stubService) Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	return s.checkoutRes, s.checkoutErr
}

func (s *stubService) GetOrder(ctx context.Context, hash string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) MarkPaid(ctx context.Context, scanned, actor string) (*service.PaymentResult, error) {
	s.scanned, s.actor = scanned, actor
	return s.paymentRes, s.paymentErr
}

func (s *stubService) VerifyExit(ctx context.Context, scanned, actor string) (*service.ExitResult, error) {
	s.scanned, s.actor = scanned, actor
	return s.exitRes, s.exitErr
}

func (s *stubService) GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error) {
	return nil, s.orderErr
}

func (s *stubService) GetStoreOrders(ctx context.Context, storeID string, limit int) ([]model.Order, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, Options{StaffPassword: "letmein", DefaultStoreID: "store-001"})
}

func login(t *testing.T, router http.Handler, id string, role model.StaffRole) *http.Cookie {
	t.Helper()

	body := fmt.Sprintf(`{"id":%q,"password":"letmein","role":%q}`, id, role)
	req := httptest.NewRequest(http.MethodPost, "/api/staff/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func doJSON(router http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVerifyExit_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		res  *service.ExitResult
		err  error
		want int
	}{
		{
			name: "allowed",
			res:  &service.ExitResult{Allowed: true, Status: service.StatusExitAllowed, ItemCount: 2},
			want: http.StatusOK,
		},
		{
			name: "payment pending",
			res:  &service.ExitResult{Status: service.StatusPaymentPending},
			err:  service.ErrPaymentPending,
			want: http.StatusForbidden,
		},
		{
			name: "qr used",
			res:  &service.ExitResult{Status: service.StatusQRUsed},
			err:  service.ErrQRUsed,
			want: http.StatusForbidden,
		},
		{
			name: "malformed",
			res:  &service.ExitResult{Status: service.StatusInvalidQR},
			err:  service.ErrInvalidQR,
			want: http.StatusBadRequest,
		},
		{
			name: "unknown hash",
			res:  &service.ExitResult{Status: service.StatusInvalidQR},
			err:  fmt.Errorf("%w: %w", service.ErrInvalidQR, repository.ErrOrderNotFound),
			want: http.StatusNotFound,
		},
		{
			name: "offline",
			res:  &service.ExitResult{Status: service.StatusOfflineOrder},
			err:  service.ErrOfflineOrder,
			want: http.StatusBadRequest,
		},
		{
			name: "ledger down",
			res:  &service.ExitResult{Status: service.StatusNetworkError},
			err:  service.ErrNetwork,
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{exitRes: tt.res, exitErr: tt.err}
			h := newTestHandler(t, svc)
			router := h.SetupRouter()
			cookie := login(t, router, "guard-1", model.RoleGuard)

			rec := doJSON(router, http.MethodPost, "/api/guard/verify-exit", `{"qr":"scanned"}`, cookie)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp guardResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.res.Status), resp.Status)
			assert.Equal(t, tt.res.Allowed, resp.Allowed)
			assert.Equal(t, "scanned", svc.scanned)
			assert.Equal(t, "guard-1", svc.actor)
		})
	}
}

func TestMarkPaid_AlreadyPaidIsSuccess(t *testing.T) {
	svc := &stubService{paymentRes: &service.PaymentResult{
		Success:   true,
		Status:    service.StatusAlreadyPaid,
		OrderHash: "0xabc",
		Timestamp: time.Now(),
	}}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()
	cookie := login(t, router, "cashier-1", model.RoleCashier)

	rec := doJSON(router, http.MethodPost, "/api/cashier/mark-paid", `{"orderHash":"0xabc"}`, cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp cashierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ALREADY_PAID", resp.Status)
	assert.Equal(t, "0xabc", svc.scanned)
}

func TestRoleGuards(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	cashier := login(t, router, "cashier-1", model.RoleCashier)
	guard := login(t, router, "guard-1", model.RoleGuard)

	assert.Equal(t, http.StatusUnauthorized, doJSON(router, http.MethodPost, "/api/guard/verify-exit", `{}`, nil).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodPost, "/api/guard/verify-exit", `{}`, cashier).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodPost, "/api/cashier/mark-paid", `{}`, guard).Code)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodGet, "/api/stores/store-001/orders", "", guard).Code)
}

func TestLogin_Rejections(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "wrong password", body: `{"id":"g","password":"nope","role":"GUARD"}`, want: http.StatusUnauthorized},
		{name: "unknown role", body: `{"id":"g","password":"letmein","role":"JANITOR"}`, want: http.StatusBadRequest},
		{name: "missing id", body: `{"password":"letmein","role":"GUARD"}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(router, http.MethodPost, "/api/staff/login", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   int
		status string
	}{
		{name: "invalid input", err: fmt.Errorf("%w: cart is empty", service.ErrInvalidInput), want: http.StatusBadRequest, status: "INVALID_INPUT"},
		{name: "ledger down", err: fmt.Errorf("%w: timeout", service.ErrNetwork), want: http.StatusServiceUnavailable, status: "NETWORK_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{checkoutErr: tt.err})
			router := h.SetupRouter()

			rec := doJSON(router, http.MethodPost, "/api/orders/checkout", `{"cart":[],"total":0}`, nil)

			assert.Equal(t, tt.want, rec.Code)
			var resp checkoutResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{orderErr: repository.ErrOrderNotFound})
	router := h.SetupRouter()

	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/orders/0xdead", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/orders/receipt/RCP-1", "", nil).Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(h.SetupRouter(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExitFlow_EndToEnd(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	svc := service.NewService(repo, ledger.NewFake(nil), nil, service.Options{AutoPayOnline: true})
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	rec := doJSON(router, http.MethodPost, "/api/orders/checkout",
		`{"cart":[{"id":"x","price":50,"qty":2}],"total":100,"paymentMethod":"CASH"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var checkout checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	assert.True(t, checkout.Success)
	assert.Equal(t, "PENDING", checkout.Status)
	assert.Equal(t, 100.0, checkout.TotalAmount)

	rec = doJSON(router, http.MethodGet, "/api/orders/receipt/"+checkout.ReceiptNumber, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, checkout.OrderHash, order.OrderHash)
	assert.Equal(t, "store-001", order.StoreID)
	assert.Equal(t, 2, order.ItemCount)

	guard := login(t, router, "guard-1", model.RoleGuard)
	cashier := login(t, router, "cashier-1", model.RoleCashier)
	scan, _ := json.Marshal(scanRequest{QR: checkout.QRPayload})

	rec = doJSON(router, http.MethodPost, "/api/guard/verify-exit", string(scan), guard)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "PAYMENT_PENDING")

	rec = doJSON(router, http.MethodPost, "/api/cashier/mark-paid", string(scan), cashier)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PAID_CONFIRMED")

	rec = doJSON(router, http.MethodPost, "/api/guard/verify-exit", string(scan), guard)
	assert.Equal(t, http.StatusOK, rec.Code)
	var exit guardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exit))
	assert.True(t, exit.Allowed)
	assert.Equal(t, "EXIT_ALLOWED", exit.Status)
	assert.Equal(t, 2, exit.ItemCount)

	rec = doJSON(router, http.MethodPost, "/api/guard/verify-exit", string(scan), guard)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "QR_USED")

	admin := login(t, router, "boss", model.RoleAdmin)
	rec = doJSON(router, http.MethodGet, "/api/orders/"+checkout.OrderHash+"/history", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 3)
	assert.Equal(t, "VERIFIED", history[2].To)
	assert.Equal(t, "guard-1", history[2].Actor)

	rec = doJSON(router, http.MethodGet, "/api/stores/store-001/orders?limit=10", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGzipResponse(t *testing.T) {
	h := newTestHandler(t, &stubService{order: &model.Order{Hash: "0xabc", Status: model.OrderStatusPaid}})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/0xabc", bytes.NewReader(nil))
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}
