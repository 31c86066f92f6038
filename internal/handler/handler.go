// Package handler содержит HTTP-обработчики API оформления заказов, кассы и контроля выхода.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/middleware"
	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/repository"
	"github.com/mmeshcher/scango-gate/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, hash string) (*model.Order, error)
	GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error)
	MarkPaid(ctx context.Context, scanned, actor string) (*service.PaymentResult, error)
	VerifyExit(ctx context.Context, scanned, actor string) (*service.ExitResult, error)
	GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error)
	GetStoreOrders(ctx context.Context, storeID string, limit int) ([]model.Order, error)
}

// Options задаёт параметры обработчиков, не относящиеся к бизнес-логике.
type Options struct {
	// StaffPassword — общий пароль сотрудников. Пустое значение принимает любой непустой пароль.
	StaffPassword string
	// DefaultStoreID подставляется, если приложение не передало магазин.
	DefaultStoreID string
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		opts:           opts,
	}
}

type checkoutRequest struct {
	Cart          []model.Item    `json:"cart"`
	Total         decimal.Decimal `json:"total"`
	StoreID       string          `json:"storeId"`
	PaymentMethod string          `json:"paymentMethod"`
}

type checkoutResponse struct {
	Success       bool    `json:"success"`
	OrderHash     string  `json:"orderHash,omitempty"`
	ReceiptNumber string  `json:"receiptNumber,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	Status        string  `json:"status"`
	TotalAmount   float64 `json:"totalAmount,omitempty"`
	TotalDiscount float64 `json:"totalDiscount,omitempty"`
	QRPayload     string  `json:"qrPayload,omitempty"`
	PaymentStatus string  `json:"paymentStatus,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Checkout оформляет заказ из корзины приложения покупателя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, checkoutResponse{
			Status: string(service.StatusInvalidInput),
			Error:  "malformed request body",
		})
		return
	}

	if req.StoreID == "" {
		req.StoreID = h.opts.DefaultStoreID
	}

	res, err := h.service.Checkout(r.Context(), service.CheckoutRequest{
		Cart:          req.Cart,
		Total:         req.Total,
		StoreID:       req.StoreID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, checkoutResponse{
				Status: string(service.StatusInvalidInput),
				Error:  err.Error(),
			})
		case errors.Is(err, service.ErrNetwork):
			writeJSON(w, http.StatusServiceUnavailable, checkoutResponse{
				Status: string(service.StatusNetworkError),
				Error:  "ledger unavailable, retry checkout",
			})
		default:
			h.logger.Error("checkout error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	o := res.Order
	writeJSON(w, http.StatusOK, checkoutResponse{
		Success:       true,
		OrderHash:     o.Hash,
		ReceiptNumber: o.ReceiptNumber,
		TxHash:        o.TxHash,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount.InexactFloat64(),
		TotalDiscount: o.TotalDiscount.InexactFloat64(),
		QRPayload:     res.QRPayload,
		PaymentStatus: string(res.AutoPayStatus),
	})
}

type itemResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	MRP      float64 `json:"mrp,omitempty"`
	Quantity int     `json:"qty"`
}

type orderResponse struct {
	OrderHash     string         `json:"orderHash"`
	ReceiptNumber string         `json:"receiptNumber"`
	StoreID       string         `json:"storeId"`
	Items         []itemResponse `json:"items"`
	ItemCount     int            `json:"itemCount"`
	TotalAmount   float64        `json:"totalAmount"`
	TotalDiscount float64        `json:"totalDiscount"`
	PaymentMethod string         `json:"paymentMethod"`
	Status        string         `json:"status"`
	TxHash        string         `json:"txHash,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

func newOrderResponse(o *model.Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResponse{
			ID:       it.ID,
			Name:     it.Name,
			Price:    it.Price.InexactFloat64(),
			MRP:      it.MRP.InexactFloat64(),
			Quantity: it.Quantity,
		})
	}

	return orderResponse{
		OrderHash:     o.Hash,
		ReceiptNumber: o.ReceiptNumber,
		StoreID:       o.StoreID,
		Items:         items,
		ItemCount:     o.ItemCount(),
		TotalAmount:   o.TotalAmount.InexactFloat64(),
		TotalDiscount: o.TotalDiscount.InexactFloat64(),
		PaymentMethod: string(o.PaymentMethod),
		Status:        string(o.Status),
		TxHash:        o.TxHash,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.writeOrder(w, r, h.service.GetOrder, chi.URLParam(r, "hash"))
}

// GetOrderByReceipt возвращает заказ по номеру чека.
func (h *Handler) GetOrderByReceipt(w http.ResponseWriter, r *http.Request) {
	h.writeOrder(w, r, h.service.GetOrderByReceipt, chi.URLParam(r, "receipt"))
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request,
	get func(context.Context, string) (*model.Order, error), key string) {
	o, err := get(r.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("key", key))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Login выполняет вход сотрудника и устанавливает cookie с его ролью.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.StaffRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	id := strings.TrimSpace(req.ID)
	if id == "" || strings.Contains(id, "|") || req.Password == "" || !role.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if h.opts.StaffPassword != "" &&
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.opts.StaffPassword)) != 1 {
		h.logger.Info("staff login rejected", zap.String("staff", id), zap.String("role", string(role)))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetStaffCookie(w, model.Staff{ID: id, Role: role})
	h.logger.Info("staff logged in", zap.String("staff", id), zap.String("role", string(role)))
	w.WriteHeader(http.StatusOK)
}

type scanRequest struct {
	OrderHash string `json:"orderHash"`
	QR        string `json:"qr"`
}

func (s scanRequest) scanned() string {
	if s.QR != "" {
		return s.QR
	}
	return s.OrderHash
}

type cashierResponse struct {
	Success   bool    `json:"success"`
	Status    string  `json:"status"`
	OrderHash string  `json:"orderHash,omitempty"`
	Amount    float64 `json:"amount"`
	TxHash    string  `json:"txHash,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// MarkPaid подтверждает оплату заказа на кассе.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	staff, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.MarkPaid(r.Context(), req.scanned(), staff.ID)
	if res == nil {
		h.logger.Error("mark paid error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := cashierResponse{
		Success:   res.Success,
		Status:    string(res.Status),
		OrderHash: res.OrderHash,
		Amount:    res.Amount.InexactFloat64(),
		Timestamp: res.Timestamp.Format(time.RFC3339),
	}
	if res.Order != nil {
		resp.TxHash = res.Order.TxHash
	}

	writeJSON(w, httpStatus(res.Status, err), resp)
}

type guardResponse struct {
	Allowed   bool   `json:"allowed"`
	Status    string `json:"status"`
	OrderHash string `json:"orderHash,omitempty"`
	ItemCount int    `json:"itemCount"`
	Timestamp string `json:"timestamp"`
}

// VerifyExit проверяет QR-код покупателя на выходе.
func (h *Handler) VerifyExit(w http.ResponseWriter, r *http.Request) {
	staff, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.VerifyExit(r.Context(), req.scanned(), staff.ID)
	if res == nil {
		h.logger.Error("verify exit error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, httpStatus(res.Status, err), guardResponse{
		Allowed:   res.Allowed,
		Status:    string(res.Status),
		OrderHash: res.OrderHash,
		ItemCount: res.ItemCount,
		Timestamp: res.Timestamp.Format(time.RFC3339),
	})
}

type auditResponse struct {
	ID             string `json:"id"`
	From           string `json:"from,omitempty"`
	To             string `json:"to"`
	Actor          string `json:"actor"`
	TxHash         string `json:"txHash,omitempty"`
	ConfirmationID string `json:"confirmationId,omitempty"`
	At             string `json:"at"`
}

// GetOrderHistory возвращает журнал переходов заказа.
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	records, err := h.service.GetOrderHistory(r.Context(), hash)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order history error", zap.Error(err), zap.String("orderHash", hash))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	resp := make([]auditResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, auditResponse{
			ID:             rec.ID,
			From:           string(rec.From),
			To:             string(rec.To),
			Actor:          rec.Actor,
			TxHash:         rec.TxHash,
			ConfirmationID: rec.ConfirmationID,
			At:             rec.At.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStoreOrders возвращает последние заказы магазина.
func (h *Handler) GetStoreOrders(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := h.service.GetStoreOrders(r.Context(), storeID, limit)
	if err != nil {
		h.logger.Error("get store orders error", zap.Error(err), zap.String("store", storeID))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// httpStatus сопоставляет результат сканирования HTTP-статусу ответа.
func httpStatus(status service.ResultStatus, err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, repository.ErrOrderNotFound) {
		return http.StatusNotFound
	}

	switch status {
	case service.StatusPaymentPending, service.StatusQRUsed:
		return http.StatusForbidden
	case service.StatusInvalidQR, service.StatusOfflineOrder, service.StatusInvalidInput:
		return http.StatusBadRequest
	case service.StatusNetworkError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
