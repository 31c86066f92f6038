// Package service реализует жизненный цикл заказа: оформление, оплату и проверку на выходе.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/ledger"
	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/orderhash"
	"github.com/mmeshcher/scango-gate/internal/qr"
	"github.com/mmeshcher/scango-gate/internal/repository"
	"github.com/mmeshcher/scango-gate/internal/validation"
)

const defaultLedgerTimeout = 5 * time.Second

// Repository описывает контракт хранилища заказов, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, hash string) (*model.Order, error)
	GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error)
	TransitionOrder(ctx context.Context, req repository.TransitionRequest, confirm repository.ConfirmFunc) (*model.Order, error)
	GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error)
	GetOrdersByStore(ctx context.Context, storeID string, limit int) ([]model.Order, error)
}

// Options задаёт политику сервиса.
type Options struct {
	// LedgerTimeout ограничивает каждую запись в реестр.
	LedgerTimeout time.Duration
	// AutoPayOnline включает автоматическое подтверждение оплаты UPI и картой при оформлении.
	AutoPayOnline bool
}

// Service содержит бизнес-логику оформления, оплаты и выхода.
type Service struct {
	repo          Repository
	ledger        ledger.Client
	logger        *zap.Logger
	ledgerTimeout time.Duration
	autoPayOnline bool
	now           func() time.Time
}

// NewService создаёт сервис с указанным хранилищем и клиентом реестра.
func NewService(repo Repository, ledgerClient ledger.Client, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.LedgerTimeout
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}

	return &Service{
		repo:          repo,
		ledger:        ledgerClient,
		logger:        logger,
		ledgerTimeout: timeout,
		autoPayOnline: opts.AutoPayOnline,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CheckoutRequest описывает корзину, которую покупатель оформляет на выходе из приложения.
type CheckoutRequest struct {
	Cart          []model.Item
	Total         decimal.Decimal
	StoreID       string
	PaymentMethod string
}

// Checkout оформляет заказ: выпускает идентификатор, регистрирует заказ в реестре и
// сохраняет его в статусе PENDING. Онлайн-оплата подтверждается сразу, если это включено.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	method, err := validation.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateCheckout(req.Cart, req.Total, req.StoreID); err != nil {
		return nil, err
	}

	now := s.now()

	hash, err := orderhash.Mint(req.Cart, req.Total, req.StoreID, now)
	if err != nil {
		return nil, fmt.Errorf("mint order hash: %w", err)
	}
	receipt, err := orderhash.NewReceiptNumber(now)
	if err != nil {
		return nil, fmt.Errorf("new receipt number: %w", err)
	}

	ledgerCtx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	txHash, err := s.ledger.CreateOrder(ledgerCtx, hash)
	cancel()
	if err != nil {
		s.logger.Error("ledger create order error", zap.Error(err), zap.String("orderHash", hash))
		return nil, fmt.Errorf("%w: create order on ledger: %w", ErrNetwork, err)
	}

	mrpTotal := decimal.Zero
	for _, it := range req.Cart {
		mrpTotal = mrpTotal.Add(it.LineMRP())
	}

	o := model.Order{
		Hash:          hash,
		ReceiptNumber: receipt,
		StoreID:       req.StoreID,
		Items:         req.Cart,
		TotalAmount:   req.Total,
		TotalDiscount: mrpTotal.Sub(req.Total),
		PaymentMethod: method,
		Status:        model.OrderStatusPending,
		TxHash:        txHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		s.logger.Error("store order error", zap.Error(err), zap.String("orderHash", hash))
		if errors.Is(err, repository.ErrOrderExists) {
			return nil, fmt.Errorf("store order: %w", err)
		}
		return nil, fmt.Errorf("%w: store order: %w", ErrNetwork, err)
	}

	s.logger.Info("order created",
		zap.String("orderHash", hash),
		zap.String("receipt", receipt),
		zap.String("store", req.StoreID),
		zap.String("paymentMethod", string(method)),
	)

	res := &CheckoutResult{Order: &o}

	if method.IsOnline() && s.autoPayOnline {
		pay, err := s.MarkPaid(ctx, hash, "online:"+string(method))
		res.AutoPayStatus = pay.Status
		if err != nil {
			s.logger.Warn("online payment confirmation failed, order left pending",
				zap.Error(err), zap.String("orderHash", hash))
		} else if pay.Order != nil {
			res.Order = pay.Order
		}
	}

	payload, err := qr.Encode(qr.Payload{
		OrderHash:     res.Order.Hash,
		TxHash:        res.Order.TxHash,
		ReceiptNumber: res.Order.ReceiptNumber,
	})
	if err != nil {
		return nil, err
	}
	res.QRPayload = payload

	return res, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, hash string) (*model.Order, error) {
	return s.repo.GetOrder(ctx, hash)
}

// GetOrderByReceipt возвращает заказ по номеру чека.
func (s *Service) GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error) {
	return s.repo.GetOrderByReceipt(ctx, receipt)
}

// GetOrderHistory возвращает журнал переходов заказа.
func (s *Service) GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error) {
	if _, err := s.repo.GetOrder(ctx, hash); err != nil {
		return nil, err
	}
	return s.repo.GetOrderHistory(ctx, hash)
}

// GetStoreOrders возвращает последние заказы магазина.
func (s *Service) GetStoreOrders(ctx context.Context, storeID string, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.GetOrdersByStore(ctx, storeID, limit)
}

// resolveOrder находит заказ по содержимому QR-кода. Номер чека используется только
// для поиска идентификатора, все изменения выполняются по идентификатору.
func (s *Service) resolveOrder(ctx context.Context, scanned string) (string, *model.Order, error) {
	p := qr.Parse(scanned)
	if p.IsEmpty() {
		return "", nil, ErrInvalidQR
	}

	if p.OrderHash == "" {
		o, err := s.repo.GetOrderByReceipt(ctx, p.ReceiptNumber)
		if err != nil {
			return "", nil, s.lookupError(err)
		}
		return o.Hash, o, nil
	}

	hash := p.OrderHash
	if validation.IsOfflineOrderHash(hash) {
		return hash, nil, ErrOfflineOrder
	}
	if !validation.IsValidOrderHash(hash) {
		return hash, nil, ErrInvalidQR
	}
	hash = strings.ToLower(hash)

	o, err := s.repo.GetOrder(ctx, hash)
	if err != nil {
		return hash, nil, s.lookupError(err)
	}
	return hash, o, nil
}

func (s *Service) lookupError(err error) error {
	if errors.Is(err, repository.ErrOrderNotFound) {
		return fmt.Errorf("%w: %w", ErrInvalidQR, err)
	}
	s.logger.Error("order lookup error", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// confirmOnLedger оборачивает запись в реестр ограничением по времени. Если реестр
// отклонил запись, статус заказа запрашивается повторно: при потерянном ответе на
// предыдущую попытку реестр уже находится в статусе want, и запись считается подтверждённой.
func (s *Service) confirmOnLedger(write func(ctx context.Context, hash string) (string, error),
	want model.OrderStatus) repository.ConfirmFunc {
	return func(ctx context.Context, o model.Order) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
		defer cancel()

		txHash, err := write(ctx, o.Hash)
		if err == nil || !errors.Is(err, ledger.ErrRejected) {
			return txHash, err
		}

		current, statusErr := s.ledger.Status(ctx, o.Hash)
		if statusErr != nil {
			return "", fmt.Errorf("%w: ledger rejected write and status is unknown: %w", ledger.ErrUnavailable, statusErr)
		}
		if current != want {
			return "", err
		}

		s.logger.Warn("ledger already holds the requested status, reconciling local state",
			zap.String("orderHash", o.Hash),
			zap.String("localStatus", string(o.Status)),
			zap.String("ledgerStatus", string(current)),
		)
		return "", nil
	}
}

// statusForError сопоставляет ошибку сервиса статусу ответа.
func statusForError(err error) ResultStatus {
	switch {
	case errors.Is(err, ErrOfflineOrder):
		return StatusOfflineOrder
	case errors.Is(err, ErrInvalidQR):
		return StatusInvalidQR
	case errors.Is(err, ErrPaymentPending):
		return StatusPaymentPending
	case errors.Is(err, ErrQRUsed):
		return StatusQRUsed
	case errors.Is(err, ErrInvalidInput):
		return StatusInvalidInput
	default:
		return StatusNetworkError
	}
}
