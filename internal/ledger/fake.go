package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/model"
)

// Fake — детерминированный реестр в памяти для демо-режима и тестов.
type Fake struct {
	mu      sync.Mutex
	orders  map[string]model.OrderStatus
	seq     uint64
	failErr error
	logger  *zap.Logger
}

// NewFake создаёт пустой реестр в памяти.
func NewFake(logger *zap.Logger) *Fake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fake{
		orders: make(map[string]model.OrderStatus),
		logger: logger,
	}
}

// FailNext заставляет следующий вызов вернуть err без изменения состояния.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

// CreateOrder регистрирует заказ в статусе PENDING.
func (f *Fake) CreateOrder(ctx context.Context, orderHash string) (string, error) {
	return f.write(ctx, "createOrder", orderHash, func(cur model.OrderStatus, ok bool) (model.OrderStatus, error) {
		if ok {
			return "", fmt.Errorf("%w: order %s already registered", ErrRejected, orderHash)
		}
		return model.OrderStatusPending, nil
	})
}

// MarkPaid фиксирует оплату. Повторная оплата не считается ошибкой.
func (f *Fake) MarkPaid(ctx context.Context, orderHash string) (string, error) {
	return f.write(ctx, "markPaid", orderHash, func(cur model.OrderStatus, ok bool) (model.OrderStatus, error) {
		if !ok {
			return "", ErrUnknownOrder
		}
		if cur == model.OrderStatusUsed {
			return "", fmt.Errorf("%w: order %s already used", ErrRejected, orderHash)
		}
		return model.OrderStatusPaid, nil
	})
}

// MarkUsed фиксирует выход по оплаченному заказу.
func (f *Fake) MarkUsed(ctx context.Context, orderHash string) (string, error) {
	return f.write(ctx, "markUsed", orderHash, func(cur model.OrderStatus, ok bool) (model.OrderStatus, error) {
		if !ok {
			return "", ErrUnknownOrder
		}
		if cur != model.OrderStatusPaid {
			return "", fmt.Errorf("%w: order %s is %s", ErrRejected, orderHash, cur)
		}
		return model.OrderStatusUsed, nil
	})
}

// Status возвращает статус заказа в реестре.
func (f *Fake) Status(ctx context.Context, orderHash string) (model.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure(); err != nil {
		return "", err
	}

	st, ok := f.orders[orderHash]
	if !ok {
		return "", ErrUnknownOrder
	}
	return st, nil
}

func (f *Fake) write(ctx context.Context, op, orderHash string, next func(model.OrderStatus, bool) (model.OrderStatus, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure(); err != nil {
		return "", err
	}

	cur, ok := f.orders[orderHash]
	status, err := next(cur, ok)
	if err != nil {
		return "", err
	}

	f.seq++
	f.orders[orderHash] = status

	sum := sha256.Sum256([]byte(op + "|" + orderHash + "|" + strconv.FormatUint(f.seq, 10)))
	txHash := "0x" + hex.EncodeToString(sum[:])

	f.logger.Debug("fake ledger write",
		zap.String("op", op),
		zap.String("orderHash", orderHash),
		zap.String("txHash", txHash),
	)

	return txHash, nil
}

func (f *Fake) takeFailure() error {
	err := f.failErr
	f.failErr = nil
	return err
}

var _ Client = (*Fake)(nil)
