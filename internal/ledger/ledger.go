// Package ledger предоставляет доступ к реестру подтверждений оплаты и выхода.
package ledger

import (
	"context"
	"errors"

	"github.com/mmeshcher/scango-gate/internal/model"
)

var (
	// ErrUnavailable возвращается, если реестр недоступен или не ответил вовремя.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected возвращается, если реестр отклонил запись из-за состояния заказа.
	ErrRejected = errors.New("ledger rejected write")
	// ErrUnknownOrder возвращается, если заказ в реестре не зарегистрирован.
	ErrUnknownOrder = errors.New("order not registered in ledger")
)

// Client описывает операции реестра. Каждая запись возвращает хеш транзакции как доказательство.
type Client interface {
	CreateOrder(ctx context.Context, orderHash string) (string, error)
	MarkPaid(ctx context.Context, orderHash string) (string, error)
	MarkUsed(ctx context.Context, orderHash string) (string, error)
	Status(ctx context.Context, orderHash string) (model.OrderStatus, error)
}
