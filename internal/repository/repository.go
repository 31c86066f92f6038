// Package repository содержит реализации хранилища заказов: PostgreSQL и память процесса.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/scango-gate/internal/model"
)

var (
	// ErrOrderExists возвращается при повторном создании заказа с тем же идентификатором или номером чека.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict возвращается, если текущий статус заказа не совпал с ожидаемым.
	ErrConflict = errors.New("order status conflict")
	// ErrInvalidTransition возвращается при попытке перехода, запрещённого жизненным циклом заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateConfirmation возвращается при повторном использовании идентификатора подтверждения.
	ErrDuplicateConfirmation = errors.New("confirmation already recorded")
)

// ConflictError описывает неудачное сравнение статуса и содержит фактический статус заказа.
type ConflictError struct {
	Hash     string
	Expected model.OrderStatus
	Current  model.OrderStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: expected status %s, got %s", e.Hash, e.Expected, e.Current)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionRequest описывает смену статуса по принципу compare-and-swap.
type TransitionRequest struct {
	Hash           string
	From           model.OrderStatus
	To             model.OrderStatus
	Actor          string
	ConfirmationID string
}

// ConfirmFunc выполняется, пока заказ заблокирован, после проверки статуса и до его смены.
// Ошибка отменяет переход. Непустой хеш транзакции сохраняется в заказе и журнале.
type ConfirmFunc func(ctx context.Context, o model.Order) (string, error)

func checkTransition(req TransitionRequest, current model.OrderStatus) error {
	if !model.CanTransition(req.From, req.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.From, req.To)
	}
	if current != req.From {
		return &ConflictError{Hash: req.Hash, Expected: req.From, Current: current}
	}
	return nil
}
