package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/ledger"
	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/repository"
)

// MarkPaid переводит заказ из PENDING в PAID. Оплата записывается в реестр до смены
// статуса; если запись не подтверждена, статус не меняется. Повторная оплата
// возвращает ALREADY_PAID без ошибки.
func (s *Service) MarkPaid(ctx context.Context, scanned, actor string) (*PaymentResult, error) {
	res := &PaymentResult{Timestamp: s.now()}

	hash, o, err := s.resolveOrder(ctx, scanned)
	res.OrderHash = hash
	if err != nil {
		res.Status = statusForError(err)
		s.logger.Info("payment denied", zap.String("orderHash", hash), zap.String("status", string(res.Status)),
			zap.String("actor", actor))
		return res, err
	}
	res.Amount = o.TotalAmount
	res.Order = o

	if o.Status != model.OrderStatusPending {
		return s.paymentOutcome(res, o.Status, actor, paymentPrecondition(o.Status))
	}

	updated, err := s.repo.TransitionOrder(ctx, repository.TransitionRequest{
		Hash:           hash,
		From:           model.OrderStatusPending,
		To:             model.OrderStatusPaid,
		Actor:          actor,
		ConfirmationID: uuid.NewString(),
	}, s.confirmOnLedger(s.ledger.MarkPaid, model.OrderStatusPaid))
	if err == nil {
		res.Success = true
		res.Status = StatusPaidConfirmed
		res.Order = updated
		s.logger.Info("payment confirmed", zap.String("orderHash", hash), zap.String("actor", actor),
			zap.String("txHash", updated.TxHash))
		return res, nil
	}

	var conflict *repository.ConflictError
	switch {
	case errors.As(err, &conflict):
		return s.paymentOutcome(res, conflict.Current, actor, paymentPrecondition(conflict.Current))
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, ledger.ErrUnknownOrder):
		res.Status = StatusInvalidQR
		return res, fmt.Errorf("%w: %w", ErrInvalidQR, err)
	case errors.Is(err, ledger.ErrRejected):
		res.Status = StatusInvalidQR
		s.logger.Error("ledger rejected payment", zap.Error(err), zap.String("orderHash", hash))
		return res, fmt.Errorf("%w: %w", ErrInvalidState, err)
	default:
		res.Status = StatusNetworkError
		s.logger.Error("mark paid error", zap.Error(err), zap.String("orderHash", hash))
		return res, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
}

// paymentPrecondition возвращает nil, если заказ ещё можно оплатить.
func paymentPrecondition(status model.OrderStatus) error {
	switch {
	case status == model.OrderStatusPending:
		return nil
	case status == model.OrderStatusPaid:
		return nil
	case status.ExitAuthorized():
		return fmt.Errorf("%w: exit already authorized", ErrInvalidState)
	case status.IsTerminal():
		return fmt.Errorf("%w: order is %s", ErrInvalidState, status)
	default:
		return fmt.Errorf("%w: unknown order status %q", ErrInvalidState, status)
	}
}

func (s *Service) paymentOutcome(res *PaymentResult, current model.OrderStatus, actor string, err error) (*PaymentResult, error) {
	switch {
	case current == model.OrderStatusPaid:
		res.Success = true
		res.Status = StatusAlreadyPaid
		if res.Order != nil {
			res.Order.Status = current
		}
		s.logger.Info("order already paid", zap.String("orderHash", res.OrderHash), zap.String("actor", actor))
		return res, nil
	case current.ExitAuthorized():
		res.Status = StatusQRUsed
	default:
		res.Status = StatusInvalidQR
	}
	s.logger.Info("payment denied", zap.String("orderHash", res.OrderHash), zap.String("status", string(res.Status)),
		zap.String("current", string(current)), zap.String("actor", actor))
	return res, err
}
