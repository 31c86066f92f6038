package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/scango-gate/internal/ledger"
	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/repository"
)

// VerifyExit разрешает выход по оплаченному заказу ровно один раз. Проверка статуса и
// перевод PAID -> VERIFIED выполняются одной операцией compare-and-swap, поэтому при
// одновременном сканировании одного кода разрешение получит только один охранник.
func (s *Service) VerifyExit(ctx context.Context, scanned, actor string) (*ExitResult, error) {
	res := &ExitResult{Timestamp: s.now()}

	hash, o, err := s.resolveOrder(ctx, scanned)
	res.OrderHash = hash
	if err != nil {
		return s.exitDenied(res, err, actor)
	}
	res.Order = o
	res.ItemCount = o.ItemCount()

	if err := exitPrecondition(o.Status); err != nil {
		return s.exitDenied(res, err, actor)
	}

	updated, err := s.repo.TransitionOrder(ctx, repository.TransitionRequest{
		Hash:  hash,
		From:  model.OrderStatusPaid,
		To:    model.OrderStatusVerified,
		Actor: actor,
	}, s.confirmOnLedger(s.ledger.MarkUsed, model.OrderStatusUsed))
	if err == nil {
		res.Allowed = true
		res.Status = StatusExitAllowed
		res.Order = updated
		s.logger.Info("exit allowed", zap.String("orderHash", hash), zap.String("actor", actor),
			zap.String("txHash", updated.TxHash), zap.Int("items", res.ItemCount))
		return res, nil
	}

	var conflict *repository.ConflictError
	switch {
	case errors.As(err, &conflict):
		return s.exitDenied(res, exitPrecondition(conflict.Current), actor)
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, ledger.ErrUnknownOrder):
		return s.exitDenied(res, fmt.Errorf("%w: %w", ErrInvalidQR, err), actor)
	case errors.Is(err, ledger.ErrRejected):
		s.logger.Error("ledger rejected exit", zap.Error(err), zap.String("orderHash", hash))
		return s.exitDenied(res, fmt.Errorf("%w: %w", ErrQRUsed, err), actor)
	default:
		s.logger.Error("verify exit error", zap.Error(err), zap.String("orderHash", hash))
		return s.exitDenied(res, fmt.Errorf("%w: %w", ErrNetwork, err), actor)
	}
}

// exitPrecondition возвращает nil только для оплаченного заказа.
func exitPrecondition(status model.OrderStatus) error {
	switch {
	case status == model.OrderStatusPaid:
		return nil
	case status == model.OrderStatusPending:
		return ErrPaymentPending
	case status.ExitAuthorized():
		return ErrQRUsed
	default:
		return fmt.Errorf("%w: order is %s", ErrInvalidQR, status)
	}
}

func (s *Service) exitDenied(res *ExitResult, err error, actor string) (*ExitResult, error) {
	res.Allowed = false
	res.Status = statusForError(err)
	s.logger.Info("exit denied", zap.String("orderHash", res.OrderHash), zap.String("status", string(res.Status)),
		zap.String("actor", actor))
	return res, err
}
