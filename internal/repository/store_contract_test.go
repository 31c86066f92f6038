package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/scango-gate/internal/model"
)

type orderStore interface {
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, hash string) (*model.Order, error)
	GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error)
	TransitionOrder(ctx context.Context, req TransitionRequest, confirm ConfirmFunc) (*model.Order, error)
	GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error)
	GetOrdersByStore(ctx context.Context, storeID string, limit int) ([]model.Order, error)
}

func randomHex(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func newTestOrder(t *testing.T, storeID string) model.Order {
	t.Helper()
	return model.Order{
		Hash:          "0x" + randomHex(t, 32),
		ReceiptNumber: "RCP-TEST-" + randomHex(t, 4),
		StoreID:       storeID,
		Items: []model.Item{
			{ID: "x", Price: decimal.NewFromInt(50), Quantity: 2},
		},
		TotalAmount:   decimal.NewFromInt(100),
		TotalDiscount: decimal.Zero,
		PaymentMethod: model.PaymentMethodCash,
		Status:        model.OrderStatusPending,
		TxHash:        "0xcreate",
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func runStoreContract(t *testing.T, store orderStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))

		got, err := store.GetOrder(ctx, o.Hash)
		require.NoError(t, err)
		assert.Equal(t, o.Hash, got.Hash)
		assert.Equal(t, model.OrderStatusPending, got.Status)
		assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
		require.Len(t, got.Items, 1)
		assert.Equal(t, 2, got.Items[0].Quantity)

		byReceipt, err := store.GetOrderByReceipt(ctx, o.ReceiptNumber)
		require.NoError(t, err)
		assert.Equal(t, o.Hash, byReceipt.Hash)
	})

	t.Run("duplicate hash", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))

		dup := newTestOrder(t, "store-a")
		dup.Hash = o.Hash
		err := store.CreateOrder(ctx, dup)
		assert.ErrorIs(t, err, ErrOrderExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetOrder(ctx, "0xmissing")
		assert.ErrorIs(t, err, ErrOrderNotFound)

		_, err = store.TransitionOrder(ctx, TransitionRequest{
			Hash: "0xmissing", From: model.OrderStatusPending, To: model.OrderStatusPaid,
		}, nil)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("transition compare and swap", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))

		paid, err := store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid, Actor: "cashier-1",
		}, func(ctx context.Context, cur model.Order) (string, error) {
			return "0xpaid", nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPaid, paid.Status)
		assert.Equal(t, "0xpaid", paid.TxHash)

		_, err = store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid, Actor: "cashier-2",
		}, nil)
		require.ErrorIs(t, err, ErrConflict)

		var conflict *ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, model.OrderStatusPaid, conflict.Current)

		_, err = store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPaid, To: model.OrderStatusVerified, Actor: "guard-1",
		}, nil)
		require.NoError(t, err)

		history, err := store.GetOrderHistory(ctx, o.Hash)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, model.OrderStatusPending, history[0].To)
		assert.Equal(t, model.OrderStatusPaid, history[1].To)
		assert.Equal(t, "cashier-1", history[1].Actor)
		assert.Equal(t, "0xpaid", history[1].TxHash)
		assert.Equal(t, model.OrderStatusPaid, history[2].From)
		assert.Equal(t, model.OrderStatusVerified, history[2].To)
	})

	t.Run("invalid transition", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))

		_, err := store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPending, To: model.OrderStatusVerified,
		}, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("confirm failure leaves state unchanged", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))

		ledgerDown := errors.New("ledger down")
		_, err := store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid,
		}, func(ctx context.Context, cur model.Order) (string, error) {
			return "", ledgerDown
		})
		require.ErrorIs(t, err, ledgerDown)

		got, err := store.GetOrder(ctx, o.Hash)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, got.Status)

		history, err := store.GetOrderHistory(ctx, o.Hash)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("duplicate confirmation id", func(t *testing.T) {
		a := newTestOrder(t, "store-a")
		b := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, a))
		require.NoError(t, store.CreateOrder(ctx, b))

		confirmation := "pay-" + randomHex(t, 8)
		_, err := store.TransitionOrder(ctx, TransitionRequest{
			Hash: a.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid, ConfirmationID: confirmation,
		}, nil)
		require.NoError(t, err)

		_, err = store.TransitionOrder(ctx, TransitionRequest{
			Hash: b.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid, ConfirmationID: confirmation,
		}, nil)
		assert.ErrorIs(t, err, ErrDuplicateConfirmation)

		got, err := store.GetOrder(ctx, b.Hash)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, got.Status)
	})

	t.Run("concurrent verification succeeds once", func(t *testing.T) {
		o := newTestOrder(t, "store-a")
		require.NoError(t, store.CreateOrder(ctx, o))
		_, err := store.TransitionOrder(ctx, TransitionRequest{
			Hash: o.Hash, From: model.OrderStatusPending, To: model.OrderStatusPaid,
		}, nil)
		require.NoError(t, err)

		const guards = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			allowed   int
			conflicts int
		)
		for i := 0; i < guards; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.TransitionOrder(ctx, TransitionRequest{
					Hash: o.Hash, From: model.OrderStatusPaid, To: model.OrderStatusVerified,
				}, func(ctx context.Context, cur model.Order) (string, error) {
					time.Sleep(time.Millisecond)
					return "", nil
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					allowed++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, allowed)
		assert.Equal(t, guards-1, conflicts)
	})

	t.Run("orders by store", func(t *testing.T) {
		storeID := "store-" + randomHex(t, 4)
		first := newTestOrder(t, storeID)
		first.CreatedAt = time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
		second := newTestOrder(t, storeID)
		require.NoError(t, store.CreateOrder(ctx, first))
		require.NoError(t, store.CreateOrder(ctx, second))
		require.NoError(t, store.CreateOrder(ctx, newTestOrder(t, "other-store")))

		orders, err := store.GetOrdersByStore(ctx, storeID, 10)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, second.Hash, orders[0].Hash)

		orders, err = store.GetOrdersByStore(ctx, storeID, 1)
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	})
}
