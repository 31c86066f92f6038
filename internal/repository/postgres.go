package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/scango-gate/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectOrderColumns = `SELECT hash, receipt_number, store_id, items, total_cents, discount_cents,
		payment_method, status, tx_hash, created_at, updated_at
	 FROM orders`

// PostgresRepository предоставляет доступ к хранилищу заказов в PostgreSQL.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	receipts *lru.Cache
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, receiptCacheSize int) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if receiptCacheSize <= 0 {
		receiptCacheSize = 1
	}
	receipts, err := lru.New(receiptCacheSize)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create receipt cache: %w", err)
	}

	r := &PostgresRepository{pool: pool, receipts: receipts}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		retryable := isConnectionError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			retryable = pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
		}

		if !retryable || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ в статусе PENDING и первую запись журнала.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO orders (hash, receipt_number, store_id, items, total_cents, discount_cents,
				payment_method, status, tx_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			o.Hash, o.ReceiptNumber, o.StoreID, items, toCents(o.TotalAmount), toCents(o.TotalDiscount),
			string(o.PaymentMethod), string(model.OrderStatusPending), o.TxHash, o.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.Hash)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if err := insertEvent(ctx, tx, model.AuditRecord{
			ID:        uuid.NewString(),
			OrderHash: o.Hash,
			To:        model.OrderStatusPending,
			Actor:     "checkout",
			TxHash:    o.TxHash,
			At:        o.CreatedAt,
		}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.receipts.Add(o.ReceiptNumber, o.Hash)
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, hash string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx, selectOrderColumns+` WHERE hash = $1`, hash))
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrderByReceipt находит заказ по номеру чека. Номер чека — только псевдоним идентификатора.
func (r *PostgresRepository) GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error) {
	if cached, ok := r.receipts.Get(receipt); ok {
		if hash, ok := cached.(string); ok {
			return r.GetOrder(ctx, hash)
		}
	}

	o, err := scanOrder(r.pool.QueryRow(ctx, selectOrderColumns+` WHERE receipt_number = $1`, receipt))
	if err != nil {
		return nil, err
	}

	r.receipts.Add(receipt, o.Hash)
	return o, nil
}

// TransitionOrder меняет статус заказа, если текущий статус совпадает с ожидаемым.
// Строка заказа блокируется на время подтверждения, поэтому параллельные переходы по
// одному заказу выполняются по очереди, а успешным окажется только первый.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, req TransitionRequest, confirm ConfirmFunc) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, selectOrderColumns+` WHERE hash = $1 FOR UPDATE`, req.Hash))
	if err != nil {
		return nil, err
	}

	if err := checkTransition(req, o.Status); err != nil {
		return nil, err
	}

	txHash := o.TxHash
	if confirm != nil {
		h, err := confirm(ctx, *o)
		if err != nil {
			return nil, fmt.Errorf("confirm transition: %w", err)
		}
		if h != "" {
			txHash = h
		}
	}

	now := time.Now().UTC()
	cmdTag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, tx_hash = $3, updated_at = $4 WHERE hash = $1 AND status = $5`,
		req.Hash, string(req.To), txHash, now, string(req.From),
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return nil, &ConflictError{Hash: req.Hash, Expected: req.From, Current: o.Status}
	}

	if err := insertEvent(ctx, tx, model.AuditRecord{
		ID:             uuid.NewString(),
		OrderHash:      req.Hash,
		From:           req.From,
		To:             req.To,
		Actor:          req.Actor,
		TxHash:         txHash,
		ConfirmationID: req.ConfirmationID,
		At:             now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	o.Status = req.To
	o.TxHash = txHash
	o.UpdatedAt = now
	return o, nil
}

// GetOrderHistory возвращает журнал переходов заказа в порядке записи.
func (r *PostgresRepository) GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, order_hash, from_status, to_status, actor, tx_hash,
			COALESCE(confirmation_id, ''), created_at
		 FROM order_events
		 WHERE order_hash = $1
		 ORDER BY seq`,
		hash,
	)
	if err != nil {
		return nil, fmt.Errorf("select order events: %w", err)
	}
	defer rows.Close()

	var res []model.AuditRecord
	for rows.Next() {
		var (
			rec        model.AuditRecord
			fromStatus string
			toStatus   string
		)
		if err := rows.Scan(&rec.ID, &rec.OrderHash, &fromStatus, &toStatus, &rec.Actor, &rec.TxHash,
			&rec.ConfirmationID, &rec.At); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		rec.From = model.OrderStatus(fromStatus)
		rec.To = model.OrderStatus(toStatus)
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetOrdersByStore возвращает последние заказы магазина.
func (r *PostgresRepository) GetOrdersByStore(ctx context.Context, storeID string, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		selectOrderColumns+`
		 WHERE store_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		storeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, rec model.AuditRecord) error {
	var confirmationID *string
	if rec.ConfirmationID != "" {
		confirmationID = &rec.ConfirmationID
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO order_events (id, order_hash, from_status, to_status, actor, tx_hash, confirmation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OrderHash, string(rec.From), string(rec.To), rec.Actor, rec.TxHash, confirmationID, rec.At,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: order %s", ErrDuplicateConfirmation, rec.OrderHash)
		}
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		items         []byte
		totalCents    int64
		discountCents int64
		method        string
		status        string
	)

	err := row.Scan(&o.Hash, &o.ReceiptNumber, &o.StoreID, &items, &totalCents, &discountCents,
		&method, &status, &o.TxHash, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	o.TotalAmount = fromCents(totalCents)
	o.TotalDiscount = fromCents(discountCents)
	o.PaymentMethod = model.PaymentMethod(method)
	o.Status = model.OrderStatus(status)

	return &o, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
