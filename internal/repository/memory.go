package repository

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/mmeshcher/scango-gate/internal/model"
)

const (
	tableOrders = "orders"
	tableEvents = "events"
)

// eventRow хранит запись журнала вместе с порядковым номером записи.
type eventRow struct {
	model.AuditRecord
	Seq uint64
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableOrders: {
				Name: tableOrders,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Hash"},
					},
					"receipt": {
						Name:         "receipt",
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ReceiptNumber"},
					},
					"store": {
						Name:         "store",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "StoreID"},
					},
				},
			},
			tableEvents: {
				Name: tableEvents,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"order": {
						Name:    "order",
						Indexer: &memdb.StringFieldIndex{Field: "OrderHash"},
					},
					"confirmation": {
						Name:         "confirmation",
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ConfirmationID"},
					},
				},
			},
		},
	}
}

// MemoryRepository хранит заказы в памяти процесса. Используется, когда БД не настроена,
// и в тестах. Записи в go-memdb неизменяемы: наружу отдаются только копии.
type MemoryRepository struct {
	db    *memdb.MemDB
	locks *keyLocker
	seq   atomic.Uint64
	now   func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}

	return &MemoryRepository{
		db:    db,
		locks: newKeyLocker(),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close ничего не освобождает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateOrder сохраняет новый заказ в статусе PENDING.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o model.Order) error {
	unlock := r.locks.Lock(o.Hash)
	defer unlock()

	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableOrders, "id", o.Hash)
	if err != nil {
		return fmt.Errorf("lookup order: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.Hash)
	}

	if o.ReceiptNumber != "" {
		existing, err = txn.First(tableOrders, "receipt", o.ReceiptNumber)
		if err != nil {
			return fmt.Errorf("lookup receipt: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: receipt %s", ErrOrderExists, o.ReceiptNumber)
		}
	}

	stored := cloneOrder(&o)
	stored.Status = model.OrderStatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	stored.UpdatedAt = stored.CreatedAt

	if err := txn.Insert(tableOrders, stored); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := r.insertEvent(txn, model.AuditRecord{
		ID:        uuid.NewString(),
		OrderHash: o.Hash,
		To:        model.OrderStatusPending,
		Actor:     "checkout",
		TxHash:    o.TxHash,
		At:        stored.CreatedAt,
	}); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(ctx context.Context, hash string) (*model.Order, error) {
	return r.first("id", hash)
}

// GetOrderByReceipt находит заказ по номеру чека.
func (r *MemoryRepository) GetOrderByReceipt(ctx context.Context, receipt string) (*model.Order, error) {
	return r.first("receipt", receipt)
}

// TransitionOrder меняет статус заказа, если текущий статус совпадает с ожидаемым.
// Блокировка берётся только на ключ заказа, поэтому медленное подтверждение
// одного заказа не задерживает остальные.
func (r *MemoryRepository) TransitionOrder(ctx context.Context, req TransitionRequest, confirm ConfirmFunc) (*model.Order, error) {
	unlock := r.locks.Lock(req.Hash)
	defer unlock()

	current, err := r.first("id", req.Hash)
	if err != nil {
		return nil, err
	}

	if err := checkTransition(req, current.Status); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txHash := current.TxHash
	if confirm != nil {
		h, err := confirm(ctx, *current)
		if err != nil {
			return nil, fmt.Errorf("confirm transition: %w", err)
		}
		if h != "" {
			txHash = h
		}
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableOrders, "id", req.Hash)
	if err != nil {
		return nil, fmt.Errorf("lookup order: %w", err)
	}
	if raw == nil {
		return nil, ErrOrderNotFound
	}
	stored := raw.(*model.Order)
	if stored.Status != req.From {
		return nil, &ConflictError{Hash: req.Hash, Expected: req.From, Current: stored.Status}
	}

	updated := cloneOrder(stored)
	updated.Status = req.To
	updated.TxHash = txHash
	updated.UpdatedAt = r.now()

	if err := txn.Insert(tableOrders, updated); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := r.insertEvent(txn, model.AuditRecord{
		ID:             uuid.NewString(),
		OrderHash:      req.Hash,
		From:           req.From,
		To:             req.To,
		Actor:          req.Actor,
		TxHash:         txHash,
		ConfirmationID: req.ConfirmationID,
		At:             updated.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	txn.Commit()
	return cloneOrder(updated), nil
}

// GetOrderHistory возвращает журнал переходов заказа в порядке записи.
func (r *MemoryRepository) GetOrderHistory(ctx context.Context, hash string) ([]model.AuditRecord, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEvents, "order", hash)
	if err != nil {
		return nil, fmt.Errorf("select order events: %w", err)
	}

	var rows []*eventRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*eventRow))
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })

	res := make([]model.AuditRecord, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.AuditRecord)
	}
	return res, nil
}

// GetOrdersByStore возвращает последние заказы магазина.
func (r *MemoryRepository) GetOrdersByStore(ctx context.Context, storeID string, limit int) ([]model.Order, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableOrders, "store", storeID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	var orders []model.Order
	for obj := it.Next(); obj != nil; obj = it.Next() {
		orders = append(orders, *cloneOrder(obj.(*model.Order)))
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *MemoryRepository) first(index, value string) (*model.Order, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableOrders, index, value)
	if err != nil {
		return nil, fmt.Errorf("lookup order: %w", err)
	}
	if raw == nil {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(raw.(*model.Order)), nil
}

func (r *MemoryRepository) insertEvent(txn *memdb.Txn, rec model.AuditRecord) error {
	if rec.ConfirmationID != "" {
		dup, err := txn.First(tableEvents, "confirmation", rec.ConfirmationID)
		if err != nil {
			return fmt.Errorf("lookup confirmation: %w", err)
		}
		if dup != nil {
			return fmt.Errorf("%w: order %s", ErrDuplicateConfirmation, rec.OrderHash)
		}
	}

	row := &eventRow{AuditRecord: rec, Seq: r.seq.Add(1)}
	if err := txn.Insert(tableEvents, row); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.Item(nil), o.Items...)
	return &c
}
