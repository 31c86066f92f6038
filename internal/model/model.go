// Package model содержит доменные сущности сервиса выхода scan-and-go.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа в жизненном цикле оплаты и выхода.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusVerified OrderStatus = "VERIFIED"
	OrderStatusFailed   OrderStatus = "FAILED"
	// OrderStatusUsed встречается в данных реестра и означает то же, что VERIFIED.
	OrderStatusUsed OrderStatus = "USED"
)

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusVerified, OrderStatusUsed, OrderStatusFailed:
		return true
	}
	return false
}

// ExitAuthorized сообщает, что выход по заказу уже был разрешён.
func (s OrderStatus) ExitAuthorized() bool {
	return s == OrderStatusVerified || s == OrderStatusUsed
}

// CanTransition проверяет, что переход from -> to разрешён жизненным циклом заказа.
func CanTransition(from, to OrderStatus) bool {
	switch {
	case from == OrderStatusPending && to == OrderStatusPaid:
		return true
	case from == OrderStatusPaid && to == OrderStatusVerified:
		return true
	case from == OrderStatusPending && to == OrderStatusFailed:
		return true
	}
	return false
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodUPI  PaymentMethod = "UPI"
	PaymentMethodCard PaymentMethod = "CARD"
	PaymentMethodCash PaymentMethod = "CASH"
)

// IsOnline сообщает, что оплата подтверждается без участия кассира.
func (m PaymentMethod) IsOnline() bool {
	return m == PaymentMethodUPI || m == PaymentMethodCard
}

// StaffRole определяет, какие операции доступны сотруднику магазина.
type StaffRole string

const (
	RoleGuard   StaffRole = "GUARD"
	RoleCashier StaffRole = "CASHIER"
	RoleAdmin   StaffRole = "ADMIN"
)

// Valid сообщает, что роль известна.
func (r StaffRole) Valid() bool {
	return r == RoleGuard || r == RoleCashier || r == RoleAdmin
}

// Staff описывает сотрудника, выполнившего вход.
type Staff struct {
	ID   string
	Role StaffRole
}

// Item описывает позицию корзины.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Price    decimal.Decimal `json:"price"`
	MRP      decimal.Decimal `json:"mrp"`
	Quantity int             `json:"qty"`
}

// UnmarshalJSON принимает количество как в поле qty, так и в поле quantity.
func (i *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	aux := struct {
		*plain
		LongQuantity *int `json:"quantity"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if i.Quantity == 0 && aux.LongQuantity != nil {
		i.Quantity = *aux.LongQuantity
	}
	return nil
}

// LineMRP возвращает стоимость позиции по MRP; без MRP используется цена продажи.
func (i Item) LineMRP() decimal.Decimal {
	mrp := i.MRP
	if mrp.IsZero() {
		mrp = i.Price
	}
	return mrp.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order описывает заказ, оформленный через кассу самообслуживания.
type Order struct {
	Hash          string
	ReceiptNumber string
	StoreID       string
	Items         []Item
	TotalAmount   decimal.Decimal
	TotalDiscount decimal.Decimal
	PaymentMethod PaymentMethod
	Status        OrderStatus
	TxHash        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemCount возвращает количество единиц товара в заказе.
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// AuditRecord описывает неизменяемую запись о смене статуса заказа.
type AuditRecord struct {
	ID             string
	OrderHash      string
	From           OrderStatus
	To             OrderStatus
	Actor          string
	TxHash         string
	ConfirmationID string
	At             time.Time
}
