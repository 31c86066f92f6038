package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/scango-gate/internal/model"
	"github.com/mmeshcher/scango-gate/internal/validation"
)

// ResultStatus — статус ответа, который видят кассир, охранник и приложение покупателя.
type ResultStatus string

const (
	StatusPaidConfirmed  ResultStatus = "PAID_CONFIRMED"
	StatusAlreadyPaid    ResultStatus = "ALREADY_PAID"
	StatusExitAllowed    ResultStatus = "EXIT_ALLOWED"
	StatusPaymentPending ResultStatus = "PAYMENT_PENDING"
	StatusQRUsed         ResultStatus = "QR_USED"
	StatusInvalidQR      ResultStatus = "INVALID_QR"
	StatusOfflineOrder   ResultStatus = "OFFLINE_ORDER"
	StatusNetworkError   ResultStatus = "NETWORK_ERROR"
	StatusInvalidInput   ResultStatus = "INVALID_INPUT"
)

var (
	// ErrInvalidInput возвращается, если в запросе нет обязательных данных.
	ErrInvalidInput = validation.ErrInvalidInput
	// ErrInvalidQR возвращается, если QR-код не соответствует ни одному заказу.
	ErrInvalidQR = errors.New("invalid qr code")
	// ErrOfflineOrder возвращается для заказов, оформленных без связи и отсутствующих в реестре.
	ErrOfflineOrder = errors.New("offline order cannot be confirmed")
	// ErrPaymentPending возвращается при попытке выхода по неоплаченному заказу.
	ErrPaymentPending = errors.New("payment pending")
	// ErrQRUsed возвращается при повторном предъявлении QR-кода, по которому выход уже разрешён.
	ErrQRUsed = errors.New("qr code already used")
	// ErrInvalidState возвращается, если статус заказа не допускает операцию.
	ErrInvalidState = errors.New("order is in terminal state")
	// ErrNetwork возвращается, если хранилище или реестр недоступны. Операцию можно повторить.
	ErrNetwork = errors.New("network error")
)

// CheckoutResult описывает оформленный заказ и содержимое QR-кода для покупателя.
type CheckoutResult struct {
	Order     *model.Order
	QRPayload string
	// AutoPayStatus заполнен, если для онлайн-оплаты выполнялось автоматическое подтверждение.
	AutoPayStatus ResultStatus
}

// PaymentResult описывает результат подтверждения оплаты.
type PaymentResult struct {
	Success   bool
	Status    ResultStatus
	OrderHash string
	Amount    decimal.Decimal
	Order     *model.Order
	Timestamp time.Time
}

// ExitResult описывает решение о выходе покупателя.
type ExitResult struct {
	Allowed   bool
	Status    ResultStatus
	OrderHash string
	ItemCount int
	Order     *model.Order
	Timestamp time.Time
}
