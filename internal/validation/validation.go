// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/scango-gate/internal/model"
)

const (
	orderHashPrefix = "0x"
	orderHashHexLen = 64
	offlinePrefix   = "OFFLINE"
)

// ErrInvalidInput возвращается, если запрос на оформление заказа не содержит обязательных данных.
var ErrInvalidInput = errors.New("invalid input")

// IsValidOrderHash проверяет формат идентификатора заказа: префикс 0x и 64 шестнадцатеричных символа.
func IsValidOrderHash(hash string) bool {
	if !strings.HasPrefix(hash, orderHashPrefix) {
		return false
	}

	digits := hash[len(orderHashPrefix):]
	if len(digits) != orderHashHexLen {
		return false
	}

	for i := 0; i < len(digits); i++ {
		c := digits[i]
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}

	return true
}

// IsOfflineOrderHash сообщает, что идентификатор выпущен приложением без связи и в реестре отсутствует.
func IsOfflineOrderHash(hash string) bool {
	return strings.HasPrefix(hash, offlinePrefix)
}

// ParsePaymentMethod нормализует способ оплаты; пустое значение означает оплату наличными на кассе.
func ParsePaymentMethod(raw string) (model.PaymentMethod, error) {
	switch m := model.PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))); m {
	case "":
		return model.PaymentMethodCash, nil
	case model.PaymentMethodUPI, model.PaymentMethodCard, model.PaymentMethodCash:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, raw)
	}
}

// ValidateCheckout проверяет корзину, сумму и магазин перед выпуском идентификатора заказа.
func ValidateCheckout(cart []model.Item, total decimal.Decimal, storeID string) error {
	if len(cart) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(storeID) == "" {
		return fmt.Errorf("%w: storeId is required", ErrInvalidInput)
	}
	if !total.IsPositive() {
		return fmt.Errorf("%w: total must be positive", ErrInvalidInput)
	}

	mrpTotal := decimal.Zero
	for i, it := range cart {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("%w: cart[%d].id is required", ErrInvalidInput, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: cart[%d].qty must be positive", ErrInvalidInput, i)
		}
		if it.Price.IsNegative() || it.MRP.IsNegative() {
			return fmt.Errorf("%w: cart[%d] price must not be negative", ErrInvalidInput, i)
		}
		mrpTotal = mrpTotal.Add(it.LineMRP())
	}

	if total.GreaterThan(mrpTotal) {
		return fmt.Errorf("%w: total %s exceeds cart value %s", ErrInvalidInput, total.StringFixed(2), mrpTotal.StringFixed(2))
	}

	return nil
}
