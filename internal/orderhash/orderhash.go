// Package orderhash выпускает неподбираемые идентификаторы заказов.
package orderhash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/scango-gate/internal/model"
)

// Prefix отмечает формат идентификатора заказа.
const Prefix = "0x"

const nonceSize = 16

// ErrRandomUnavailable возвращается, если источник криптографически стойких случайных чисел недоступен.
var ErrRandomUnavailable = errors.New("secure random source unavailable")

// randReader подменяется в тестах.
var randReader io.Reader = rand.Reader

type mintPayload struct {
	Cart      []model.Item    `json:"cart"`
	Total     decimal.Decimal `json:"total"`
	StoreID   string          `json:"storeId"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
}

// Mint вычисляет идентификатор заказа: SHA-256 от канонического JSON корзины, суммы,
// магазина, времени и случайного nonce. Одинаковые корзины дают разные идентификаторы.
func Mint(cart []model.Item, total decimal.Decimal, storeID string, ts time.Time) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}

	payload, err := json.Marshal(mintPayload{
		Cart:      cart,
		Total:     total,
		StoreID:   storeID,
		Timestamp: ts.UnixMilli(),
		Nonce:     hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("marshal order payload: %w", err)
	}

	sum := sha256.Sum256(payload)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

// NewReceiptNumber возвращает номер чека для покупателя вида RCP-20260102-1A2B3C4D.
// Номер чека используется только для отображения и поиска, но не как ключ изменений.
func NewReceiptNumber(ts time.Time) (string, error) {
	id, err := uuid.NewRandomFromReader(randReader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("RCP-%s-%s", ts.UTC().Format("20060102"), suffix), nil
}
