// Package qr описывает содержимое QR-кода, который покупатель предъявляет кассиру и охраннику.
package qr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload — данные QR-кода заказа.
type Payload struct {
	OrderHash     string `json:"orderHash"`
	TxHash        string `json:"txHash"`
	ReceiptNumber string `json:"receiptNumber"`
}

// Encode сериализует данные QR-кода в строку.
func Encode(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal qr payload: %w", err)
	}
	return string(b), nil
}

// Parse разбирает отсканированную строку. Если это не JSON-объект, вся строка
// считается идентификатором заказа.
func Parse(scanned string) Payload {
	s := strings.TrimSpace(scanned)
	if strings.HasPrefix(s, "{") {
		var p Payload
		if err := json.Unmarshal([]byte(s), &p); err == nil {
			p.OrderHash = strings.TrimSpace(p.OrderHash)
			p.ReceiptNumber = strings.TrimSpace(p.ReceiptNumber)
			return p
		}
	}
	return Payload{OrderHash: s}
}

// IsEmpty сообщает, что в QR-коде нет ни идентификатора заказа, ни номера чека.
func (p Payload) IsEmpty() bool {
	return p.OrderHash == "" && p.ReceiptNumber == ""
}
