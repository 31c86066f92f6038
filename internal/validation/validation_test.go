package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/scango-gate/internal/model"
)

func TestIsValidOrderHash(t *testing.T) {
	tests := []struct {
		name  string
		hash  string
		valid bool
	}{
		{
			name:  "minted hash",
			hash:  "0x" + strings.Repeat("ab", 32),
			valid: true,
		},
		{
			name:  "upper case hex",
			hash:  "0x" + strings.Repeat("AB", 32),
			valid: true,
		},
		{
			name:  "missing prefix",
			hash:  strings.Repeat("ab", 32),
			valid: false,
		},
		{
			name:  "short",
			hash:  "0xabc",
			valid: false,
		},
		{
			name:  "non hex",
			hash:  "0x" + strings.Repeat("zz", 32),
			valid: false,
		},
		{
			name:  "receipt number",
			hash:  "RCP-20261019-1A2B3C4D",
			valid: false,
		},
		{
			name:  "empty string",
			hash:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidOrderHash(tt.hash)
			if got != tt.valid {
				t.Fatalf("IsValidOrderHash(%q) = %v, want %v", tt.hash, got, tt.valid)
			}
		})
	}
}

func TestIsOfflineOrderHash(t *testing.T) {
	if !IsOfflineOrderHash("OFFLINE-1700000000") {
		t.Fatalf("expected offline hash to be detected")
	}
	if IsOfflineOrderHash("0x" + strings.Repeat("0", 64)) {
		t.Fatalf("minted hash must not be offline")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		raw     string
		want    model.PaymentMethod
		wantErr bool
	}{
		{raw: "", want: model.PaymentMethodCash},
		{raw: "cash", want: model.PaymentMethodCash},
		{raw: "UPI", want: model.PaymentMethodUPI},
		{raw: " card ", want: model.PaymentMethodCard},
		{raw: "BITCOIN", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePaymentMethod(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParsePaymentMethod(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateCheckout(t *testing.T) {
	item := func(id string, price, mrp int64, qty int) model.Item {
		return model.Item{ID: id, Price: decimal.NewFromInt(price), MRP: decimal.NewFromInt(mrp), Quantity: qty}
	}

	tests := []struct {
		name    string
		cart    []model.Item
		total   int64
		storeID string
		valid   bool
	}{
		{
			name:    "valid cart",
			cart:    []model.Item{item("x", 50, 0, 2)},
			total:   100,
			storeID: "store-001",
			valid:   true,
		},
		{
			name:    "discounted total",
			cart:    []model.Item{item("x", 100, 120, 1)},
			total:   100,
			storeID: "store-001",
			valid:   true,
		},
		{
			name:    "empty cart",
			total:   100,
			storeID: "store-001",
		},
		{
			name:    "missing store",
			cart:    []model.Item{item("x", 50, 0, 2)},
			total:   100,
			storeID: "",
		},
		{
			name:    "zero total",
			cart:    []model.Item{item("x", 50, 0, 2)},
			total:   0,
			storeID: "store-001",
		},
		{
			name:    "zero quantity",
			cart:    []model.Item{item("x", 50, 0, 0)},
			total:   100,
			storeID: "store-001",
		},
		{
			name:    "missing item id",
			cart:    []model.Item{item("", 50, 0, 2)},
			total:   100,
			storeID: "store-001",
		},
		{
			name:    "total above cart value",
			cart:    []model.Item{item("x", 50, 0, 2)},
			total:   150,
			storeID: "store-001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCheckout(tt.cart, decimal.NewFromInt(tt.total), tt.storeID)
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
