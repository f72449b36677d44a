package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Complex", func() Money {
			return USD(1000).Add(USD(500)).Multiply(2).Subtract(USD(1000))
		}, USD(2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	// This should panic
	_ = USD(100).Add(EUR(100))
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Money
		less  bool
		equal bool
	}{
		{"Equal", USD(100), USD(100), false, true},
		{"Less", USD(50), USD(100), true, false},
		{"Greater", USD(200), USD(100), false, false},
		{"Zero equal", USD(0), Zero("usd"), false, true},
		{"Negative less", USD(-100), USD(100), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	tests := []struct {
		name       string
		money      Money
		isZero     bool
		isPositive bool
	}{
		{"Zero", USD(0), true, false},
		{"Positive", USD(100), false, true},
		{"Negative", USD(-100), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.money.IsPositive(); got != tt.isPositive {
				t.Errorf("IsPositive: got %v, want %v", got, tt.isPositive)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{USD(4900), "49.00"},
		{USD(100), "1.00"},
		{USD(1), "0.01"},
		{USD(0), "0.00"},
		{USD(-4900), "-49.00"},
		{USD(-1), "-0.01"},
		{EUR(9999), "99.99"},
		{Money{Amount: 100, Currency: "jpy"}, "100"},     // No decimals
		{Money{Amount: 12345, Currency: "jpy"}, "12345"}, // No decimals
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	m := USD(4900)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Amount != 4900 {
		t.Errorf("Amount: got %d, want 4900", decoded.Amount)
	}
	if decoded.Currency != "usd" {
		t.Errorf("Currency: got %s, want usd", decoded.Currency)
	}
	if decoded.Display != "$49.00" {
		t.Errorf("Display: got %s, want $49.00", decoded.Display)
	}
}
