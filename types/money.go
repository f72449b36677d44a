package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money is a monetary value held in the currency's smallest unit. Plan
// prices are display-only here (credits are the billing currency), but the
// arithmetic stays integer-only regardless.
//
// USD(4900) is $49.00; EUR(19900) is €199.00.
type Money struct {
	Amount   int64  `json:"amount"`   // smallest unit: cents, pence, yen
	Currency string `json:"currency"` // ISO 4217, lowercase
}

// USD builds a Money value from US cents.
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR builds a Money value from Euro cents.
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP builds a Money value from pence.
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns the zero value in the given currency.
func Zero(currency string) Money { return Money{Currency: strings.ToLower(currency)} }

// Add returns the sum. Panics on a currency mismatch.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	m.Amount += other.Amount
	return m
}

// Subtract returns the difference. Panics on a currency mismatch.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	m.Amount -= other.Amount
	return m
}

// Multiply scales the amount by a quantity.
func (m Money) Multiply(qty int64) Money {
	m.Amount *= qty
	return m
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan compares amounts. Panics on a currency mismatch.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// FormatMajor renders the amount in major units without a symbol:
// "49.00" for USD(4900), "100" for 100 yen.
func (m Money) FormatMajor() string {
	if currencyDecimals(m.Currency) == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	amt := m.Amount
	sign := ""
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	return fmt.Sprintf("%s%d.%02d", sign, amt/100, amt%100)
}

// String renders the amount with its currency symbol: "$49.00", "€199.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON emits amount and currency plus a preformatted display string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{m.Amount, m.Currency, m.String()})
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy", "cny":
		return "¥"
	default:
		return strings.ToUpper(currency) + " "
	}
}

// currencyDecimals reports minor-unit digits. Only the common zero-decimal
// currencies are special-cased; everything else uses two.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd":
		return 0
	default:
		return 2
	}
}
