package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyEUR is the ISO 4217 code for Euro, the only currency the
// membership fee is collected in today.
const CurrencyEUR = "EUR"

// Money represents a monetary amount with currency.
// Uses decimal.Decimal for precise financial calculations.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// NewMoneyFromString creates Money from a string amount such as "16.00".
func NewMoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// MinorUnits returns the amount in minor currency units (cents),
// which is what payment provider APIs expect.
func (m Money) MinorUnits() int64 {
	return m.Amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// IsPositive returns true if amount > 0.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// String returns the amount followed by the currency code.
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}
