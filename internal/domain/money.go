package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

// DefaultCurrency is used when a caller does not name one.
const DefaultCurrency = "VND"

const moneyScale = 2

// Money is an immutable non-negative amount in a single currency, held at
// two fractional digits.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney validates amount and currency. Amounts that do not survive
// rounding to two decimal places are rejected rather than rounded.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, errors.ErrInvalidMoney.WithDetails("amount cannot be negative")
	}
	if !amount.Equal(amount.Round(moneyScale)) {
		return Money{}, errors.ErrInvalidMoney.WithDetails(
			fmt.Sprintf("amount %s has more than %d decimal places", amount.String(), moneyScale))
	}
	code, err := normalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount.Round(moneyScale), currency: code}, nil
}

// MustMoney panics on invalid input. Intended for constants and tests.
func MustMoney(amount string, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := NewMoney(d, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroMoney returns a zero amount in currency.
func ZeroMoney(currency string) (Money, error) {
	return NewMoney(decimal.Zero, currency)
}

func normalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return "", errors.ErrInvalidMoney.WithDetails("currency is required")
	}
	if len(code) != 3 {
		return "", errors.ErrInvalidMoney.WithDetails(fmt.Sprintf("currency %q must be a 3-letter code", currency))
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", errors.ErrInvalidMoney.WithDetails(fmt.Sprintf("currency %q must be a 3-letter code", currency))
		}
	}
	return code, nil
}

func (m Money) Amount() decimal.Decimal {
	return m.amount
}

func (m Money) Currency() string {
	return m.currency
}

func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return errors.ErrCurrencyMismatch.WithDetails(
			fmt.Sprintf("cannot combine %s with %s", other.currency, m.currency))
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract fails with InvalidMoney when the result would go below zero.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, errors.ErrInvalidMoney.WithDetails(
			fmt.Sprintf("subtracting %s from %s would be negative", other, m))
	}
	return Money{amount: result, currency: m.currency}, nil
}

func (m Money) IsLessThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.LessThan(other.amount), nil
}

func (m Money) IsGreaterThanOrEqual(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.GreaterThanOrEqual(other.amount), nil
}

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(moneyScale) + " " + m.currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(moneyScale), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return errors.ErrInvalidMoney.WithDetails(err.Error())
	}
	parsed, err := NewMoney(amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
