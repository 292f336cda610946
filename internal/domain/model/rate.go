package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPair is comparable and used directly as a cache key.
type CurrencyPair struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

func NewCurrencyPair(base, quote Currency) CurrencyPair {
	return CurrencyPair{Base: base, Quote: quote}
}

// ParseCurrencyPair accepts "USD/EUR" or "USD-EUR".
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' })
	if len(parts) != 2 {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return NewCurrencyPair(ParseCurrency(parts[0]), ParseCurrency(parts[1])), nil
}

func (p CurrencyPair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Quote, Quote: p.Base}
}

// RateEntry is never mutated after construction. A refresh replaces the
// whole entry.
type RateEntry struct {
	Pair      CurrencyPair `json:"pair"`
	Rate      float64      `json:"rate"`
	FetchedAt time.Time    `json:"fetched_at"`
	Source    string       `json:"source"`
}

// Validate reports whether the rate is usable for conversion.
func (e *RateEntry) Validate() error {
	if e == nil {
		return fmt.Errorf("empty rate entry")
	}
	if math.IsNaN(e.Rate) || math.IsInf(e.Rate, 0) || e.Rate <= 0 {
		return fmt.Errorf("rate for %s is not a positive finite number: %v", e.Pair, e.Rate)
	}
	return nil
}

func (e *RateEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

type ConversionRequest struct {
	FromCurrency Currency `json:"from_currency"`
	ToCurrency   Currency `json:"to_currency"`
	Quantity     float64  `json:"quantity"`
}

type ConversionResult struct {
	FromCurrency  Currency        `json:"from_currency"`
	ToCurrency    Currency        `json:"to_currency"`
	Quantity      float64         `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	MinorUnits    int32           `json:"minor_units"`
	Rate          float64         `json:"rate"`
	RateFetchedAt time.Time       `json:"rate_fetched_at"`
	Source        string          `json:"source,omitempty"`
	Stale         bool            `json:"stale"`
}
