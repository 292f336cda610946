package model

import "strings"

type Currency string

const (
	USD Currency = "USD"
	INR Currency = "INR"
	EUR Currency = "EUR"
	JPY Currency = "JPY"
	GBP Currency = "GBP"
)

var SupportedCurrencies = []Currency{USD, INR, EUR, JPY, GBP}

// DefaultMinorUnits is used for any currency without an explicit entry in
// MinorUnits or in configuration.
const DefaultMinorUnits int32 = 2

var MinorUnits = map[Currency]int32{
	JPY: 0,
}

// ParseCurrency normalizes user input the way clients tend to send it
// ("usd", " Eur ").
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

func (c Currency) String() string {
	return string(c)
}

// CurrencySet is the configured set of accepted currency codes.
type CurrencySet map[Currency]struct{}

func NewCurrencySet(codes ...Currency) CurrencySet {
	set := make(CurrencySet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

func (s CurrencySet) Contains(c Currency) bool {
	_, ok := s[c]
	return ok
}
