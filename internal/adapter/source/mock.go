package source

import (
	"context"
	"fmt"
	"time"

	"currency-conversion-service/internal/domain/model"
)

// Static serves rates from a fixed table, for local runs without network
// access. The inverse of every configured pair is derived, and pairs that
// are still missing are crossed through USD.
type Static struct {
	rates   map[model.CurrencyPair]float64
	latency time.Duration
}

func NewStatic(rates map[model.CurrencyPair]float64, latency time.Duration) *Static {
	table := make(map[model.CurrencyPair]float64, len(rates)*2)
	for pair, rate := range rates {
		table[pair] = rate
		if _, ok := rates[pair.Inverse()]; !ok && rate != 0 {
			table[pair.Inverse()] = 1 / rate
		}
	}

	perUSD := map[model.Currency]float64{model.USD: 1}
	for pair, rate := range table {
		if pair.Base == model.USD && rate > 0 {
			perUSD[pair.Quote] = rate
		}
	}
	for from, fromRate := range perUSD {
		for to, toRate := range perUSD {
			if from == to {
				continue
			}
			pair := model.NewCurrencyPair(from, to)
			if _, ok := table[pair]; !ok {
				table[pair] = toRate / fromRate
			}
		}
	}
	return &Static{rates: table, latency: latency}
}

func (s *Static) Name() string { return "mock" }

func (s *Static) FetchRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rate, ok := s.rates[pair]
	if !ok {
		return nil, fmt.Errorf("%w: no static rate for %s", model.ErrUnsupportedPair, pair)
	}
	return &model.RateEntry{Pair: pair, Rate: rate}, nil
}
