package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/internal/domain/ports"
	"currency-conversion-service/pkg/logger"
)

// identitySource tags same-currency results, which never touch the cache.
const identitySource = "identity"

type ConversionService struct {
	cache             ports.RateCache
	supported         model.CurrencySet
	defaultMinorUnits int32
	minorUnits        map[model.Currency]int32
	now               func() time.Time
	log               *logger.Logger
}

type Option func(*ConversionService)

// WithMinorUnits sets the rounding precision per target currency. Currencies
// missing from overrides round to def places.
func WithMinorUnits(def int32, overrides map[model.Currency]int32) Option {
	return func(s *ConversionService) {
		s.defaultMinorUnits = def
		for c, units := range overrides {
			s.minorUnits[c] = units
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ConversionService) { s.now = now }
}

func NewConversionService(cache ports.RateCache, supported model.CurrencySet, log *logger.Logger, opts ...Option) *ConversionService {
	if len(supported) == 0 {
		supported = model.NewCurrencySet(model.SupportedCurrencies...)
	}

	s := &ConversionService{
		cache:             cache,
		supported:         supported,
		defaultMinorUnits: model.DefaultMinorUnits,
		minorUnits:        make(map[model.Currency]int32, len(model.MinorUnits)),
		now:               time.Now,
		log:               log,
	}
	for c, units := range model.MinorUnits {
		s.minorUnits[c] = units
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRate returns the cached rate for from→to. A same-currency pair is
// answered with rate 1 without consulting the cache.
func (s *ConversionService) GetRate(ctx context.Context, from, to model.Currency) (*model.RateEntry, error) {
	pair, err := s.validatePair(from, to)
	if err != nil {
		return nil, err
	}

	if from == to {
		return &model.RateEntry{Pair: pair, Rate: 1, FetchedAt: s.now(), Source: identitySource}, nil
	}

	entry, err := s.cache.GetRate(ctx, pair)
	if err != nil {
		s.log.Error("Failed to get rate", "pair", pair.String(), "error", err)
		return nil, err
	}
	return entry, nil
}

// Convert computes quantity × rate rounded half-to-even to the target
// currency's minor units.
func (s *ConversionService) Convert(ctx context.Context, request model.ConversionRequest) (*model.ConversionResult, error) {
	q := request.Quantity
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidQuantity, q)
	}

	pair, err := s.validatePair(request.FromCurrency, request.ToCurrency)
	if err != nil {
		return nil, err
	}

	quantity := decimal.NewFromFloat(q)
	units := s.minorUnitsFor(pair.Quote)

	if pair.Base == pair.Quote {
		// unchanged, so keep every digit the caller sent
		if exp := -quantity.Exponent(); exp > units {
			units = exp
		}
		return &model.ConversionResult{
			FromCurrency:  pair.Base,
			ToCurrency:    pair.Quote,
			Quantity:      q,
			Amount:        quantity,
			MinorUnits:    units,
			Rate:          1,
			RateFetchedAt: s.now(),
			Source:        identitySource,
		}, nil
	}

	entry, err := s.cache.GetRate(ctx, pair)
	if err != nil {
		s.log.Error("Failed to get rate for conversion", "pair", pair.String(), "error", err)
		return nil, err
	}

	amount := quantity.Mul(decimal.NewFromFloat(entry.Rate)).RoundBank(units)
	stale := s.cache.IsStale(entry)
	if stale {
		s.log.Warn("Converting with stale rate", "pair", pair.String(), "fetched_at", entry.FetchedAt)
	}

	return &model.ConversionResult{
		FromCurrency:  pair.Base,
		ToCurrency:    pair.Quote,
		Quantity:      q,
		Amount:        amount,
		MinorUnits:    units,
		Rate:          entry.Rate,
		RateFetchedAt: entry.FetchedAt,
		Source:        entry.Source,
		Stale:         stale,
	}, nil
}

// WarmRates preloads pairs into the cache. Failures are returned but leave
// the service usable; those pairs are fetched on first request instead.
func (s *ConversionService) WarmRates(ctx context.Context, pairs []model.CurrencyPair) error {
	valid := make([]model.CurrencyPair, 0, len(pairs))
	for _, pair := range pairs {
		if _, err := s.validatePair(pair.Base, pair.Quote); err != nil || pair.Base == pair.Quote {
			s.log.Warn("Skipping warm-up pair", "pair", pair.String())
			continue
		}
		valid = append(valid, pair)
	}
	if len(valid) == 0 {
		return nil
	}

	s.log.Info("Warming rate cache", "pairs", len(valid))
	return s.cache.Warm(ctx, valid)
}

func (s *ConversionService) validatePair(from, to model.Currency) (model.CurrencyPair, error) {
	if !s.supported.Contains(from) {
		return model.CurrencyPair{}, fmt.Errorf("%w: unsupported currency %q", model.ErrInvalidPair, from)
	}
	if !s.supported.Contains(to) {
		return model.CurrencyPair{}, fmt.Errorf("%w: unsupported currency %q", model.ErrInvalidPair, to)
	}
	return model.NewCurrencyPair(from, to), nil
}

func (s *ConversionService) minorUnitsFor(c model.Currency) int32 {
	if units, ok := s.minorUnits[c]; ok {
		return units
	}
	return s.defaultMinorUnits
}
