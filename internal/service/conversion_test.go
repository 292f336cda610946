package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/pkg/logger"
)

type MockRateCache struct {
	mock.Mock
}

func (m *MockRateCache) GetRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RateEntry), args.Error(1)
}

func (m *MockRateCache) IsStale(entry *model.RateEntry) bool {
	return m.Called(entry).Bool(0)
}

func (m *MockRateCache) Warm(ctx context.Context, pairs []model.CurrencyPair) error {
	return m.Called(ctx, pairs).Error(0)
}

var fetchedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rateEntry(base, quote model.Currency, rate float64) *model.RateEntry {
	return &model.RateEntry{
		Pair:      model.NewCurrencyPair(base, quote),
		Rate:      rate,
		FetchedAt: fetchedAt,
		Source:    "coindesk",
	}
}

func newTestService(cache *MockRateCache, opts ...Option) *ConversionService {
	return NewConversionService(cache, model.NewCurrencySet(model.SupportedCurrencies...), logger.Discard(), opts...)
}

func TestConversionService_Convert(t *testing.T) {
	testCases := []struct {
		name     string
		request  model.ConversionRequest
		rate     float64
		expected string
	}{
		{
			name:     "two decimal places",
			request:  model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: 100},
			rate:     0.92,
			expected: "92.00",
		},
		{
			name:     "half to even rounds down",
			request:  model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: 1},
			rate:     1.125,
			expected: "1.12",
		},
		{
			name:     "half to even rounds up",
			request:  model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: 1},
			rate:     1.135,
			expected: "1.14",
		},
		{
			name:     "yen has no minor units",
			request:  model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.JPY, Quantity: 10},
			rate:     150.55,
			expected: "1506",
		},
		{
			name:     "zero quantity",
			request:  model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: 0},
			rate:     0.92,
			expected: "0.00",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := new(MockRateCache)
			entry := rateEntry(tc.request.FromCurrency, tc.request.ToCurrency, tc.rate)
			cache.On("GetRate", mock.Anything, entry.Pair).Return(entry, nil)
			cache.On("IsStale", entry).Return(false)

			result, err := newTestService(cache).Convert(context.Background(), tc.request)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result.Amount.StringFixed(result.MinorUnits))
			assert.Equal(t, tc.rate, result.Rate)
			assert.Equal(t, fetchedAt, result.RateFetchedAt)
			assert.Equal(t, "coindesk", result.Source)
			assert.False(t, result.Stale)
			cache.AssertExpectations(t)
		})
	}
}

func TestConversionService_ConvertSameCurrency(t *testing.T) {
	cache := new(MockRateCache)
	svc := newTestService(cache)

	result, err := svc.Convert(context.Background(), model.ConversionRequest{
		FromCurrency: model.USD, ToCurrency: model.USD, Quantity: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "100.00", result.Amount.StringFixed(result.MinorUnits))
	assert.Equal(t, 1.0, result.Rate)

	result, err = svc.Convert(context.Background(), model.ConversionRequest{
		FromCurrency: model.EUR, ToCurrency: model.EUR, Quantity: 12.345,
	})
	require.NoError(t, err)
	assert.Equal(t, "12.345", result.Amount.StringFixed(result.MinorUnits))

	cache.AssertNotCalled(t, "GetRate", mock.Anything, mock.Anything)
}

func TestConversionService_ConvertInvalidInput(t *testing.T) {
	testCases := []struct {
		name    string
		request model.ConversionRequest
		err     error
	}{
		{"negative quantity", model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: -1}, model.ErrInvalidQuantity},
		{"NaN quantity", model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: math.NaN()}, model.ErrInvalidQuantity},
		{"infinite quantity", model.ConversionRequest{FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: math.Inf(1)}, model.ErrInvalidQuantity},
		{"unknown from", model.ConversionRequest{FromCurrency: "XXX", ToCurrency: model.EUR, Quantity: 1}, model.ErrInvalidPair},
		{"empty to", model.ConversionRequest{FromCurrency: model.USD, ToCurrency: "", Quantity: 1}, model.ErrInvalidPair},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := new(MockRateCache)
			_, err := newTestService(cache).Convert(context.Background(), tc.request)
			assert.ErrorIs(t, err, tc.err)
			cache.AssertNotCalled(t, "GetRate", mock.Anything, mock.Anything)
		})
	}
}

func TestConversionService_ConvertPropagatesCacheErrors(t *testing.T) {
	pair := model.NewCurrencyPair(model.USD, model.EUR)
	testCases := []struct {
		name string
		err  error
	}{
		{"upstream failure", model.NewUpstreamError(model.ReasonTimeout, context.DeadlineExceeded)},
		{"unsupported pair", model.ErrUnsupportedPair},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := new(MockRateCache)
			cache.On("GetRate", mock.Anything, pair).Return(nil, tc.err)

			_, err := newTestService(cache).Convert(context.Background(), model.ConversionRequest{
				FromCurrency: model.USD, ToCurrency: model.EUR, Quantity: 10,
			})
			assert.True(t, errors.Is(err, tc.err))
		})
	}
}

func TestConversionService_ConvertStaleRate(t *testing.T) {
	cache := new(MockRateCache)
	entry := rateEntry(model.USD, model.GBP, 0.8)
	cache.On("GetRate", mock.Anything, entry.Pair).Return(entry, nil)
	cache.On("IsStale", entry).Return(true)

	result, err := newTestService(cache).Convert(context.Background(), model.ConversionRequest{
		FromCurrency: model.USD, ToCurrency: model.GBP, Quantity: 5,
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, "4.00", result.Amount.StringFixed(result.MinorUnits))
}

func TestConversionService_ConvertIsIdempotent(t *testing.T) {
	cache := new(MockRateCache)
	entry := rateEntry(model.EUR, model.INR, 89.1234)
	cache.On("GetRate", mock.Anything, entry.Pair).Return(entry, nil)
	cache.On("IsStale", entry).Return(false)
	svc := newTestService(cache)

	request := model.ConversionRequest{FromCurrency: model.EUR, ToCurrency: model.INR, Quantity: 3.33}
	first, err := svc.Convert(context.Background(), request)
	require.NoError(t, err)
	second, err := svc.Convert(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConversionService_ConfiguredMinorUnits(t *testing.T) {
	cache := new(MockRateCache)
	entry := rateEntry(model.USD, model.INR, 83.123456)
	cache.On("GetRate", mock.Anything, entry.Pair).Return(entry, nil)
	cache.On("IsStale", entry).Return(false)

	svc := newTestService(cache, WithMinorUnits(2, map[model.Currency]int32{model.INR: 4}))
	result, err := svc.Convert(context.Background(), model.ConversionRequest{
		FromCurrency: model.USD, ToCurrency: model.INR, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), result.MinorUnits)
	assert.Equal(t, "83.1235", result.Amount.StringFixed(result.MinorUnits))
}

func TestConversionService_GetRate(t *testing.T) {
	cache := new(MockRateCache)
	entry := rateEntry(model.USD, model.EUR, 0.92)
	cache.On("GetRate", mock.Anything, entry.Pair).Return(entry, nil)
	svc := newTestService(cache, WithClock(func() time.Time { return fetchedAt }))

	got, err := svc.GetRate(context.Background(), model.USD, model.EUR)
	require.NoError(t, err)
	assert.Same(t, entry, got)

	same, err := svc.GetRate(context.Background(), model.GBP, model.GBP)
	require.NoError(t, err)
	assert.Equal(t, 1.0, same.Rate)
	assert.Equal(t, fetchedAt, same.FetchedAt)

	_, err = svc.GetRate(context.Background(), "ABC", model.EUR)
	assert.ErrorIs(t, err, model.ErrInvalidPair)
	cache.AssertNumberOfCalls(t, "GetRate", 1)
}

func TestConversionService_WarmRates(t *testing.T) {
	cache := new(MockRateCache)
	want := []model.CurrencyPair{model.NewCurrencyPair(model.USD, model.EUR)}
	cache.On("Warm", mock.Anything, want).Return(nil)

	err := newTestService(cache).WarmRates(context.Background(), []model.CurrencyPair{
		model.NewCurrencyPair(model.USD, model.EUR),
		model.NewCurrencyPair(model.USD, model.USD),
		model.NewCurrencyPair("ZZZ", model.EUR),
	})
	require.NoError(t, err)
	cache.AssertExpectations(t)
}
