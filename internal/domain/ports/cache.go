package ports

import (
	"context"

	"currency-conversion-service/internal/domain/model"
)

type RateCache interface {
	GetRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error)
	IsStale(entry *model.RateEntry) bool
	Warm(ctx context.Context, pairs []model.CurrencyPair) error
}
