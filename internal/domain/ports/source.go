package ports

import (
	"context"

	"currency-conversion-service/internal/domain/model"
)

// RateSource fetches a current rate from an external provider. It must be
// safe to call concurrently for different pairs.
type RateSource interface {
	Name() string
	FetchRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error)
}
