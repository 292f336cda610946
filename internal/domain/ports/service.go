package ports

import (
	"context"

	"currency-conversion-service/internal/domain/model"
)

type ConversionService interface {
	GetRate(ctx context.Context, from, to model.Currency) (*model.RateEntry, error)
	Convert(ctx context.Context, request model.ConversionRequest) (*model.ConversionResult, error)
}
