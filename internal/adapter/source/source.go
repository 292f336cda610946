// Package source holds the upstream rate providers behind ports.RateSource.
package source

import (
	"fmt"

	"currency-conversion-service/internal/config"
	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/internal/domain/ports"
	"currency-conversion-service/pkg/logger"
)

// New builds the provider named by cfg.Name.
func New(cfg config.SourceConfig, log *logger.Logger) (ports.RateSource, error) {
	clientCfg := ClientConfig{
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerCooldown:   cfg.BreakerCooldown,
	}
	log = log.With("source", cfg.Name)

	switch cfg.Name {
	case "coindesk":
		return NewCoinDesk(cfg.BaseURL, clientCfg, log), nil
	case "exchangerate":
		return NewExchangeRateAPI(cfg.BaseURL, cfg.APIKey, clientCfg, log), nil
	case "mock":
		rates := make(map[model.CurrencyPair]float64, len(cfg.MockRates))
		for key, rate := range cfg.MockRates {
			pair, err := model.ParseCurrencyPair(key)
			if err != nil {
				return nil, fmt.Errorf("invalid mock rate key: %w", err)
			}
			rates[pair] = rate
		}
		return NewStatic(rates, cfg.MockLatency), nil
	}
	return nil, fmt.Errorf("unknown rate source %q", cfg.Name)
}
