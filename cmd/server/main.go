package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"currency-conversion-service/internal/adapter/cache"
	httpRouter "currency-conversion-service/internal/adapter/http"
	"currency-conversion-service/internal/adapter/source"
	"currency-conversion-service/internal/config"
	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/internal/metrics"
	"currency-conversion-service/internal/service"
	"currency-conversion-service/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger("error").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		logger.NewLogger("error").Error("Failed to build logger", "error", err)
		os.Exit(1)
	}
	log.Info("Starting currency conversion service",
		"source", cfg.Source.Name,
		"freshness_window", cfg.Cache.FreshnessWindow(),
		"stale_policy", cfg.Cache.StalePolicy,
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	rateSource, err := source.New(cfg.Source, log)
	if err != nil {
		log.Error("Failed to create rate source", "error", err)
		os.Exit(1)
	}

	stalePolicy, err := model.ParseStalePolicy(cfg.Cache.StalePolicy)
	if err != nil {
		log.Error("Invalid cache configuration", "error", err)
		os.Exit(1)
	}
	rateCache := cache.NewMemoryCache(rateSource, cfg.Cache.FreshnessWindow(), log,
		cache.WithFetchTimeout(cfg.Cache.FetchTimeout),
		cache.WithStalePolicy(stalePolicy),
		cache.WithMetrics(appMetrics),
	)

	conversionService := service.NewConversionService(rateCache, supportedCurrencies(cfg), log,
		service.WithMinorUnits(cfg.Conversion.DefaultMinorUnits, minorUnits(cfg)),
	)
	handler := httpRouter.NewHandler(conversionService, log, appMetrics)

	router := httpRouter.NewRouter(handler, log, appMetrics, prometheus.DefaultGatherer)
	routes := router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancelWarm := context.WithCancel(context.Background())
	go warmRates(ctx, conversionService, warmPairs(cfg, log), log)

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	cancelWarm()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}

// warmRates loads the configured pairs once at startup so the first requests
// for them are cache hits. Later refreshes happen on demand.
func warmRates(ctx context.Context, svc *service.ConversionService, pairs []model.CurrencyPair, log *logger.Logger) {
	if len(pairs) == 0 {
		return
	}
	if err := svc.WarmRates(ctx, pairs); err != nil {
		log.Error("Failed to warm rates at startup", "error", err)
	}
}

func supportedCurrencies(cfg *config.Config) model.CurrencySet {
	codes := make([]model.Currency, 0, len(cfg.Currencies.Supported))
	for _, code := range cfg.Currencies.Supported {
		codes = append(codes, model.ParseCurrency(code))
	}
	return model.NewCurrencySet(codes...)
}

func minorUnits(cfg *config.Config) map[model.Currency]int32 {
	units := make(map[model.Currency]int32, len(cfg.Conversion.MinorUnits))
	for code, n := range cfg.Conversion.MinorUnits {
		units[model.ParseCurrency(code)] = n
	}
	return units
}

func warmPairs(cfg *config.Config, log *logger.Logger) []model.CurrencyPair {
	pairs := make([]model.CurrencyPair, 0, len(cfg.Cache.WarmPairs))
	for _, raw := range cfg.Cache.WarmPairs {
		pair, err := model.ParseCurrencyPair(raw)
		if err != nil {
			log.Warn("Ignoring invalid warm-up pair", "pair", raw, "error", err)
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs
}
