package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/pkg/logger"
)

// ExchangeRateAPI reads USD-based quotes ("USDEUR": 0.92) from an
// exchangerate.host style /live endpoint and derives cross rates from them.
type ExchangeRateAPI struct {
	baseURL string
	apiKey  string
	client  *httpClient
	log     *logger.Logger
}

type exchangerateAPIResponse struct {
	Success   bool               `json:"success"`
	Timestamp int64              `json:"timestamp"`
	Source    string             `json:"source"`
	Quotes    map[string]float64 `json:"quotes"`
	Error     *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

func NewExchangeRateAPI(baseURL, apiKey string, cfg ClientConfig, log *logger.Logger) *ExchangeRateAPI {
	cfg.Name = "exchangerate"
	return &ExchangeRateAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(cfg, log),
		log:     log,
	}
}

func (e *ExchangeRateAPI) Name() string { return "exchangerate" }

func (e *ExchangeRateAPI) FetchRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error) {
	quotes, err := e.fetchLiveQuotes(ctx)
	if err != nil {
		return nil, err
	}

	rate, err := crossRate(quotes, pair)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Extracted rate from live quotes", "pair", pair.String(), "rate", rate)

	return &model.RateEntry{
		Pair: pair,
		Rate: rate,
	}, nil
}

func (e *ExchangeRateAPI) liveURL() string {
	query := url.Values{}
	query.Set("base", model.USD.String())
	if e.apiKey != "" {
		query.Set("access_key", e.apiKey)
	}
	return e.baseURL + "/live?" + query.Encode()
}

func (e *ExchangeRateAPI) fetchLiveQuotes(ctx context.Context) (map[string]float64, error) {
	body, err := e.client.get(ctx, e.liveURL())
	if err != nil {
		return nil, err
	}

	var apiResp exchangerateAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("failed to decode response: %w", err))
	}

	if !apiResp.Success {
		reason := "API reported failure"
		if apiResp.Error != nil && apiResp.Error.Info != "" {
			reason = fmt.Sprintf("API reported failure: %s (code %d)", apiResp.Error.Info, apiResp.Error.Code)
		}
		return nil, model.NewUpstreamError(model.ReasonHTTPStatus, errors.New(reason))
	}

	return apiResp.Quotes, nil
}

// crossRate turns USD-based quotes into the rate for pair.
func crossRate(quotes map[string]float64, pair model.CurrencyPair) (float64, error) {
	usdPer := func(c model.Currency) (float64, error) {
		if c == model.USD {
			return 1, nil
		}
		q, ok := quotes["USD"+c.String()]
		if !ok {
			return 0, fmt.Errorf("%w: rate not found for currency %s", model.ErrUnsupportedPair, c)
		}
		if q <= 0 {
			return 0, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("quote for %s is not positive: %v", c, q))
		}
		return q, nil
	}

	baseRate, err := usdPer(pair.Base)
	if err != nil {
		return 0, err
	}
	targetRate, err := usdPer(pair.Quote)
	if err != nil {
		return 0, err
	}
	return targetRate / baseRate, nil
}
