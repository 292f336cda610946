package source

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/pkg/logger"
)

// CoinDesk derives fiat cross rates from the CoinDesk BPI snapshot. The
// snapshot prices one bitcoin in several currencies, so the rate from A to B
// is bpi.B / bpi.A.
type CoinDesk struct {
	url    string
	client *httpClient
	log    *logger.Logger
}

func NewCoinDesk(url string, cfg ClientConfig, log *logger.Logger) *CoinDesk {
	cfg.Name = "coindesk"
	return &CoinDesk{
		url:    url,
		client: newHTTPClient(cfg, log),
		log:    log,
	}
}

func (c *CoinDesk) Name() string { return "coindesk" }

func (c *CoinDesk) FetchRate(ctx context.Context, pair model.CurrencyPair) (*model.RateEntry, error) {
	body, err := c.client.get(ctx, c.url)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("coindesk returned invalid JSON"))
	}
	bpi := gjson.GetBytes(body, "bpi")
	if !bpi.IsObject() {
		return nil, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("coindesk response has no bpi object"))
	}

	base, err := bpiPrice(bpi, pair.Base)
	if err != nil {
		return nil, err
	}
	quote, err := bpiPrice(bpi, pair.Quote)
	if err != nil {
		return nil, err
	}

	c.log.Debug("Extracted rate from CoinDesk snapshot", "pair", pair.String(), "base_price", base, "quote_price", quote)

	return &model.RateEntry{
		Pair: pair,
		Rate: quote / base,
	}, nil
}

func bpiPrice(bpi gjson.Result, currency model.Currency) (float64, error) {
	node := bpi.Get(currency.String())
	if !node.Exists() {
		return 0, fmt.Errorf("%w: coindesk has no price for %s", model.ErrUnsupportedPair, currency)
	}

	price := node.Get("rate_float")
	if price.Type != gjson.Number || price.Float() <= 0 {
		return 0, model.NewUpstreamError(model.ReasonMalformed, fmt.Errorf("coindesk price for %s is not a positive number: %s", currency, price.Raw))
	}
	return price.Float(), nil
}
