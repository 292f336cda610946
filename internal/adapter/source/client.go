package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ClientConfig tunes the shared upstream HTTP client.
type ClientConfig struct {
	Name              string
	Timeout           time.Duration
	MaxRetries        uint
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// httpClient fetches provider snapshots. Every attempt waits on the rate
// limiter and passes through the circuit breaker; transient failures are
// retried with exponential backoff. Concurrent GETs of the same URL share
// one round trip.
type httpClient struct {
	client        *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	maxTries      uint
	retryInterval time.Duration
	group         singleflight.Group
	log           *logger.Logger
}

func newHTTPClient(cfg ClientConfig, log *logger.Logger) *httpClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	c := &httpClient{
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		maxTries:      cfg.MaxRetries + 1,
		retryInterval: 200 * time.Millisecond,
		log:           log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a 4xx says nothing about provider health
		IsSuccessful: func(err error) bool {
			var permanent *backoff.PermanentError
			return err == nil || errors.As(err, &permanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "source", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// get returns the response body for target.
func (c *httpClient) get(ctx context.Context, target string) ([]byte, error) {
	ch := c.group.DoChan(target, func() (interface{}, error) {
		return c.getWithRetry(ctx, target)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *httpClient) getWithRetry(ctx context.Context, target string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(model.NewUpstreamError(model.ReasonRateLimited, err))
		}

		body, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, target)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(model.NewUpstreamError(model.ReasonCircuitOpen, err))
			}
			return nil, err
		}
		return body.([]byte), nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("Retrying upstream request", "url", redactURL(target), "error", err, "retry_in", next)
		}),
	)
}

func (c *httpClient) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request for %s", redactURL(target)))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, model.NewUpstreamError(model.ReasonRateLimited, fmt.Errorf("API returned status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, model.NewUpstreamError(model.ReasonHTTPStatus, fmt.Errorf("API returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(model.NewUpstreamError(model.ReasonHTTPStatus, fmt.Errorf("API returned status %d", resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return body, nil
}

func classifyTransportError(err error) error {
	// *url.Error prints the request URL, which may carry credentials
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		redacted := *urlErr
		redacted.URL = redactURL(urlErr.URL)
		err = &redacted
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.NewUpstreamError(model.ReasonTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(model.NewUpstreamError(model.ReasonCanceled, err))
	}
	return model.NewUpstreamError(model.ReasonNetwork, err)
}

var secretParams = []string{"access_key", "api_key", "apikey", "key", "token"}

// redactURL masks credential query parameters so the URL is safe to log.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	u.User = nil
	if u.RawQuery == "" {
		return u.String()
	}

	query := u.Query()
	for _, name := range secretParams {
		if query.Has(name) {
			query.Set(name, "REDACTED")
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
