// Package exchange fetches live currency rates from an HTTP rates endpoint.
// It is an optional collaborator: callers fall back to the configured static
// table whenever it fails.
package exchange

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrRateMissing is returned when the payload has no rate for the target.
var ErrRateMissing = errors.New("rate missing from payload")

// Cache stores fetched rates between requests.
type Cache interface {
	Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, from, to string, rate decimal.Decimal) error
}

// Config configures a Client.
type Config struct {
	// BaseURL is joined with the source currency code, e.g.
	// https://api.exchangerate-api.com/v4/latest/ + ZAR.
	BaseURL string
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
}

// Client implements pricing.RateSource over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	cache   Cache
	breaker *gobreaker.CircuitBreaker[decimal.Decimal]
}

// NewClient creates a Client. cache may be nil.
func NewClient(cfg Config, httpClient *http.Client, cache Cache, lg *zap.Logger) *Client {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold

	return &Client{
		http:    httpClient,
		baseURL: cfg.BaseURL,
		cache:   cache,
		breaker: gobreaker.NewCircuitBreaker[decimal.Decimal](gobreaker.Settings{
			Name:        "exchange-rates",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Info("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

// Rate returns the live rate converting from into to.
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	if c.cache != nil {
		rate, ok, err := c.cache.Get(ctx, from, to)
		if err != nil {
			zctx.From(ctx).Debug("Rate cache read failed", zap.Error(err))
		}
		if ok {
			return rate, nil
		}
	}

	rate, err := c.breaker.Execute(func() (decimal.Decimal, error) {
		return c.fetch(ctx, from, to)
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "fetch %s/%s", from, to)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, from, to, rate); err != nil {
			zctx.From(ctx).Debug("Rate cache write failed", zap.Error(err))
		}
	}
	return rate, nil
}

func (c *Client) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	u, err := url.JoinPath(c.baseURL, url.PathEscape(from))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return decimal.Zero, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return decodeRate(jx.Decode(resp.Body, 4096), to)
}

// decodeRate extracts rates[to] from a {"base":..,"rates":{..}} payload
// without materializing the whole table.
func decodeRate(d *jx.Decoder, to string) (decimal.Decimal, error) {
	var (
		rate  decimal.Decimal
		found bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "rates" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, code []byte) error {
			if string(code) != to {
				return d.Skip()
			}
			n, err := d.Num()
			if err != nil {
				return errors.Wrapf(err, "rate %s", to)
			}
			rate, err = decimal.NewFromString(n.String())
			if err != nil {
				return errors.Wrapf(err, "parse rate %s", to)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "decode payload")
	}
	if !found {
		return decimal.Zero, errors.Wrap(ErrRateMissing, to)
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.Errorf("non-positive rate %s for %s", rate, to)
	}
	return rate, nil
}
