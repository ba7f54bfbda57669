package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache stores exchange rates with a TTL.
type RateCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRateCache creates a RateCache.
func NewRateCache(client redis.Cmdable, ttl time.Duration) *RateCache {
	return &RateCache{client: client, ttl: ttl}
}

func rateKey(from, to string) string {
	return "fx:" + strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// Get returns a cached rate. The bool is false on a cache miss.
func (c *RateCache) Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	v, err := c.client.Get(ctx, rateKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrap(err, "get rate")
	}
	rate, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "parse cached rate %q", v)
	}
	return rate, true, nil
}

// Set stores rate for the pair.
func (c *RateCache) Set(ctx context.Context, from, to string, rate decimal.Decimal) error {
	if err := c.client.Set(ctx, rateKey(from, to), rate.String(), c.ttl).Err(); err != nil {
		return errors.Wrap(err, "set rate")
	}
	return nil
}
