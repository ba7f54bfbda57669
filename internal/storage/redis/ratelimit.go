package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// WindowCounter implements fixed-window request counting. Each window gets
// its own key, so counters never need resetting.
type WindowCounter struct {
	client redis.Cmdable
	scope  string
	now    func() time.Time
}

// NewWindowCounter creates a WindowCounter with keys namespaced by scope.
func NewWindowCounter(client redis.Cmdable, scope string) *WindowCounter {
	return &WindowCounter{client: client, scope: scope, now: time.Now}
}

// Hit increments the counter for key in the current window.
func (c *WindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if window <= 0 {
		return 0, time.Time{}, errors.New("window must be positive")
	}
	start := c.now().Truncate(window)
	k := "rl:" + c.scope + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, errors.Wrap(err, "count request")
	}
	return incr.Val(), start.Add(window), nil
}
