package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// EventGuard marks externally delivered events as processed so redeliveries
// are skipped.
type EventGuard struct {
	client redis.Cmdable
	scope  string
	ttl    time.Duration
}

// NewEventGuard creates an EventGuard. Keys are namespaced by scope and
// expire after ttl.
func NewEventGuard(client redis.Cmdable, scope string, ttl time.Duration) (*EventGuard, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &EventGuard{client: client, scope: scope, ttl: ttl}, nil
}

func (g *EventGuard) key(eventID string) string {
	return "idempotency:" + g.scope + ":" + eventID
}

// Claim marks eventID as being processed. It reports false when the event
// was already claimed.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	ok, err := g.client.SetNX(ctx, g.key(eventID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "set idempotency key")
	}
	return ok, nil
}

// Release forgets a claim so the event can be processed again.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.client.Del(ctx, g.key(eventID)).Err(); err != nil {
		return errors.Wrap(err, "delete idempotency key")
	}
	return nil
}
