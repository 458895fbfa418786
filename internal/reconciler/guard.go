package reconciler

import (
	"context"
	"time"

	"github.com/nileshop/nileshop-backend/pkg/redis"
)

// Guard is the fast-path duplicate filter in front of the durable
// provider_events dedup. Losing the redis key only costs a re-check
// against the database.
type Guard struct {
	client *redis.Client
	scope  string
	ttl    time.Duration
}

// NewGuard returns a redis-backed webhook guard for the given provider scope.
func NewGuard(client *redis.Client, scope string, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Guard{client: client, scope: scope, ttl: ttl}
}

// CheckAndMark records the event id and reports whether it was already seen.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if g == nil || g.client == nil {
		return false, nil
	}
	set, err := g.client.SetNX(ctx, g.client.IdempotencyKey(g.scope, eventID), 1, g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete clears the mark so the provider's redelivery is not filtered out.
func (g *Guard) Delete(ctx context.Context, eventID string) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Del(ctx, g.client.IdempotencyKey(g.scope, eventID))
}
