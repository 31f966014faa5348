package consent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/solocheck/engine/internal/model"
)

// RedisCache is the per-user eligible-contacts cache, keyed "consent:<userID>"
// with a TTL bounded by spec section 4.H (<=30s) so the scanner's periodic
// burst of lookups doesn't hit the contacts table once per overdue user.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing *redis.Client. Connection options
// (Addr, Password, DB, dial/read/write timeouts) are the caller's concern,
// constructed once at startup the way the rest of the engine's clients are.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(userID string) string {
	return "consent:" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]model.Contact, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var contacts []model.Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		return nil, false, err
	}
	return contacts, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, contacts []model.Contact, ttl time.Duration) error {
	raw, err := json.Marshal(contacts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(userID), raw, ttl).Err()
}
