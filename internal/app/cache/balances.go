// Package cache provides a best-effort redis cache in front of the balance
// read path. Failures degrade to the store; they are never surfaced.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/pkg/logger"
)

const keyPrefix = "loyalty:balance:"

// DefaultTTL bounds staleness for entries that miss an invalidation.
const DefaultTTL = 5 * time.Minute

// commands is the slice of the redis client the cache uses.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Balances caches customer balances. A nil *Balances is a valid no-op cache.
type Balances struct {
	client commands
	ttl    time.Duration
	log    *logger.Logger
}

// NewBalances wraps a redis client. A nil client yields a no-op cache.
func NewBalances(client *redis.Client, ttl time.Duration, log *logger.Logger) *Balances {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewDefault("balance-cache")
	}
	return &Balances{client: client, ttl: ttl, log: log}
}

// Get returns the cached balance and whether it was present.
func (c *Balances) Get(ctx context.Context, customerID string) (loyalty.Balance, bool) {
	if c == nil {
		return loyalty.Balance{}, false
	}
	raw, err := c.client.Get(ctx, keyPrefix+customerID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("customer_id", customerID).Debug("balance cache read failed")
		}
		return loyalty.Balance{}, false
	}
	var bal loyalty.Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		c.log.WithError(err).WithField("customer_id", customerID).Debug("balance cache entry corrupt")
		return loyalty.Balance{}, false
	}
	return bal, true
}

// Set stores a balance for the configured TTL.
func (c *Balances) Set(ctx context.Context, bal loyalty.Balance) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(bal)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+bal.CustomerID, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("customer_id", bal.CustomerID).Debug("balance cache write failed")
	}
}

// Invalidate drops a customer's cached balance. Mutations call this so the
// next read repopulates from the store.
func (c *Balances) Invalidate(ctx context.Context, customerID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+customerID).Err(); err != nil {
		c.log.WithError(err).WithField("customer_id", customerID).Debug("balance cache invalidation failed")
	}
}
