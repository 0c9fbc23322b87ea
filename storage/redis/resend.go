// Package redis provides Redis-backed coordination state shared across
// server instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/budgetkeeper/account"
)

// DefaultKeyPrefix namespaces resend reservations.
const DefaultKeyPrefix = "budgetkeeper:reset:resend:"

// ResendLimiter is an account.ResendLimiter that holds one key per email
// for the resend window.
type ResendLimiter struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

var _ account.ResendLimiter = (*ResendLimiter)(nil)

// NewResendLimiter returns a limiter allowing one reservation per key per window.
func NewResendLimiter(client redis.UniversalClient, window time.Duration) (*ResendLimiter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("resend window must be positive, got %s", window)
	}
	return &ResendLimiter{client: client, window: window, prefix: DefaultKeyPrefix}, nil
}

func (l *ResendLimiter) Reserve(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key
	ok, err := l.client.SetNX(ctx, k, 1, l.window).Result()
	if err != nil {
		return false, 0, fmt.Errorf("reserving resend slot: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("reading resend ttl: %w", err)
	}
	// The key expired between SETNX and PTTL, or carries no expiry.
	if ttl <= 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// NewClient builds a client from connection settings and checks connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return c, nil
}
