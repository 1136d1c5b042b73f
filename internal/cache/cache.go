// Package cache keeps token-to-user lookups in redis so authenticated
// requests skip the token join in postgres.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const tokenPrefix = "authtoken:"

// Options configures the redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a redis client and verifies it answers
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// TokenCache maps token keys to user ids with a TTL
type TokenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenCache creates a token cache; ttl 0 keeps entries until evicted
func NewTokenCache(client *redis.Client, ttl time.Duration) *TokenCache {
	return &TokenCache{client: client, ttl: ttl}
}

// Get returns the cached owner of key. A miss is (0, false, nil).
func (c *TokenCache) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, tokenPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read token cache: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// unreadable entry, treat as a miss and let it be rewritten
		return 0, false, nil
	}
	return userID, true, nil
}

// Set records the owner of key
func (c *TokenCache) Set(ctx context.Context, key string, userID int64) error {
	if err := c.client.Set(ctx, tokenPrefix+key, strconv.FormatInt(userID, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}
