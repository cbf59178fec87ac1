package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient is the subset of go-redis client methods used by SubscriptionCache.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

const noSubscription = "none"

// SubscriptionCache is a read-through cache in front of a SubscriptionReader.
// Entries live for ttl, which bounds how stale a subscription read can be.
// Redis failures fall back to the backing reader.
type SubscriptionCache struct {
	next   SubscriptionReader
	client RedisClient
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewSubscriptionCache wraps next with a Redis cache.
func NewSubscriptionCache(next SubscriptionReader, client RedisClient, ttl time.Duration, logger zerolog.Logger) *SubscriptionCache {
	return &SubscriptionCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "subscription:",
		logger: logger,
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// FindByUserID returns the cached subscription or loads and caches it.
func (c *SubscriptionCache) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	key := c.prefix + userID

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == noSubscription {
			return nil, nil
		}
		var sub domain.Subscription
		if jsonErr := json.Unmarshal([]byte(raw), &sub); jsonErr == nil {
			return &sub, nil
		}
		c.logger.Warn().Str("key", key).Msg("Discarding malformed subscription cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("key", key).Msg("Subscription cache read failed")
	}

	sub, err := c.next.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	value := noSubscription
	if sub != nil {
		b, err := json.Marshal(sub)
		if err != nil {
			return sub, nil
		}
		value = string(b)
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Subscription cache write failed")
	}
	return sub, nil
}

// Ping checks the Redis connection.
func (c *SubscriptionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
