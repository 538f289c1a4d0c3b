package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKey = "matchengine:vocab:map"

// RedisCache persists the bootstrapped vocabulary map across batch runs
// so it doesn't need recompiling from the constant table on every run.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *logrus.Logger
}

// NewRedisCache connects to Redis and verifies the connection with a Ping.
func NewRedisCache(redisURL string, defaultTTL time.Duration, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, defaultTTL: defaultTTL, logger: logger}, nil
}

type wireEntry struct {
	Keys   map[string]string            `json:"keys"`
	Values map[string]map[string]string `json:"values"`
}

// Store persists the given vocabulary map under a fixed key.
func (c *RedisCache) Store(ctx context.Context, m *Map) error {
	payload, err := json.Marshal(wireEntry{Keys: m.keys, Values: m.values})
	if err != nil {
		return fmt.Errorf("failed to marshal vocabulary map: %w", err)
	}

	if err := c.client.Set(ctx, redisKey, payload, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store vocabulary map: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"key": redisKey}).Debug("vocabulary map persisted to cache")
	return nil
}

// Load fetches a previously stored vocabulary map, falling back to the
// compiled-in Bootstrap table on a cache miss or a corrupted entry. Any
// other Redis error is returned to the caller.
func (c *RedisCache) Load(ctx context.Context) (*Map, error) {
	val, err := c.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return Bootstrap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary map: %w", err)
	}

	var entry wireEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.logger.WithFields(logrus.Fields{"error": err}).Warn("corrupted vocabulary cache entry, falling back to bootstrap table")
		return Bootstrap(), nil
	}

	return &Map{keys: entry.Keys, values: entry.Values}, nil
}
