package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"konsinyasi/backend/internal/domain"
)

type RedisRiskCache struct {
	client *redis.Client
}

func NewRedisRiskCache(addr string, password string, db int) *RedisRiskCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRiskCache{client: client}
}

func (c *RedisRiskCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRiskCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection for components that share it, such
// as the dispatch lock.
func (c *RedisRiskCache) Client() *redis.Client {
	return c.client
}

func (c *RedisRiskCache) Get(ctx context.Context, key string) (*domain.RiskAssessment, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var assessment domain.RiskAssessment
	if err := json.Unmarshal([]byte(val), &assessment); err != nil {
		return nil, false, err
	}
	return &assessment, true, nil
}

func (c *RedisRiskCache) Set(ctx context.Context, key string, value *domain.RiskAssessment, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
