// Package cache wraps a redis client with namespaced keys.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client redis.UniversalClient
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to redis and pings it once.
func New(ctx context.Context, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

func Key(namespace string, key string) string {
	return namespace + ":" + key
}

// SetNX stores value only if key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, namespace, key string, value any, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, Key(namespace, key), value, ttl).Result()
}

func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
