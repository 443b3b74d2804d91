// Package redis wraps go-redis for the short-lived flags the bot shares
// between instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codedrop/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const dialTimeout = 3 * time.Second

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner  *redis.Client
	prefix string
}

// Addr returns host:port with the usual local defaults.
func Addr(cfg config.RedisConfig) string {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// NewRedisClient connects and pings. Every key is namespaced under
// "codedrop:" so the bot can share a database with other services.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        Addr(cfg.Redis),
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: dialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", Addr(cfg.Redis), err)
	}
	return &Client{inner: client, prefix: "codedrop:"}, nil
}

// SetFlag marks key as present for ttl.
func (c *Client) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Set(ctx, c.prefix+key, 1, ttl).Err()
}

// HasFlag reports whether key is present and unexpired.
func (c *Client) HasFlag(ctx context.Context, key string) (bool, error) {
	if c == nil || c.inner == nil {
		return false, errNotInitialized
	}
	n, err := c.inner.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
