package gate

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"codedrop/internal/redis"
)

// LRUCache keeps confirmed members in process memory.
type LRUCache struct {
	lru *expirable.LRU[string, struct{}]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (c *LRUCache) IsMember(_ context.Context, key string) bool {
	_, ok := c.lru.Get(key)
	return ok
}

func (c *LRUCache) RememberMember(_ context.Context, key string) {
	c.lru.Add(key, struct{}{})
}

const redisKeyPrefix = "gate:member:"

// RedisCache shares confirmed members across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) IsMember(ctx context.Context, key string) bool {
	ok, err := c.client.HasFlag(ctx, redisKeyPrefix+key)
	if err != nil {
		log.Printf("gate cache lookup failed: %v", err)
		return false
	}
	return ok
}

func (c *RedisCache) RememberMember(ctx context.Context, key string) {
	if err := c.client.SetFlag(ctx, redisKeyPrefix+key, c.ttl); err != nil {
		log.Printf("gate cache store failed: %v", err)
	}
}
