package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces every key written by RedisCache
const DefaultRedisPrefix = "perfhub:authz:"

// RedisCache is a Cache shared by every instance pointing at the same Redis.
// Values are JSON documents written with SET EX so expiry is per key.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: DefaultRedisPrefix,
	}
}

// WithPrefix returns a copy of the cache using prefix for its keys
func (c *RedisCache) WithPrefix(prefix string) *RedisCache {
	cp := *c
	cp.prefix = prefix
	return &cp
}

func (c *RedisCache) membershipKey(tenantID, userID string) string {
	return c.prefix + "membership:" + membershipCacheKey(tenantID, userID)
}

func (c *RedisCache) roleKey(roleID string) string {
	return c.prefix + "role:" + roleID
}

// GetMembership reads a cached membership
func (c *RedisCache) GetMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	var m Membership
	found, err := c.get(ctx, c.membershipKey(tenantID, userID), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// SetMembership writes a membership with the cache TTL
func (c *RedisCache) SetMembership(ctx context.Context, m *Membership) error {
	if m == nil {
		return nil
	}
	return c.set(ctx, c.membershipKey(m.TenantID, m.UserID), m)
}

// GetRole reads a cached role
func (c *RedisCache) GetRole(ctx context.Context, roleID string) (*Role, error) {
	var r Role
	found, err := c.get(ctx, c.roleKey(roleID), &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// SetRole writes a role with the cache TTL
func (c *RedisCache) SetRole(ctx context.Context, r *Role) error {
	if r == nil {
		return nil
	}
	return c.set(ctx, c.roleKey(r.ID), r)
}

// InvalidateMembership deletes one membership key
func (c *RedisCache) InvalidateMembership(ctx context.Context, tenantID, userID string) error {
	return c.client.Del(ctx, c.membershipKey(tenantID, userID)).Err()
}

// InvalidateRole deletes one role key
func (c *RedisCache) InvalidateRole(ctx context.Context, roleID string) error {
	return c.client.Del(ctx, c.roleKey(roleID)).Err()
}

// Clear deletes every key under the cache prefix
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// corrupt entry, drop it and report a miss
		c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
