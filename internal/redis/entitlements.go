package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const entitlementsTTL = 15 * time.Minute

func entitlementsKey(tenantID string) string { return "entitlements:" + tenantID }

// Invalidator notifies downstream entitlement lookups that a tenant's cached
// state is stale. The reconciler fires it after every subscription write;
// implementations must treat it as best-effort.
type Invalidator interface {
	InvalidateEntitlements(ctx context.Context, tenantID string) error
}

// EntitlementsCache is a Redis-backed view of what a tenant may consume,
// derived from subscription state. Readers fall back to the database on a
// miss, so invalidation only ever costs a recomputation.
type EntitlementsCache interface {
	Invalidator
	Get(ctx context.Context, tenantID string) ([]byte, error)
	Set(ctx context.Context, tenantID string, entitlements []byte) error
}

type entitlementsCache struct {
	client *redis.Client
}

// NewEntitlementsCache creates a Redis-backed EntitlementsCache.
func NewEntitlementsCache(client *redis.Client) EntitlementsCache {
	return &entitlementsCache{client: client}
}

// Get returns the cached entitlements blob, or nil on a miss.
func (c *entitlementsCache) Get(ctx context.Context, tenantID string) ([]byte, error) {
	data, err := c.client.Get(ctx, entitlementsKey(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get entitlements for %s: %w", tenantID, err)
	}
	return data, nil
}

func (c *entitlementsCache) Set(ctx context.Context, tenantID string, entitlements []byte) error {
	if err := c.client.Set(ctx, entitlementsKey(tenantID), entitlements, entitlementsTTL).Err(); err != nil {
		return fmt.Errorf("redis set entitlements for %s: %w", tenantID, err)
	}
	return nil
}

func (c *entitlementsCache) InvalidateEntitlements(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, entitlementsKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate entitlements for %s: %w", tenantID, err)
	}
	return nil
}
