package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// LimitFunc resolves the allowed monthly count for a tenant/metric pair,
// usually from the tenant's plan. A limit of zero or less means unlimited.
type LimitFunc func(ctx context.Context, tenantID, metric string) (int64, error)

// QuotaEnforcer is the usage-metering contract consumed by the producer's
// callers. Enforce fails closed: an exhausted quota surfaces as
// QuotaExceededError before any job is written.
type QuotaEnforcer interface {
	Enforce(ctx context.Context, tenantID, metric string) error
	IncrementUsage(ctx context.Context, tenantID, metric string) error
}

type quotaEnforcer struct {
	client *redis.Client
	limits LimitFunc
}

// NewQuotaEnforcer returns a Redis-backed QuotaEnforcer using per-month
// usage counters.
func NewQuotaEnforcer(client *redis.Client, limits LimitFunc) QuotaEnforcer {
	return &quotaEnforcer{client: client, limits: limits}
}

// usageKey buckets usage by calendar month, e.g. usage:t1:videos:2025-06.
func usageKey(tenantID, metric string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, metric, now.UTC().Format("2006-01"))
}

func (q *quotaEnforcer) Enforce(ctx context.Context, tenantID, metric string) error {
	limit, err := q.limits(ctx, tenantID, metric)
	if err != nil {
		return fmt.Errorf("resolve quota limit for %s/%s: %w", tenantID, metric, err)
	}
	if limit <= 0 {
		return nil
	}

	used, err := q.client.Get(ctx, usageKey(tenantID, metric, time.Now())).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read usage for %s/%s: %w", tenantID, metric, err)
	}
	if used >= limit {
		return &domain.QuotaExceededError{TenantID: tenantID, Metric: metric}
	}
	return nil
}

func (q *quotaEnforcer) IncrementUsage(ctx context.Context, tenantID, metric string) error {
	key := usageKey(tenantID, metric, time.Now())

	pipe := q.client.TxPipeline()
	pipe.Incr(ctx, key)
	// Keep the counter alive well past the month it meters; a fresh month
	// starts a fresh key regardless.
	pipe.Expire(ctx, key, 35*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment usage for %s/%s: %w", tenantID, metric, err)
	}
	return nil
}
