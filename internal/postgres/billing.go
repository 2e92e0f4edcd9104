package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// BillingRepository persists webhook event records, tenant subscriptions, and
// the billing audit log. Subscription lookups return (nil, nil) when no row
// matches — the reconciler walks a key fallback chain and a miss is not an
// error there.
type BillingRepository interface {
	// InsertEvent writes the dedup record before any processing happens.
	// A concurrent duplicate delivery surfaces as DuplicateEventError via the
	// unique constraint on event_id, never via an application-side check.
	InsertEvent(ctx context.Context, ev *domain.WebhookEvent) error
	MarkEventProcessed(ctx context.Context, id string) error

	GetSubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*domain.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error)
	GetSubscriptionByTenantID(ctx context.Context, tenantID string) (*domain.Subscription, error)
	UpsertSubscriptionByTenant(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error

	InsertAudit(ctx context.Context, entry *domain.AuditEntry) error
}

type billingRepository struct {
	pool *pgxpool.Pool
}

// NewBillingRepository wraps a pgxpool with the BillingRepository interface.
func NewBillingRepository(pool *pgxpool.Pool) BillingRepository {
	return &billingRepository{pool: pool}
}

func (r *billingRepository) InsertEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_events
			(id, event_id, event_type, payload_hash, raw_payload, tenant_id, processed, received_at)
		VALUES
			($1, $2, $3, $4, $5, $6, FALSE, $7)
	`,
		ev.ID, ev.EventID, ev.EventType, ev.PayloadHash, ev.RawPayload,
		nullIfEmpty(ev.TenantID), ev.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateEventError{EventID: ev.EventID}
		}
		return fmt.Errorf("insert webhook event %s: %w", ev.EventID, err)
	}
	return nil
}

func (r *billingRepository) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET processed = TRUE, processed_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark webhook event %s processed: %w", id, err)
	}
	return nil
}

const subColumns = `id, tenant_id, plan_id, price_id, status, provider_customer_id,
       provider_subscription_id, current_period_start, current_period_end,
       cancel_at_period_end, created_at, updated_at`

func (r *billingRepository) GetSubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `provider_subscription_id = $1`, providerSubID)
}

func (r *billingRepository) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `provider_customer_id = $1`, customerID)
}

func (r *billingRepository) GetSubscriptionByTenantID(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `tenant_id = $1`, tenantID)
}

func (r *billingRepository) getSubscription(ctx context.Context, where string, arg string) (*domain.Subscription, error) {
	if arg == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+subColumns+`
		FROM tenant_subscriptions
		WHERE `+where, arg)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// UpsertSubscriptionByTenant writes the tenant-keyed row used before a
// provider subscription id is known. Conflicts on tenant_id overwrite the
// mutable columns (last write wins for the pre-subscription-id phase).
func (r *billingRepository) UpsertSubscriptionByTenant(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenant_subscriptions
			(id, tenant_id, plan_id, price_id, status, provider_customer_id,
			 provider_subscription_id, current_period_start, current_period_end,
			 cancel_at_period_end, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			price_id = EXCLUDED.price_id,
			status = EXCLUDED.status,
			provider_customer_id = EXCLUDED.provider_customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
		RETURNING `+subColumns,
		sub.ID, sub.TenantID, sub.PlanID, sub.PriceID, string(sub.Status),
		sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
	)

	out, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription for tenant %s: %w", sub.TenantID, err)
	}
	return out, nil
}

func (r *billingRepository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tenant_subscriptions SET
			plan_id = $2,
			price_id = $3,
			status = $4,
			provider_customer_id = $5,
			provider_subscription_id = $6,
			current_period_start = $7,
			current_period_end = $8,
			cancel_at_period_end = $9,
			updated_at = NOW()
		WHERE id = $1
	`,
		sub.ID, sub.PlanID, sub.PriceID, string(sub.Status),
		sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (r *billingRepository) InsertAudit(ctx context.Context, entry *domain.AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_audit_log
			(id, action, tenant_id, row_id, before, after, diff, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID, entry.Action, entry.TenantID, entry.RowID,
		entry.Before, entry.After, entry.Diff, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry for tenant %s: %w", entry.TenantID, err)
	}
	return nil
}

func scanSubscription(row interface {
	Scan(...any) error
}) (*domain.Subscription, error) {
	var sub domain.Subscription
	var statusStr string
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.PriceID, &statusStr,
		&sub.ProviderCustomerID, &sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(statusStr)
	return &sub, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
