package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	rediscache "github.com/NeilDarrenLtd/zarzoom-core/internal/redis"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

// Provider event types the reconciler understands. Anything else is admitted
// by the gate, recorded, and skipped here.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Event is the parsed envelope of a verified provider webhook.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutObject struct {
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

type invoiceObject struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// Reconciler applies one admitted event to tenant subscription state.
// Every mutation captures a before/after snapshot into the audit log and
// invalidates the tenant's entitlements cache. Events must be idempotently
// re-appliable: the same event applied twice leaves the same final state.
type Reconciler struct {
	repo        postgres.BillingRepository
	invalidator rediscache.Invalidator
	logger      *slog.Logger
}

// NewReconciler constructs a Reconciler. invalidator may be nil in tests.
func NewReconciler(repo postgres.BillingRepository, invalidator rediscache.Invalidator, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, invalidator: invalidator, logger: logger}
}

// Apply dispatches on the event type. Unknown types are a logged no-op.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	ctx, span := otel.Tracer("billing").Start(ctx, "billing.reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
	)

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.applySubscription(ctx, ev)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, ev)
	case EventCheckoutCompleted:
		return r.applyCheckout(ctx, ev)
	case EventInvoicePaid:
		return r.applyInvoice(ctx, ev, domain.SubActive)
	case EventInvoiceFailed:
		return r.applyInvoice(ctx, ev, domain.SubPastDue)
	default:
		r.logger.Info("ignoring unhandled event type",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
		return nil
	}
}

func (r *Reconciler) applySubscription(ctx context.Context, ev *Event) error {
	var obj subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("parse subscription object for %s: %w", ev.ID, err)
	}

	existing, err := r.resolve(ctx, obj.ID, obj.Customer, obj.Metadata["tenant_id"])
	if err != nil {
		return err
	}

	tenantID := obj.Metadata["tenant_id"]
	if existing != nil {
		tenantID = existing.TenantID
	}
	if tenantID == "" {
		// Nothing to key the row on: no prior state and no tenant metadata.
		r.logger.Warn("subscription event without resolvable tenant, skipping",
			slog.String("event_id", ev.ID),
			slog.String("provider_subscription_id", obj.ID),
		)
		return nil
	}

	next := domain.Subscription{
		TenantID:               tenantID,
		PlanID:                 obj.Metadata["plan_id"],
		Status:                 mapProviderStatus(obj.Status),
		ProviderCustomerID:     obj.Customer,
		ProviderSubscriptionID: obj.ID,
		CurrentPeriodStart:     epochToTime(obj.CurrentPeriodStart),
		CurrentPeriodEnd:       epochToTime(obj.CurrentPeriodEnd),
		CancelAtPeriodEnd:      obj.CancelAtPeriodEnd,
	}
	if len(obj.Items.Data) > 0 {
		next.PriceID = obj.Items.Data[0].Price.ID
		if next.PlanID == "" {
			next.PlanID = obj.Items.Data[0].Price.Product
		}
	}

	return r.write(ctx, ev.Type, existing, next)
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev *Event) error {
	var obj subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("parse subscription object for %s: %w", ev.ID, err)
	}

	existing, err := r.resolve(ctx, obj.ID, obj.Customer, obj.Metadata["tenant_id"])
	if err != nil {
		return err
	}
	if existing == nil {
		// Deleting what we never had: not an error, not a row.
		r.logger.Info("subscription.deleted for unknown subscription, no-op",
			slog.String("event_id", ev.ID),
			slog.String("provider_subscription_id", obj.ID),
		)
		return nil
	}

	next := *existing
	next.Status = domain.SubCanceled
	next.CancelAtPeriodEnd = false
	return r.write(ctx, ev.Type, existing, next)
}

func (r *Reconciler) applyCheckout(ctx context.Context, ev *Event) error {
	var obj checkoutObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("parse checkout object for %s: %w", ev.ID, err)
	}

	tenantID := obj.Metadata["tenant_id"]
	existing, err := r.resolve(ctx, obj.Subscription, obj.Customer, tenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		tenantID = existing.TenantID
	}
	if tenantID == "" {
		r.logger.Warn("checkout completed without tenant metadata, skipping",
			slog.String("event_id", ev.ID),
		)
		return nil
	}

	status := mapProviderStatus(obj.Status)
	if obj.Status == "" || obj.Status == "complete" {
		// Checkout sessions report their own lifecycle, not the
		// subscription's; a completed session means billing has started.
		status = domain.SubActive
	}

	next := domain.Subscription{
		TenantID:               tenantID,
		PlanID:                 obj.Metadata["plan_id"],
		Status:                 status,
		ProviderCustomerID:     obj.Customer,
		ProviderSubscriptionID: obj.Subscription,
	}
	if existing != nil {
		next.PlanID = firstNonEmpty(next.PlanID, existing.PlanID)
		next.PriceID = existing.PriceID
		next.CurrentPeriodStart = existing.CurrentPeriodStart
		next.CurrentPeriodEnd = existing.CurrentPeriodEnd
	}

	return r.write(ctx, ev.Type, existing, next)
}

func (r *Reconciler) applyInvoice(ctx context.Context, ev *Event, status domain.SubscriptionStatus) error {
	var obj invoiceObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return fmt.Errorf("parse invoice object for %s: %w", ev.ID, err)
	}

	existing, err := r.resolve(ctx, obj.Subscription, obj.Customer, "")
	if err != nil {
		return err
	}
	if existing == nil {
		r.logger.Info("invoice event for unknown subscription, no-op",
			slog.String("event_id", ev.ID),
			slog.String("provider_subscription_id", obj.Subscription),
		)
		return nil
	}

	next := *existing
	next.Status = status
	return r.write(ctx, ev.Type, existing, next)
}

// resolve finds the affected row by the most specific available key:
// provider subscription id, then provider customer id, then tenant id.
// Earlier keys may legitimately be unknown (the first event for a brand-new
// customer carries no subscription id).
func (r *Reconciler) resolve(ctx context.Context, providerSubID, customerID, tenantID string) (*domain.Subscription, error) {
	if sub, err := r.repo.GetSubscriptionByProviderSubID(ctx, providerSubID); err != nil || sub != nil {
		return sub, err
	}
	if sub, err := r.repo.GetSubscriptionByCustomerID(ctx, customerID); err != nil || sub != nil {
		return sub, err
	}
	return r.repo.GetSubscriptionByTenantID(ctx, tenantID)
}

// write applies the mutation with the two-phase key strategy, records the
// audit entry, and invalidates the tenant's entitlements cache.
func (r *Reconciler) write(ctx context.Context, action string, before *domain.Subscription, next domain.Subscription) error {
	var after *domain.Subscription
	var err error

	if before == nil {
		next.ID = uuid.New().String()
		after, err = r.repo.UpsertSubscriptionByTenant(ctx, &next)
		if err != nil {
			return err
		}
	} else {
		next.ID = before.ID
		next.TenantID = before.TenantID
		next.CreatedAt = before.CreatedAt
		next.ProviderCustomerID = firstNonEmpty(next.ProviderCustomerID, before.ProviderCustomerID)
		next.ProviderSubscriptionID = firstNonEmpty(next.ProviderSubscriptionID, before.ProviderSubscriptionID)
		if err = r.repo.UpdateSubscription(ctx, &next); err != nil {
			return err
		}
		after = &next
	}

	if err := r.audit(ctx, action, before, after); err != nil {
		// The subscription write already happened; a failed audit insert is
		// loud but not a reason to fail the event.
		r.logger.Error("audit write failed",
			slog.String("action", action),
			slog.String("tenant_id", after.TenantID),
			slog.String("error", err.Error()),
		)
	}

	if r.invalidator != nil {
		if err := r.invalidator.InvalidateEntitlements(ctx, after.TenantID); err != nil {
			r.logger.Warn("entitlements invalidation failed",
				slog.String("tenant_id", after.TenantID),
				slog.String("error", err.Error()),
			)
		}
	}

	telemetry.ReconcilerWrites.WithLabelValues(action).Inc()
	r.logger.Info("subscription reconciled",
		slog.String("action", action),
		slog.String("tenant_id", after.TenantID),
		slog.String("status", string(after.Status)),
	)
	return nil
}

func (r *Reconciler) audit(ctx context.Context, action string, before, after *domain.Subscription) error {
	beforeJSON := mustMarshal(before)
	afterJSON := mustMarshal(after)

	diff, err := shallowDiff(beforeJSON, afterJSON)
	if err != nil {
		return fmt.Errorf("compute diff: %w", err)
	}

	return r.repo.InsertAudit(ctx, &domain.AuditEntry{
		ID:       uuid.New().String(),
		Action:   action,
		TenantID: after.TenantID,
		RowID:    after.ID,
		Before:   beforeJSON,
		After:    afterJSON,
		Diff:     diff,
	})
}

// shallowDiff returns the top-level keys whose serialized value changed,
// as {"key": {"from": ..., "to": ...}}. It is a forensic aid only.
func shallowDiff(before, after json.RawMessage) (json.RawMessage, error) {
	var b, a map[string]json.RawMessage
	if len(before) > 0 && string(before) != "null" {
		if err := json.Unmarshal(before, &b); err != nil {
			return nil, err
		}
	}
	if len(after) > 0 && string(after) != "null" {
		if err := json.Unmarshal(after, &a); err != nil {
			return nil, err
		}
	}

	diff := map[string]map[string]json.RawMessage{}
	for key, av := range a {
		bv, ok := b[key]
		if !ok || string(bv) != string(av) {
			diff[key] = map[string]json.RawMessage{"from": bv, "to": av}
		}
	}
	for key, bv := range b {
		if _, ok := a[key]; !ok {
			diff[key] = map[string]json.RawMessage{"from": bv, "to": nil}
		}
	}
	return json.Marshal(diff)
}

// epochToTime converts provider epoch seconds; zero means "absent", not 1970.
func epochToTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func mapProviderStatus(s string) domain.SubscriptionStatus {
	switch s {
	case "trialing":
		return domain.SubTrialing
	case "active":
		return domain.SubActive
	case "past_due", "unpaid":
		return domain.SubPastDue
	case "canceled", "incomplete_expired":
		return domain.SubCanceled
	default:
		return domain.SubIncomplete
	}
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
