package domain

import "time"

// SubscriptionStatus mirrors the provider-reported subscription lifecycle.
type SubscriptionStatus string

const (
	SubIncomplete SubscriptionStatus = "incomplete"
	SubTrialing   SubscriptionStatus = "trialing"
	SubActive     SubscriptionStatus = "active"
	SubPastDue    SubscriptionStatus = "past_due"
	SubCanceled   SubscriptionStatus = "canceled"
)

// Subscription is the current billing state for a tenant, reconstructed from
// verified provider webhook events. At most one current row exists per tenant:
// rows are upserted by tenant id until a provider subscription id is known,
// then matched by that id.
type Subscription struct {
	ID                     string             `json:"id"`
	TenantID               string             `json:"tenant_id"`
	PlanID                 string             `json:"plan_id"`
	PriceID                string             `json:"price_id"`
	Status                 SubscriptionStatus `json:"status"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}
