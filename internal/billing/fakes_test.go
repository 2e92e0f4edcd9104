package billing_test

import (
	"context"
	"sync"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// fakeBillingRepo is an in-memory postgres.BillingRepository good enough for
// gate and reconciler tests, including the unique constraint on event ids.
type fakeBillingRepo struct {
	mu sync.Mutex

	eventsByEventID map[string]*domain.WebhookEvent
	eventsByRowID   map[string]*domain.WebhookEvent
	subsByTenant    map[string]*domain.Subscription
	audits          []*domain.AuditEntry

	insertEventErr error
	updateSubErr   error
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		eventsByEventID: map[string]*domain.WebhookEvent{},
		eventsByRowID:   map[string]*domain.WebhookEvent{},
		subsByTenant:    map[string]*domain.Subscription{},
	}
}

func (f *fakeBillingRepo) InsertEvent(_ context.Context, ev *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertEventErr != nil {
		return f.insertEventErr
	}
	if _, ok := f.eventsByEventID[ev.EventID]; ok {
		return &domain.DuplicateEventError{EventID: ev.EventID}
	}
	cp := *ev
	f.eventsByEventID[ev.EventID] = &cp
	f.eventsByRowID[ev.ID] = &cp
	return nil
}

func (f *fakeBillingRepo) MarkEventProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.eventsByRowID[id]; ok {
		ev.Processed = true
	}
	return nil
}

func (f *fakeBillingRepo) GetSubscriptionByProviderSubID(_ context.Context, providerSubID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if providerSubID == "" {
		return nil, nil
	}
	for _, sub := range f.subsByTenant {
		if sub.ProviderSubscriptionID == providerSubID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBillingRepo) GetSubscriptionByCustomerID(_ context.Context, customerID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if customerID == "" {
		return nil, nil
	}
	for _, sub := range f.subsByTenant {
		if sub.ProviderCustomerID == customerID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBillingRepo) GetSubscriptionByTenantID(_ context.Context, tenantID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subsByTenant[tenantID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeBillingRepo) UpsertSubscriptionByTenant(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.subsByTenant[sub.TenantID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	}
	cp := *sub
	f.subsByTenant[sub.TenantID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeBillingRepo) UpdateSubscription(_ context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateSubErr != nil {
		return f.updateSubErr
	}
	for tenant, existing := range f.subsByTenant {
		if existing.ID == sub.ID {
			cp := *sub
			f.subsByTenant[tenant] = &cp
			return nil
		}
	}
	return nil
}

func (f *fakeBillingRepo) InsertAudit(_ context.Context, entry *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.audits = append(f.audits, &cp)
	return nil
}

// fakeInvalidator counts entitlement invalidations per tenant.
type fakeInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeInvalidator() *fakeInvalidator {
	return &fakeInvalidator{calls: map[string]int{}}
}

func (f *fakeInvalidator) InvalidateEntitlements(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tenantID]++
	return nil
}

func (f *fakeInvalidator) count(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tenantID]
}
