package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeJobRepo backs the handlers with an in-memory job table.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*domain.Job{}}
}

func (f *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) ClaimDue(_ context.Context, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	var out []*domain.Job
	for _, job := range f.jobs {
		if len(out) >= limit {
			break
		}
		claimable := job.Status == domain.StatusPending || job.Status == domain.StatusScheduled
		if claimable && !job.ScheduledFor.After(now) && job.Attempt < job.MaxAttempts {
			job.Status = domain.StatusRunning
			job.Attempt++
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ListDueUnpushed(_ context.Context, _ int) ([]*domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) MarkPushed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		cp := at
		job.PushedAt = &cp
	}
	return nil
}

func (f *fakeJobRepo) Complete(_ context.Context, id string, result json.RawMessage) (*domain.Job, error) {
	return f.transition(id, func(job *domain.Job) {
		job.Status = domain.StatusCompleted
		job.Result = result
	})
}

func (f *fakeJobRepo) Fail(_ context.Context, id string, jobErr string) (*domain.Job, error) {
	return f.transition(id, func(job *domain.Job) {
		job.Status = domain.StatusFailed
		job.Error = &jobErr
	})
}

func (f *fakeJobRepo) Reschedule(_ context.Context, id string, at time.Time, jobErr string) (*domain.Job, error) {
	return f.transition(id, func(job *domain.Job) {
		job.Status = domain.StatusPending
		job.ScheduledFor = at
		job.Error = &jobErr
	})
}

func (f *fakeJobRepo) transition(id string, mutate func(*domain.Job)) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	if job.Status.IsTerminal() {
		return nil, &domain.TerminalStateError{JobID: id, Status: job.Status}
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	return &cp, nil
}

// fakeQuota rejects tenants listed in exhausted.
type fakeQuota struct {
	mu        sync.Mutex
	exhausted map[string]bool
	usage     map[string]int
}

func newFakeQuota() *fakeQuota {
	return &fakeQuota{exhausted: map[string]bool{}, usage: map[string]int{}}
}

func (f *fakeQuota) Enforce(_ context.Context, tenantID, metric string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exhausted[tenantID] {
		return &domain.QuotaExceededError{TenantID: tenantID, Metric: metric}
	}
	return nil
}

func (f *fakeQuota) IncrementUsage(_ context.Context, tenantID, metric string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[tenantID+"/"+metric]++
	return nil
}

// fakeBillingRepo is the minimal billing store the webhook path touches.
type fakeBillingRepo struct {
	mu           sync.Mutex
	events       map[string]*domain.WebhookEvent
	subsByTenant map[string]*domain.Subscription
	audits       []*domain.AuditEntry
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		events:       map[string]*domain.WebhookEvent{},
		subsByTenant: map[string]*domain.Subscription{},
	}
}

func (f *fakeBillingRepo) InsertEvent(_ context.Context, ev *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[ev.EventID]; ok {
		return &domain.DuplicateEventError{EventID: ev.EventID}
	}
	cp := *ev
	f.events[ev.EventID] = &cp
	return nil
}

func (f *fakeBillingRepo) MarkEventProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ID == id {
			ev.Processed = true
		}
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
	for tenant, existing := range f.subsByTenant {
		if existing.ID == sub.ID {
			cp := *sub
			f.subsByTenant[tenant] = &cp
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
