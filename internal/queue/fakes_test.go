package queue_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// fakeJobRepo is an in-memory postgres.JobRepository for producer and result
// tests. It mirrors the real repository's guarantees: not-found errors,
// terminal stickiness, and the attempt bump on claim.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	createErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*domain.Job{}}
}

func (f *fakeJobRepo) get(id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	return job, nil
}

func (f *fakeJobRepo) snapshot(id string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		cp := *job
		return &cp
	}
	return nil
}

func (f *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(id)
	if err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) ClaimDue(_ context.Context, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()

	var due []*domain.Job
	for _, job := range f.jobs {
		claimable := job.Status == domain.StatusPending || job.Status == domain.StatusScheduled
		if claimable && !job.ScheduledFor.After(now) && job.Attempt < job.MaxAttempts {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.Job, 0, len(due))
	for _, job := range due {
		job.Status = domain.StatusRunning
		job.Attempt++
		job.UpdatedAt = now
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeJobRepo) ListDueUnpushed(_ context.Context, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()

	var due []*domain.Job
	for _, job := range f.jobs {
		if job.Status == domain.StatusScheduled && !job.ScheduledFor.After(now) && job.PushedAt == nil {
			cp := *job
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeJobRepo) MarkPushed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(id)
	if err != nil {
		return err
	}
	if job.PushedAt == nil {
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
		job.PushedAt = nil
	})
}

func (f *fakeJobRepo) transition(id string, mutate func(*domain.Job)) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, &domain.TerminalStateError{JobID: id, Status: job.Status}
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	return &cp, nil
}

// fakePusher records pushed messages and can be told to refuse them.
type fakePusher struct {
	mu     sync.Mutex
	pushed []*domain.Message
	err    error
}

func (f *fakePusher) Push(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, msg)
	return nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

// fakeEvents captures lifecycle publishes.
type fakeEvents struct {
	mu     sync.Mutex
	topics []string
	keys   []string
}

func (f *fakeEvents) Publish(_ context.Context, topic, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeEvents) Close() error { return nil }
