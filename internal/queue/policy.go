package queue

import (
	"math/rand"
	"strings"
	"time"
)

// Policy is the per-job-type retry configuration.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy applies when no configured type or prefix matches.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 10 * time.Minute}

// DefaultPolicies covers the job types the platform ships with. Prefix
// entries apply to every type underneath them, most-specific match wins.
var DefaultPolicies = map[string]Policy{
	"video.render":    {MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute},
	"social.post":     {MaxAttempts: 4, BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Minute},
	"ai.analyze":      {MaxAttempts: 3, BaseDelay: 15 * time.Second, MaxDelay: 10 * time.Minute},
	"notify":          {MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute},
	"notify.realtime": {MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0},
}

// Resolver maps a dot-namespaced job type to its retry policy.
type Resolver struct {
	policies map[string]Policy
	fallback Policy
}

// NewResolver builds a Resolver over the given table. A nil table resolves
// everything to the fallback.
func NewResolver(policies map[string]Policy, fallback Policy) *Resolver {
	return &Resolver{policies: policies, fallback: fallback}
}

// Resolve returns the policy for jobType: exact match first, then
// decreasing-length dot prefixes (a.b.c → a.b → a), then the fallback.
// Resolution is total — there is no unresolvable type.
func (r *Resolver) Resolve(jobType string) Policy {
	if p, ok := r.policies[jobType]; ok {
		return p
	}
	parts := strings.Split(jobType, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if p, ok := r.policies[strings.Join(parts[:i], ".")]; ok {
			return p
		}
	}
	return r.fallback
}

// Backoff computes the delay before the given retry attempt (0-indexed).
// A zero BaseDelay means no backoff at all — used for single-shot job types.
// Otherwise the delay doubles per attempt with uniform jitter in
// [0, BaseDelay/2) to spread out synchronized retries, capped at MaxDelay.
func Backoff(attempt int, p Policy) time.Duration {
	if p.BaseDelay == 0 {
		return 0
	}
	delay := p.BaseDelay << uint(attempt)
	if delay <= 0 || delay > p.MaxDelay {
		// Shift overflow or past the cap.
		return p.MaxDelay
	}
	if half := int64(p.BaseDelay) / 2; half > 0 {
		jitter := time.Duration(rand.Int63n(half))
		if delay+jitter > p.MaxDelay {
			return p.MaxDelay
		}
		delay += jitter
	}
	return delay
}
