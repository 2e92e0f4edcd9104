package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"job not found", &domain.JobNotFoundError{JobID: "j1"}, "job not found: j1"},
		{"invalid enqueue", &domain.InvalidEnqueueError{Reason: "both delay and scheduled_for set"}, "invalid enqueue request: both delay and scheduled_for set"},
		{"duplicate event", &domain.DuplicateEventError{EventID: "evt_1"}, "webhook event already recorded: evt_1"},
		{"quota exceeded", &domain.QuotaExceededError{TenantID: "t1", Metric: "videos"}, `quota exceeded for tenant t1 on metric "videos"`},
		{"terminal state", &domain.TerminalStateError{JobID: "j1", Status: domain.StatusCompleted}, "job j1 already terminal with status completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorsAs_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("ingest: %w", &domain.DuplicateEventError{EventID: "evt_9"})

	var dup *domain.DuplicateEventError
	assert.True(t, errors.As(wrapped, &dup))
	assert.Equal(t, "evt_9", dup.EventID)
}
