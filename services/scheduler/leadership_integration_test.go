//go:build integration

package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newLeadershipScheduler(client *goredis.Client, instanceID string) *Scheduler {
	return NewScheduler(nil, nil, nil, client, instanceID, testLogger())
}

func TestLeadership_RenewalIsOwnerChecked(t *testing.T) {
	ctx := context.Background()

	ctr, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	connStr, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: strings.TrimPrefix(connStr, "redis://")})
	t.Cleanup(func() { _ = client.Close() })

	owner := newLeadershipScheduler(client, "scheduler-owner")
	rival := newLeadershipScheduler(client, "scheduler-rival")

	// The first instance wins the SETNX race.
	require.True(t, owner.acquireOrRenewLeadership(ctx))

	// The rival neither acquires the held key nor renews one it does not own.
	assert.False(t, rival.acquireOrRenewLeadership(ctx))
	holder, err := client.Get(ctx, leaderKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "scheduler-owner", holder)

	ttlBefore, err := client.PTTL(ctx, leaderKey).Result()
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	// The owner's renewal resets the TTL to the full leader window.
	require.True(t, owner.acquireOrRenewLeadership(ctx))
	ttlAfter, err := client.PTTL(ctx, leaderKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttlAfter, ttlBefore-200*time.Millisecond)

	// Once the key is gone, leadership changes hands.
	require.NoError(t, client.Del(ctx, leaderKey).Err())
	assert.True(t, rival.acquireOrRenewLeadership(ctx))
	holder, err = client.Get(ctx, leaderKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "scheduler-rival", holder)
}
