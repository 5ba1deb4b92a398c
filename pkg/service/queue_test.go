package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set HELPDESK_TEST_REDIS=host:port to run against a real server.
func testRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("HELPDESK_TEST_REDIS")
	if addr == "" {
		t.Skip("HELPDESK_TEST_REDIS not set")
	}
	q, err := NewRedisQueue(context.Background(), config.RedisConfig{Addr: addr, Queue: "helpdesk:test:" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.client.Del(context.Background(), q.key).Err()
		_ = q.Close()
	})
	return q
}

func TestRedisQueueFIFO(t *testing.T) {
	q := testRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ProcessJob{ConversationID: "c1", OrganizationID: testOrg}))
	require.NoError(t, q.Enqueue(ctx, ProcessJob{ConversationID: "c2", OrganizationID: testOrg}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c1", job.ConversationID)
	assert.False(t, job.EnqueuedAt.IsZero())

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c2", job.ConversationID)
}

func TestRedisQueueTimeout(t *testing.T) {
	q := testRedisQueue(t)
	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueueSkipsMalformedEntries(t *testing.T) {
	q := testRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.client.LPush(ctx, q.key, "not json").Err())

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestNewWorkQueueWithoutRedis(t *testing.T) {
	q, err := NewWorkQueue(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	_, ok := q.(*MemoryQueue)
	assert.True(t, ok)
}
