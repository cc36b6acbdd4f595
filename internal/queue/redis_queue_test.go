package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/config"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueueWithClient(client, config.Config{
		PriorityQueues:    []string{PriorityHigh, PriorityDefault},
		VisibilityTimeout: time.Minute,
	})
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestDequeueHonoursPriority(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "import-1", PriorityDefault))
	require.NoError(t, q.Enqueue(ctx, "hook-1", PriorityHigh))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	first, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hook-1", first)

	second, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "import-1", second)

	empty, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAckRemovesLease(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", ""))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	members, err := mr.ZMembers("queue:inflight")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, members)

	require.NoError(t, q.Ack(ctx, id))
	assert.False(t, mr.Exists("queue:inflight"))
	assert.False(t, mr.Exists("queue:jobmeta:job-1"))
}

func TestRequeueExpiredReturnsJobToItsQueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", PriorityHigh))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	reclaimed, err := q.RequeueExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "lease has not expired yet")

	reclaimed, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, reclaimed)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestExtendLeaseOnlyTouchesInflight(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	require.NoError(t, q.ExtendLease(ctx, "ghost"))
	assert.False(t, mr.Exists("queue:inflight"))

	require.NoError(t, q.Enqueue(ctx, "job-1", ""))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	before, err := mr.ZScore("queue:inflight", "job-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.ExtendLease(ctx, "job-1"))
	after, err := mr.ZScore("queue:inflight", "job-1")
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestFailedList(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.FailedPush(ctx, "a"))
	require.NoError(t, q.FailedPush(ctx, "b"))

	ids, err := q.FailedPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)
}
