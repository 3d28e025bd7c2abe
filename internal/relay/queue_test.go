package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func shutdown(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
}

func TestQueueRunsTasksAndDrainsOnShutdown(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 2, QueueSize: 16}, logger.Nop(), metrics.New())

	var ran int32
	for i := 0; i < 10; i++ {
		ok := q.Enqueue(context.Background(), Task{Name: "count", Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		require.True(t, ok)
	}

	shutdown(t, q)
	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
	assert.Empty(t, q.Failures())

	assert.False(t, q.Enqueue(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1, QueueSize: 1}, logger.Nop(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, q.Enqueue(context.Background(), Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	require.True(t, q.Enqueue(context.Background(), noop), "buffer slot should accept one task")
	assert.False(t, q.Enqueue(context.Background(), noop), "full buffer must drop")

	close(release)
	shutdown(t, q)

	failures := q.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "noop", failures[0].Task)
}

func TestQueueFailureLogIsBounded(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1, QueueSize: 8, FailureLogSize: 2}, logger.Nop(), nil)
	for _, name := range []string{"a", "b", "c"} {
		name := name
		q.Enqueue(context.Background(), Task{Name: name, Run: func(context.Context) error {
			return errors.New(name + " failed")
		}})
	}
	shutdown(t, q)

	failures := q.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "b", failures[0].Task)
	assert.Equal(t, "c", failures[1].Task)
	assert.Equal(t, 3, q.FailureCount())
}

func TestQueueEnforcesTaskTimeout(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1, TaskTimeout: 20 * time.Millisecond}, logger.Nop(), nil)
	q.Enqueue(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	shutdown(t, q)

	failures := q.Failures()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, context.DeadlineExceeded.Error())
}

func TestQueueRecoversPanics(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1}, logger.Nop(), nil)
	var after int32
	q.Enqueue(context.Background(), Task{Name: "boom", Run: func(context.Context) error { panic("kaboom") }})
	q.Enqueue(context.Background(), Task{Name: "after", Run: func(context.Context) error {
		atomic.AddInt32(&after, 1)
		return nil
	}})
	shutdown(t, q)

	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
	require.Len(t, q.Failures(), 1)
	assert.Contains(t, q.Failures()[0].Error, "kaboom")
}

func TestQueueShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1, TaskTimeout: time.Minute}, logger.Nop(), nil)
	started := make(chan struct{})
	q.Enqueue(context.Background(), Task{Name: "stuck", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueTaskTimeoutOverridesDefault(t *testing.T) {
	q := NewQueue(QueueOptions{Workers: 1, TaskTimeout: 20 * time.Millisecond}, logger.Nop(), nil)
	q.Enqueue(context.Background(), Task{Name: "patient", Timeout: time.Second, Run: func(ctx context.Context) error {
		select {
		case <-time.After(60 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	shutdown(t, q)
	assert.Empty(t, q.Failures())
}
