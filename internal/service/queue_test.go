package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/PostForge/internal/service"
)

func TestJobQueue_SequentialInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		running atomic.Int32
		peak    atomic.Int32
	)
	worker := func(_ context.Context, runID string) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order = append(order, runID)
		mu.Unlock()
		return nil
	}

	q := service.NewJobQueue(context.Background(), worker, discardLogger())
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, ids, order)
	assert.Equal(t, int32(1), peak.Load(), "at most one job runs at a time")
	assert.Equal(t, 0, q.Size())
}

func TestJobQueue_FailuresDoNotStopPump(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	worker := func(_ context.Context, runID string) error {
		mu.Lock()
		seen = append(seen, runID)
		mu.Unlock()
		switch runID {
		case "err":
			return errors.New("boom")
		case "panic":
			panic("worker exploded")
		}
		return nil
	}

	q := service.NewJobQueue(context.Background(), worker, discardLogger())
	for _, id := range []string{"err", "panic", "ok"} {
		require.NoError(t, q.Enqueue(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, []string{"err", "panic", "ok"}, seen)
}

func TestJobQueue_SizeCountsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	worker := func(_ context.Context, _ string) error {
		started <- struct{}{}
		<-release
		return nil
	}

	q := service.NewJobQueue(context.Background(), worker, discardLogger())
	require.NoError(t, q.Enqueue("a"))
	<-started
	require.NoError(t, q.Enqueue("b"))
	require.NoError(t, q.Enqueue("c"))

	assert.Equal(t, 3, q.Size())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, 0, q.Size())
}

func TestJobQueue_RestartsAfterIdle(t *testing.T) {
	var count atomic.Int32
	done := make(chan struct{}, 2)
	worker := func(_ context.Context, _ string) error {
		count.Add(1)
		done <- struct{}{}
		return nil
	}

	q := service.NewJobQueue(context.Background(), worker, discardLogger())
	require.NoError(t, q.Enqueue("a"))
	<-done
	require.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue("b"))
	<-done
	assert.Equal(t, int32(2), count.Load())
}

func TestJobQueue_DrainClosesQueue(t *testing.T) {
	q := service.NewJobQueue(context.Background(), func(context.Context, string) error { return nil }, discardLogger())
	require.NoError(t, q.Drain(context.Background()))

	err := q.Enqueue("late")
	assert.ErrorIs(t, err, service.ErrQueueClosed)
}

func TestJobQueue_DrainDeadline(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	worker := func(_ context.Context, _ string) error {
		started <- struct{}{}
		<-release
		return nil
	}
	defer close(release)

	q := service.NewJobQueue(context.Background(), worker, discardLogger())
	require.NoError(t, q.Enqueue("slow"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
