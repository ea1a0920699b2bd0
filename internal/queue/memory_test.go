package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
)

func TestMemoryQueueProcessesEnqueuedJobs(t *testing.T) {
	q := NewMemoryQueue(2, 10)
	var processed int32

	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "1"}))
	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "2"}))

	done := make(chan struct{})
	go func() {
		q.Process(context.Background(), func(ctx context.Context, job domain.ReviewJob) error {
			atomic.AddInt32(&processed, 1)
			return nil
		})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Close())
	<-done

	assert.EqualValues(t, 2, atomic.LoadInt32(&processed))
}

func TestMemoryQueueRejectsWhenFull(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "1"}))
	err := q.Enqueue(context.Background(), domain.ReviewJob{ID: "2"})
	assert.ErrorIs(t, err, ErrQueueFull)
	q.Close()
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	require.NoError(t, q.Close())
	err := q.Enqueue(context.Background(), domain.ReviewJob{ID: "1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryQueueRecoversFromHandlerPanic(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "1"}))

	done := make(chan struct{})
	go func() {
		q.Process(context.Background(), func(ctx context.Context, job domain.ReviewJob) error {
			panic("boom")
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	<-done
}
