package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
)

func newTestBroker(t *testing.T) *BrokerQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := NewBrokerQueue("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBrokerQueueProcessesJob(t *testing.T) {
	q := newTestBroker(t)
	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "job-1"}))

	var processed int32
	ctx, cancel := context.WithCancel(context.Background())
	go q.Process(ctx, func(ctx context.Context, job domain.ReviewJob) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
}

func TestBrokerQueueRetriesOnFailure(t *testing.T) {
	q := newTestBroker(t)
	require.NoError(t, q.Enqueue(context.Background(), domain.ReviewJob{ID: "job-retry"}))

	var attempts int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Process(ctx, func(ctx context.Context, job domain.ReviewJob) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return assertErr{}
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

type assertErr struct{}

func (assertErr) Error() string { return "transient failure" }
