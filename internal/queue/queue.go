// Package queue implements the job queue capability: a common interface
// over a memory backend (at-most-once, single-process, for development)
// and an external-broker backend (durable, at-least-once, for
// production).
package queue

import (
	"context"
	"errors"

	"pr-review-automation/internal/domain"
)

// ErrQueueFull is returned by Enqueue when the backend is at capacity.
var ErrQueueFull = errors.New("queue is full")

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("queue is closed")

// Handler processes one dequeued job. Returning an error marks the job
// failed; with the broker backend this may trigger a retry.
type Handler func(ctx context.Context, job domain.ReviewJob) error

// Queue is the capability every backend implements.
type Queue interface {
	Enqueue(ctx context.Context, job domain.ReviewJob) error
	Process(ctx context.Context, handler Handler) error
	Close() error
}
