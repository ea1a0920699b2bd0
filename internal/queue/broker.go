package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/metrics"
)

const (
	brokerAttempts        = 3
	brokerBaseBackoff     = time.Second
	brokerConcurrency     = 3
	brokerRemoveOnComplete = 100
	brokerRemoveOnFail     = 1000
	brokerPollInterval    = 500 * time.Millisecond
)

// BrokerQueue is a durable, at-least-once queue backed by Redis lists and
// a sorted set for delayed retries. Workers dequeue via
// BRPOPLPUSH into a processing list so a crashed worker's job is visible
// for inspection rather than lost; redelivery of an in-flight job is not
// implemented here; a production deployment would additionally reap the
// processing list on a timeout.
type BrokerQueue struct {
	client *redis.Client
	prefix string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type envelope struct {
	Job     domain.ReviewJob `json:"job"`
	Attempt int              `json:"attempt"`
}

func (e envelope) marshal() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// NewBrokerQueue builds a BrokerQueue against a Redis instance at url.
func NewBrokerQueue(url string) (*BrokerQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return &BrokerQueue{client: redis.NewClient(opts), prefix: "review_jobs"}, nil
}

func (q *BrokerQueue) key(suffix string) string {
	return q.prefix + ":" + suffix
}

// Enqueue pushes job onto the pending list.
func (q *BrokerQueue) Enqueue(ctx context.Context, job domain.ReviewJob) error {
	env := envelope{Job: job, Attempt: 0}
	return q.client.LPush(ctx, q.key("pending"), env.marshal()).Err()
}

// Process launches brokerConcurrency workers and a retry-promotion loop,
// running until ctx is cancelled.
func (q *BrokerQueue) Process(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.promoteRetries(ctx)

	for i := 0; i < brokerConcurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}

	<-ctx.Done()
	q.wg.Wait()
	return nil
}

func (q *BrokerQueue) worker(ctx context.Context, id int, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := q.client.BRPopLPush(ctx, q.key("pending"), q.key("processing"), brokerPollInterval).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("broker dequeue failed", "worker_id", id, "error", err)
			continue
		}

		q.handle(ctx, id, raw, handler)
	}
}

func (q *BrokerQueue) handle(ctx context.Context, id int, raw string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in broker worker", "worker_id", id, "panic", r)
		}
		q.client.LRem(ctx, q.key("processing"), 1, raw)
	}()

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Error("malformed job envelope, dropping", "worker_id", id, "error", err)
		return
	}

	err := handler(ctx, env.Job)
	if err == nil {
		q.client.LPush(ctx, q.key("completed"), raw)
		q.client.LTrim(ctx, q.key("completed"), 0, brokerRemoveOnComplete-1)
		return
	}

	env.Attempt++
	if env.Attempt >= brokerAttempts {
		slog.Error("job exhausted retries", "job_id", env.Job.ID, "attempts", env.Attempt, "error", err)
		q.client.LPush(ctx, q.key("failed"), env.marshal())
		q.client.LTrim(ctx, q.key("failed"), 0, brokerRemoveOnFail-1)
		return
	}

	backoff := time.Duration(math.Pow(2, float64(env.Attempt-1))) * brokerBaseBackoff
	nextAttempt := float64(time.Now().Add(backoff).Unix())
	slog.Warn("job failed, scheduling retry", "job_id", env.Job.ID, "attempt", env.Attempt, "backoff", backoff, "error", err)
	q.client.ZAdd(ctx, q.key("retry"), redis.Z{Score: nextAttempt, Member: env.marshal()})
}

// promoteRetries periodically moves due retry entries back onto the
// pending list.
func (q *BrokerQueue) promoteRetries(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(brokerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := q.client.LLen(ctx, q.key("pending")).Result(); err == nil {
				metrics.QueueDepth.WithLabelValues("broker").Set(float64(depth))
			}

			now := float64(time.Now().Unix())
			due, err := q.client.ZRangeByScore(ctx, q.key("retry"), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
			if err != nil || len(due) == 0 {
				continue
			}
			for _, member := range due {
				q.client.ZRem(ctx, q.key("retry"), member)
				q.client.LPush(ctx, q.key("pending"), member)
			}
		}
	}
}

// Close stops workers and closes the Redis connection.
func (q *BrokerQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	return q.client.Close()
}
