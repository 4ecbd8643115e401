package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"zapspay/observability"
)

// Job types the relay enqueues.
const (
	TypeNotification = "notification"
	TypeWebhook      = "webhook"
)

// Redis keys backing the queue. Waiting and processing entries live in
// sorted sets scored by due time; exhausted jobs land on a capped list.
const (
	queueKey      = "zaps:jobs:queue"
	processingKey = "zaps:jobs:processing"
	retryKey      = "zaps:jobs:retry"
	deadLetterKey = "zaps:jobs:dead_letter"
)

const (
	DefaultVisibilityTimeout = 300 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 30 * time.Second

	maxRetryBackoff = time.Hour
	deadLetterCap   = 10000

	// Claim races between consumers are resolved by ZRem; a loser moves on
	// to the next due member, bounded so Dequeue stays cheap.
	claimAttempts = 4
)

// Job is one unit of queued work. Payload stays opaque JSON so producers
// and handlers agree on shape per type.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`

	// raw is the exact member string claimed from Redis, needed to settle
	// the processing entry on Ack or Nack.
	raw string
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Client            *redis.Client
	VisibilityTimeout time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	Metrics           *observability.JobsMetrics
	Logger            *slog.Logger
	Now               func() time.Time
}

// Queue is a Redis-backed delayed job queue with at-least-once delivery.
type Queue struct {
	rdb        *redis.Client
	visibility time.Duration
	maxRetries int
	backoff    time.Duration
	metrics    *observability.JobsMetrics
	log        *slog.Logger
	now        func() time.Time
}

// NewQueue builds a queue over an existing Redis client.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Client == nil {
		return nil, errors.New("jobs: redis client is required")
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Queue{
		rdb:        cfg.Client,
		visibility: visibility,
		maxRetries: maxRetries,
		backoff:    backoff,
		metrics:    cfg.Metrics,
		log:        logger.With("component", "jobs"),
		now:        nowFn,
	}, nil
}

// Enqueue queues a job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any) (*Job, error) {
	return q.EnqueueAt(ctx, jobType, payload, q.now())
}

// EnqueueAt queues a job that becomes due at the given time.
func (q *Queue) EnqueueAt(ctx context.Context, jobType string, payload any, at time.Time) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("jobs: job type is required")
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("jobs: encode payload: %w", err)
		}
		raw = data
	}
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
	}
	member, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode job: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{Score: float64(at.Unix()), Member: string(member)}).Err(); err != nil {
		return nil, fmt.Errorf("jobs: enqueue: %w", err)
	}
	job.raw = string(member)
	q.metrics.RecordEnqueued(jobType)
	return job, nil
}

// Dequeue claims the oldest due job, moving it into the processing set
// under a visibility deadline. The boolean reports whether a job was due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, bool, error) {
	now := q.now().UTC()
	max := strconv.FormatInt(now.Unix(), 10)
	for i := 0; i < claimAttempts; i++ {
		members, err := q.rdb.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
			Min: "-inf", Max: max, Offset: 0, Count: 1,
		}).Result()
		if err != nil {
			return nil, false, fmt.Errorf("jobs: fetch due: %w", err)
		}
		if len(members) == 0 {
			return nil, false, nil
		}
		member := members[0]
		removed, err := q.rdb.ZRem(ctx, queueKey, member).Result()
		if err != nil {
			return nil, false, fmt.Errorf("jobs: claim: %w", err)
		}
		if removed == 0 {
			continue
		}
		deadline := now.Add(q.visibility)
		if err := q.rdb.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline.Unix()), Member: member}).Err(); err != nil {
			return nil, false, fmt.Errorf("jobs: track processing: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.log.Error("discarding undecodable job", "error", err)
			q.parkDeadLetter(ctx, member)
			q.rdb.ZRem(ctx, processingKey, member)
			continue
		}
		job.raw = member
		return &job, true, nil
	}
	return nil, false, nil
}

// Ack settles a successfully processed job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job == nil || job.raw == "" {
		return errors.New("jobs: job was not dequeued")
	}
	if err := q.rdb.ZRem(ctx, processingKey, job.raw).Err(); err != nil {
		return fmt.Errorf("jobs: ack: %w", err)
	}
	return nil
}

// Nack records a failed attempt: the job is rescheduled with exponential
// backoff, or dead-lettered once its retries are exhausted.
func (q *Queue) Nack(ctx context.Context, job *Job, reason string) error {
	if job == nil || job.raw == "" {
		return errors.New("jobs: job was not dequeued")
	}
	if err := q.rdb.ZRem(ctx, processingKey, job.raw).Err(); err != nil {
		return fmt.Errorf("jobs: release: %w", err)
	}
	job.Attempts++
	job.LastError = reason
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: encode job: %w", err)
	}
	if job.Attempts > q.maxRetries {
		q.parkDeadLetter(ctx, string(member))
		q.metrics.RecordDeadLetter(job.Type)
		q.log.Warn("job dead-lettered", "id", job.ID, "type", job.Type, "attempts", job.Attempts, "reason", reason)
		return nil
	}
	due := q.now().UTC().Add(q.backoffFor(job.Attempts))
	if err := q.rdb.ZAdd(ctx, retryKey, redis.Z{Score: float64(due.Unix()), Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("jobs: schedule retry: %w", err)
	}
	q.metrics.RecordRetry(job.Type)
	return nil
}

// ReapStalled returns processing entries whose visibility deadline passed
// back to the waiting queue, making crashed consumers' work claimable.
func (q *Queue) ReapStalled(ctx context.Context) (int, error) {
	now := q.now().UTC()
	return q.moveDue(ctx, processingKey, now, float64(now.Unix()))
}

// PumpRetries promotes due retry entries onto the waiting queue.
func (q *Queue) PumpRetries(ctx context.Context) (int, error) {
	now := q.now().UTC()
	return q.moveDue(ctx, retryKey, now, float64(now.Unix()))
}

func (q *Queue) moveDue(ctx context.Context, fromKey string, now time.Time, score float64) (int, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, fromKey, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("jobs: fetch due from %s: %w", fromKey, err)
	}
	moved := 0
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, fromKey, member).Result()
		if err != nil {
			return moved, fmt.Errorf("jobs: remove from %s: %w", fromKey, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
			return moved, fmt.Errorf("jobs: requeue: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Depth reports the number of jobs waiting per backing key.
func (q *Queue) Depth(ctx context.Context) (waiting, processing, retry int64, err error) {
	waiting, err = q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("jobs: queue depth: %w", err)
	}
	processing, err = q.rdb.ZCard(ctx, processingKey).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("jobs: processing depth: %w", err)
	}
	retry, err = q.rdb.ZCard(ctx, retryKey).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("jobs: retry depth: %w", err)
	}
	return waiting, processing, retry, nil
}

// DeadLetters returns up to limit parked jobs, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := q.rdb.LRange(ctx, deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs: read dead letters: %w", err)
	}
	out := make([]Job, 0, len(members))
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *Queue) parkDeadLetter(ctx context.Context, member string) {
	if err := q.rdb.LPush(ctx, deadLetterKey, member).Err(); err != nil {
		q.log.Error("dead letter push failed", "error", err)
		return
	}
	if err := q.rdb.LTrim(ctx, deadLetterKey, 0, deadLetterCap-1).Err(); err != nil {
		q.log.Error("dead letter trim failed", "error", err)
	}
}

func (q *Queue) backoffFor(attempt int) time.Duration {
	d := q.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}
