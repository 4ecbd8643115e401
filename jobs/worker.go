package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zapspay/observability"
)

// Handler processes one job. A returned error triggers a Nack.
type Handler func(ctx context.Context, job *Job) error

const (
	defaultConcurrency  = 4
	defaultPollInterval = time.Second
	defaultPumpInterval = 30 * time.Second
)

// WorkerConfig configures a WorkerPool.
type WorkerConfig struct {
	Queue        *Queue
	Concurrency  int
	PollInterval time.Duration
	PumpInterval time.Duration
	Metrics      *observability.JobsMetrics
	Logger       *slog.Logger
}

// WorkerPool runs registered handlers against dequeued jobs. One extra
// janitor goroutine pumps due retries back onto the queue and reclaims
// work whose visibility deadline lapsed.
type WorkerPool struct {
	queue        *Queue
	concurrency  int
	pollInterval time.Duration
	pumpInterval time.Duration
	metrics      *observability.JobsMetrics
	log          *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorkerPool builds a pool over a queue.
func NewWorkerPool(cfg WorkerConfig) (*WorkerPool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("jobs: queue is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	pump := cfg.PumpInterval
	if pump <= 0 {
		pump = defaultPumpInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		queue:        cfg.Queue,
		concurrency:  concurrency,
		pollInterval: poll,
		pumpInterval: pump,
		metrics:      cfg.Metrics,
		log:          logger.With("component", "jobs-worker"),
		handlers:     make(map[string]Handler),
	}, nil
}

// Register installs the handler for a job type. Jobs with no handler are
// nacked into the retry path.
func (w *WorkerPool) Register(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// Start launches the worker goroutines. A second call while running is a
// no-op.
func (w *WorkerPool) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.work(ctx)
	}
	w.wg.Add(1)
	go w.janitor(ctx)
	w.log.Info("worker pool started", "concurrency", w.concurrency)
	return nil
}

// Stop halts all workers and waits for in-flight jobs to settle.
func (w *WorkerPool) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.log.Info("worker pool stopped")
}

func (w *WorkerPool) work(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("dequeue failed", "error", err)
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if !ok {
			w.sleep(ctx, w.pollInterval)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *WorkerPool) process(ctx context.Context, job *Job) {
	w.mu.Lock()
	handler, found := w.handlers[job.Type]
	w.mu.Unlock()
	if !found {
		w.log.Warn("no handler for job type", "type", job.Type, "id", job.ID)
		if err := w.queue.Nack(ctx, job, fmt.Sprintf("no handler registered for %q", job.Type)); err != nil {
			w.log.Error("nack failed", "id", job.ID, "error", err)
		}
		return
	}
	err := handler(ctx, job)
	w.metrics.RecordProcessed(job.Type, err)
	if err != nil {
		w.log.Warn("job failed", "id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if nackErr := w.queue.Nack(ctx, job, err.Error()); nackErr != nil {
			w.log.Error("nack failed", "id", job.ID, "error", nackErr)
		}
		return
	}
	if ackErr := w.queue.Ack(ctx, job); ackErr != nil {
		w.log.Error("ack failed", "id", job.ID, "error", ackErr)
	}
}

func (w *WorkerPool) janitor(ctx context.Context) {
	defer w.wg.Done()
	for {
		if !w.sleep(ctx, w.pumpInterval) {
			return
		}
		if moved, err := w.queue.PumpRetries(ctx); err != nil {
			w.log.Error("retry pump failed", "error", err)
		} else if moved > 0 {
			w.log.Info("retries promoted", "count", moved)
		}
		if reaped, err := w.queue.ReapStalled(ctx); err != nil {
			w.log.Error("stalled reap failed", "error", err)
		} else if reaped > 0 {
			w.log.Warn("stalled jobs reclaimed", "count", reaped)
		}
		if waiting, processing, retry, err := w.queue.Depth(ctx); err == nil {
			w.metrics.SetDepth("queue", waiting)
			w.metrics.SetDepth("processing", processing)
			w.metrics.SetDepth("retry", retry)
		}
	}
}

// sleep waits for d or the context, reporting false when cancelled.
func (w *WorkerPool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
