package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"zapspay/ledgerrpc"
	"zapspay/observability"
)

// EventSource is the node surface the watcher polls.
type EventSource interface {
	GetLatestSequenceNumber(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, query ledgerrpc.EventQuery) (*ledgerrpc.EventsResult, error)
}

// Handler consumes normalized events in ledger order.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Checkpoints persists the cursor so a restart resumes where the previous
// process stopped instead of replaying from the network tip.
type Checkpoints interface {
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, value uint64) error
}

const (
	defaultPollInterval  = 5 * time.Second
	defaultErrorBackoff  = 30 * time.Second
	defaultBatchSize     = 100
	defaultCheckpointKey = "settlement"
)

// WatcherConfig wires a settlement watcher. StartLedger pins an explicit
// starting cursor; when zero, the watcher restores the checkpoint, and
// failing that starts from the network tip.
type WatcherConfig struct {
	Source        EventSource
	Handler       Handler
	Checkpoints   Checkpoints
	CheckpointKey string
	Contracts     []string
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	BatchSize     int
	StartLedger   uint64
	Logger        *slog.Logger
}

// Watcher polls the node for settlement events and dispatches them, in
// ledger order, to the reconciliation handler. A single goroutine runs the
// loop; there is never more than one poll in flight.
type Watcher struct {
	source        EventSource
	handler       Handler
	checkpoints   Checkpoints
	checkpointKey string
	contracts     []string
	pollInterval  time.Duration
	errorBackoff  time.Duration
	batchSize     int
	startLedger   uint64
	log           *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cursor  *Cursor
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Source == nil {
		return nil, errors.New("indexer: event source is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("indexer: handler is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = defaultCheckpointKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		source:        cfg.Source,
		handler:       cfg.Handler,
		checkpoints:   cfg.Checkpoints,
		checkpointKey: cfg.CheckpointKey,
		contracts:     cfg.Contracts,
		pollInterval:  cfg.PollInterval,
		errorBackoff:  cfg.ErrorBackoff,
		batchSize:     cfg.BatchSize,
		startLedger:   cfg.StartLedger,
		log:           cfg.Logger.With("component", "indexer"),
	}, nil
}

// Start launches the poll loop. Calling Start while the loop is already
// running is a no-op; exactly one poll cadence exists at a time.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if w.cursor == nil {
		cursor, err := w.initialCursor(ctx)
		if err != nil {
			return err
		}
		w.cursor = cursor
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.running = true
	w.cancel = cancel
	w.done = done
	go w.run(runCtx, done)
	w.log.Info("settlement watcher started", "cursor", w.cursor.Current())
	return nil
}

// Stop cancels the loop, including any pending sleep, and waits for it to
// exit. Safe to call when not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.log.Info("settlement watcher stopped")
}

// Cursor returns the watcher's stream position handle. Nil until the first
// Start resolves a starting ledger.
func (w *Watcher) Cursor() *Cursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

func (w *Watcher) initialCursor(ctx context.Context) (*Cursor, error) {
	if w.startLedger > 0 {
		return NewCursor(w.startLedger), nil
	}
	if w.checkpoints != nil {
		value, ok, err := w.checkpoints.LoadCursor(ctx, w.checkpointKey)
		if err != nil {
			return nil, err
		}
		if ok {
			return NewCursor(value), nil
		}
	}
	tip, err := w.source.GetLatestSequenceNumber(ctx)
	if err != nil {
		return nil, err
	}
	return NewCursor(tip), nil
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		sleep := w.pollInterval
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("event poll failed", "error", err)
			observability.Indexer().RecordPollFailure()
			sleep = w.errorBackoff
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	result, err := w.source.GetEvents(ctx, ledgerrpc.EventQuery{
		StartLedger: w.cursor.Current(),
		Contracts:   w.contracts,
		Limit:       w.batchSize,
	})
	if err != nil {
		return err
	}
	if len(result.Events) == 0 {
		return nil
	}

	metrics := observability.Indexer()
	seen := make(map[string]struct{}, len(result.Events))
	var maxLedger uint64
	for _, raw := range result.Events {
		if raw.Ledger > maxLedger {
			maxLedger = raw.Ledger
		}
		key := DedupKey(raw)
		if _, dup := seen[key]; dup {
			metrics.RecordDuplicate()
			continue
		}
		seen[key] = struct{}{}

		evt := Normalize(raw)
		metrics.RecordEvent(evt.Kind.String())
		if err := w.handler.HandleEvent(ctx, evt); err != nil {
			// One poison event must not wedge the stream; the
			// cursor still advances past it.
			w.log.Error("event dispatch failed",
				"event", key,
				"ledger", raw.Ledger,
				"error", err)
			metrics.RecordDispatchFailure()
		}
	}

	w.cursor.AdvanceTo(maxLedger + 1)
	metrics.SetCursor(w.cursor.Current())
	if w.checkpoints != nil {
		if err := w.checkpoints.SaveCursor(ctx, w.checkpointKey, w.cursor.Current()); err != nil {
			w.log.Warn("cursor checkpoint failed", "error", err)
		}
	}
	return nil
}
