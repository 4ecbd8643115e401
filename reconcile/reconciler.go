package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"zapspay/indexer"
	"zapspay/observability"
	"zapspay/storage"
)

// Notification describes a terminal settlement outcome handed to the
// notification queue.
type Notification struct {
	Stream   string         `json:"stream"`
	RecordID uuid.UUID      `json:"recordId"`
	Status   storage.Status `json:"status"`
	TxHash   string         `json:"txHash,omitempty"`
	Amount   string         `json:"amount,omitempty"`
}

// Notifier delivers settlement notifications. Delivery is best-effort:
// failures are logged and counted, never propagated to the ingestion loop.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// StatusPublisher fans a status change out to live subscribers.
type StatusPublisher interface {
	PublishStatus(stream string, id uuid.UUID, status storage.Status, txHash string)
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	Store     *storage.Store
	Notifier  Notifier
	Publisher StatusPublisher
	Metrics   *observability.ReconcileMetrics
	Logger    *slog.Logger
}

// Reconciler applies normalized settlement events to stored payment and
// transfer rows. It tolerates at-least-once delivery: replayed or
// out-of-order events that find no open row are logged and dropped.
type Reconciler struct {
	store     *storage.Store
	notifier  Notifier
	publisher StatusPublisher
	metrics   *observability.ReconcileMetrics
	log       *slog.Logger
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       logger.With("component", "reconcile"),
	}, nil
}

// Apply routes one event through the status machine. It satisfies the
// ingestion loop's handler shape, so wire it with indexer.HandlerFunc.
// Returned errors are infrastructure failures worth retrying; semantic
// dead-ends (no open row, already terminal) resolve to nil.
func (r *Reconciler) Apply(ctx context.Context, evt indexer.Event) error {
	switch evt.Kind {
	case indexer.KindSettled:
		return r.applyTerminal(ctx, evt, storage.StatusCompleted)
	case indexer.KindFailed:
		return r.applyTerminal(ctx, evt, storage.StatusFailed)
	case indexer.KindInitiated:
		r.log.Debug("settlement initiated", "stream", evt.Stream, "payer", evt.Payer, "target", evt.Target)
		r.metrics.RecordApplied(evt.Stream, "observed")
		return nil
	default:
		r.metrics.RecordApplied("unknown", "skipped")
		return nil
	}
}

func (r *Reconciler) applyTerminal(ctx context.Context, evt indexer.Event, next storage.Status) error {
	switch evt.Stream {
	case indexer.StreamPayment:
		return r.applyPayment(ctx, evt, next)
	case indexer.StreamTransfer:
		return r.applyTransfer(ctx, evt, next)
	}
	r.metrics.RecordApplied("unknown", "skipped")
	return nil
}

func (r *Reconciler) applyPayment(ctx context.Context, evt indexer.Event, next storage.Status) error {
	p, err := r.store.FindOpenPayment(ctx, evt.Target, evt.Payer)
	if errors.Is(err, storage.ErrNotFound) {
		r.log.Info("no open payment for event",
			"merchant", evt.Target, "payer", evt.Payer, "kind", evt.Kind.String(), "tx", evt.TxHash)
		r.metrics.RecordApplied(storage.StreamPayment, "unmatched")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup payment: %w", err)
	}

	amount := amountString(evt)
	switch next {
	case storage.StatusCompleted:
		err = r.store.CompletePayment(ctx, p.ID, evt.TxHash, amount)
	case storage.StatusFailed:
		err = r.store.FailPayment(ctx, p.ID, failReason(evt))
	}
	var invalid *storage.InvalidTransitionError
	if errors.As(err, &invalid) {
		// A contradictory replay lost the race to an earlier terminal event.
		r.log.Info("stale settlement event", "payment", p.ID, "from", invalid.From, "to", invalid.To)
		r.metrics.RecordApplied(storage.StreamPayment, "stale")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply payment %s: %w", p.ID, err)
	}

	r.metrics.RecordApplied(storage.StreamPayment, outcomeLabel(next))
	if next == storage.StatusCompleted {
		r.metrics.RecordSettled(p.SendAsset, evt.Amount)
	}
	r.log.Info("payment reconciled", "payment", p.ID, "status", next, "tx", evt.TxHash, "ledger", evt.Ledger)
	r.finish(ctx, Notification{
		Stream:   storage.StreamPayment,
		RecordID: p.ID,
		Status:   next,
		TxHash:   evt.TxHash,
		Amount:   amount,
	})
	return nil
}

func (r *Reconciler) applyTransfer(ctx context.Context, evt indexer.Event, next storage.Status) error {
	tr, err := r.store.FindOpenTransfer(ctx, evt.Target, evt.Payer)
	if errors.Is(err, storage.ErrNotFound) {
		r.log.Info("no open transfer for event",
			"recipient", evt.Target, "payer", evt.Payer, "kind", evt.Kind.String(), "tx", evt.TxHash)
		r.metrics.RecordApplied(storage.StreamTransfer, "unmatched")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup transfer: %w", err)
	}

	amount := amountString(evt)
	switch next {
	case storage.StatusCompleted:
		err = r.store.CompleteTransfer(ctx, tr.ID, evt.TxHash, amount)
	case storage.StatusFailed:
		err = r.store.FailTransfer(ctx, tr.ID, failReason(evt))
	}
	var invalid *storage.InvalidTransitionError
	if errors.As(err, &invalid) {
		r.log.Info("stale settlement event", "transfer", tr.ID, "from", invalid.From, "to", invalid.To)
		r.metrics.RecordApplied(storage.StreamTransfer, "stale")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply transfer %s: %w", tr.ID, err)
	}

	r.metrics.RecordApplied(storage.StreamTransfer, outcomeLabel(next))
	if next == storage.StatusCompleted {
		r.metrics.RecordSettled(tr.SendAsset, evt.Amount)
	}
	r.log.Info("transfer reconciled", "transfer", tr.ID, "status", next, "tx", evt.TxHash, "ledger", evt.Ledger)
	r.finish(ctx, Notification{
		Stream:   storage.StreamTransfer,
		RecordID: tr.ID,
		Status:   next,
		TxHash:   evt.TxHash,
		Amount:   amount,
	})
	return nil
}

func (r *Reconciler) finish(ctx context.Context, n Notification) {
	if r.publisher != nil {
		r.publisher.PublishStatus(n.Stream, n.RecordID, n.Status, n.TxHash)
	}
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.log.Warn("notification enqueue failed", "stream", n.Stream, "record", n.RecordID, "error", err)
		r.metrics.RecordNotifyFailure()
	}
}

func outcomeLabel(s storage.Status) string {
	if s == storage.StatusCompleted {
		return "settled"
	}
	return "failed"
}

func amountString(evt indexer.Event) string {
	if evt.Amount == nil {
		return ""
	}
	return evt.Amount.String()
}

func failReason(evt indexer.Event) string {
	if evt.TxHash != "" {
		return "settlement stream reported failure for tx " + evt.TxHash
	}
	return "settlement stream reported failure"
}
