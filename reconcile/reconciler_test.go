package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/google/uuid"

	"zapspay/crypto"
	"zapspay/indexer"
	"zapspay/storage"
)

func fixedAddress(fill byte) string {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a.String()
}

var (
	payerAddr     = fixedAddress(0x41)
	recipientAddr = fixedAddress(0x42)
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedPayment(t *testing.T, store *storage.Store) *storage.Payment {
	t.Helper()
	p := &storage.Payment{
		FromAddress: payerAddr,
		MerchantID:  "merchant-9",
		SendAsset:   "XLM",
		SendAmount:  "4200",
	}
	if err := store.CreatePayment(context.Background(), p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func seedTransfer(t *testing.T, store *storage.Store) *storage.Transfer {
	t.Helper()
	tr := &storage.Transfer{
		FromUserID:  "alice",
		ToUserID:    "bob",
		FromAddress: payerAddr,
		ToAddress:   recipientAddr,
		SendAsset:   "XLM",
		SendAmount:  "77",
	}
	if err := store.CreateTransfer(context.Background(), tr); err != nil {
		t.Fatalf("seed transfer: %v", err)
	}
	return tr
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

type statusUpdate struct {
	stream string
	id     uuid.UUID
	status storage.Status
	txHash string
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (f *fakePublisher) PublishStatus(stream string, id uuid.UUID, status storage.Status, txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{stream: stream, id: id, status: status, txHash: txHash})
}

func newTestReconciler(t *testing.T, store *storage.Store, notifier Notifier, publisher StatusPublisher) *Reconciler {
	t.Helper()
	rec, err := NewReconciler(Config{Store: store, Notifier: notifier, Publisher: publisher})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return rec
}

func paymentEvent(kind indexer.Kind, hash string, amount int64) indexer.Event {
	evt := indexer.Event{
		ID:     "evt-" + hash,
		Ledger: 900,
		Kind:   kind,
		Stream: indexer.StreamPayment,
		Payer:  payerAddr,
		Target: "merchant-9",
		TxHash: hash,
	}
	if amount > 0 {
		evt.Amount = big.NewInt(amount)
	}
	return evt
}

func TestApplySettledCompletesPayment(t *testing.T) {
	store := openTestStore(t)
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	rec := newTestReconciler(t, store, notifier, publisher)
	p := seedPayment(t, store)

	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "cafe01", 4200)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", loaded.Status)
	}
	if loaded.TxHash != "cafe01" {
		t.Fatalf("expected event hash, got %q", loaded.TxHash)
	}
	if loaded.ReceiveAmount != "4200" {
		t.Fatalf("expected settled amount, got %q", loaded.ReceiveAmount)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
	note := notifier.notes[0]
	if note.Stream != storage.StreamPayment || note.RecordID != p.ID || note.Status != storage.StatusCompleted {
		t.Fatalf("unexpected notification: %+v", note)
	}
	if len(publisher.updates) != 1 || publisher.updates[0].id != p.ID {
		t.Fatalf("expected one status publish, got %+v", publisher.updates)
	}
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	notifier := &fakeNotifier{}
	rec := newTestReconciler(t, store, notifier, nil)
	p := seedPayment(t, store)

	evt := paymentEvent(indexer.KindSettled, "cafe02", 4200)
	if err := rec.Apply(context.Background(), evt); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := rec.Apply(context.Background(), evt); err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusCompleted || loaded.TxHash != "cafe02" {
		t.Fatalf("replay mutated the row: %+v", loaded)
	}
	if notifier.count() != 1 {
		t.Fatalf("replay must not renotify, got %d notifications", notifier.count())
	}
}

func TestApplyFirstTerminalWins(t *testing.T) {
	store := openTestStore(t)
	rec := newTestReconciler(t, store, nil, nil)
	p := seedPayment(t, store)

	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "aa01", 4200)); err != nil {
		t.Fatalf("settled apply: %v", err)
	}
	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindFailed, "aa02", 0)); err != nil {
		t.Fatalf("late failed apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusCompleted {
		t.Fatalf("late failure overrode settlement: %s", loaded.Status)
	}

	q := seedPayment(t, store)
	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindFailed, "bb01", 0)); err != nil {
		t.Fatalf("failed apply: %v", err)
	}
	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "bb02", 4200)); err != nil {
		t.Fatalf("late settled apply: %v", err)
	}
	loaded, err = store.GetPayment(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusFailed {
		t.Fatalf("late settlement overrode failure: %s", loaded.Status)
	}
}

func TestApplyFailedMarksFailed(t *testing.T) {
	store := openTestStore(t)
	notifier := &fakeNotifier{}
	rec := newTestReconciler(t, store, notifier, nil)
	p := seedPayment(t, store)

	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindFailed, "dead01", 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusFailed {
		t.Fatalf("expected FAILED, got %s", loaded.Status)
	}
	if notifier.count() != 1 || notifier.notes[0].Status != storage.StatusFailed {
		t.Fatalf("expected failure notification, got %+v", notifier.notes)
	}
}

func TestApplyTransferSettled(t *testing.T) {
	store := openTestStore(t)
	rec := newTestReconciler(t, store, nil, nil)
	tr := seedTransfer(t, store)

	evt := indexer.Event{
		ID:     "evt-t1",
		Ledger: 901,
		Kind:   indexer.KindSettled,
		Stream: indexer.StreamTransfer,
		Payer:  payerAddr,
		Target: recipientAddr,
		TxHash: "feed01",
		Amount: big.NewInt(77),
	}
	if err := rec.Apply(context.Background(), evt); err != nil {
		t.Fatalf("apply: %v", err)
	}
	loaded, err := store.GetTransfer(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusCompleted || loaded.TxHash != "feed01" || loaded.ReceiveAmount != "77" {
		t.Fatalf("unexpected transfer: %+v", loaded)
	}
}

func TestApplyInitiatedLeavesRowAlone(t *testing.T) {
	store := openTestStore(t)
	notifier := &fakeNotifier{}
	rec := newTestReconciler(t, store, notifier, nil)
	p := seedPayment(t, store)

	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindInitiated, "cc01", 4200)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusPending || loaded.TxHash != "" {
		t.Fatalf("initiated event mutated the row: %+v", loaded)
	}
	if notifier.count() != 0 {
		t.Fatalf("initiated event must not notify")
	}
}

func TestApplyUnknownAndUnmatchedAreNoOps(t *testing.T) {
	store := openTestStore(t)
	rec := newTestReconciler(t, store, nil, nil)

	if err := rec.Apply(context.Background(), indexer.Event{Kind: indexer.KindUnknown}); err != nil {
		t.Fatalf("unknown event: %v", err)
	}
	// Settlement for a record this instance never created.
	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "ee01", 10)); err != nil {
		t.Fatalf("unmatched event: %v", err)
	}
}

func TestApplySwallowsNotifyFailure(t *testing.T) {
	store := openTestStore(t)
	notifier := &fakeNotifier{err: errors.New("queue down")}
	rec := newTestReconciler(t, store, notifier, nil)
	p := seedPayment(t, store)

	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "ff01", 4200)); err != nil {
		t.Fatalf("notify failure must not propagate: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Status != storage.StatusCompleted {
		t.Fatalf("settlement must land despite notify failure, got %s", loaded.Status)
	}
}

func TestApplyKeepsSubmittedHash(t *testing.T) {
	store := openTestStore(t)
	rec := newTestReconciler(t, store, nil, nil)
	p := seedPayment(t, store)

	if err := store.MarkPaymentProcessing(context.Background(), p.ID, "submitted-hash"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := rec.Apply(context.Background(), paymentEvent(indexer.KindSettled, "event-hash", 4200)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	loaded, err := store.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.TxHash != "submitted-hash" {
		t.Fatalf("settlement replaced the submission hash: %q", loaded.TxHash)
	}
	if loaded.Status != storage.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", loaded.Status)
	}
}
