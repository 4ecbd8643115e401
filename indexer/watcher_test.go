package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zapspay/ledgerrpc"
)

type eventsReply struct {
	result *ledgerrpc.EventsResult
	err    error
}

type fakeSource struct {
	mu       sync.Mutex
	tip      uint64
	tipErr   error
	tipCalls int
	replies  []eventsReply
	queries  []ledgerrpc.EventQuery
}

func (f *fakeSource) GetLatestSequenceNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tipCalls++
	if f.tipErr != nil {
		return 0, f.tipErr
	}
	return f.tip, nil
}

func (f *fakeSource) GetEvents(_ context.Context, query ledgerrpc.EventQuery) (*ledgerrpc.EventsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if len(f.replies) == 0 {
		return &ledgerrpc.EventsResult{}, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return reply.result, nil
}

func (f *fakeSource) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeSource) query(i int) ledgerrpc.EventQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[i]
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	fail   func(Event) error
}

func (h *recordingHandler) HandleEvent(_ context.Context, evt Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		if err := h.fail(evt); err != nil {
			return err
		}
	}
	h.events = append(h.events, evt)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type memCheckpoints struct {
	mu     sync.Mutex
	values map[string]uint64
	saves  int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{values: make(map[string]uint64)}
}

func (m *memCheckpoints) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *memCheckpoints) SaveCursor(_ context.Context, name string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	m.saves++
	return nil
}

func settledEvent(id string, ledgerSeq uint64) ledgerrpc.Event {
	return ledgerrpc.Event{
		ID:       id,
		Ledger:   ledgerSeq,
		Contract: "CAAA",
		Topics:   []string{"payment", "settled", "GPAYER", "merch-9"},
		Value:    "100",
	}
}

func newRunningWatcher(t *testing.T, cfg WatcherConfig) *Watcher {
	t.Helper()
	w, err := NewWatcher(cfg)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherDispatchesAndAdvances(t *testing.T) {
	source := &fakeSource{replies: []eventsReply{
		{result: &ledgerrpc.EventsResult{Events: []ledgerrpc.Event{
			settledEvent("a", 500),
			settledEvent("b", 502),
		}, LatestLedger: 502}},
	}}
	handler := &recordingHandler{}
	checkpoints := newMemCheckpoints()
	w := newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      handler,
		Checkpoints:  checkpoints,
		Contracts:    []string{"CAAA"},
		PollInterval: 2 * time.Millisecond,
		StartLedger:  500,
	})

	waitUntil(t, func() bool { return handler.count() == 2 })
	waitUntil(t, func() bool { return w.Cursor().Current() == 503 })

	if got := source.query(0); got.StartLedger != 500 || len(got.Contracts) != 1 {
		t.Fatalf("first query = %+v", got)
	}
	waitUntil(t, func() bool { return source.polls() >= 2 })
	later := source.query(source.polls() - 1)
	if later.StartLedger != 503 {
		t.Fatalf("subsequent polls must start at 503, got %d", later.StartLedger)
	}

	waitUntil(t, func() bool {
		v, ok, _ := checkpoints.LoadCursor(context.Background(), defaultCheckpointKey)
		return ok && v == 503
	})
}

func TestWatcherEmptyBatchKeepsCursor(t *testing.T) {
	source := &fakeSource{}
	w := newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      &recordingHandler{},
		PollInterval: 2 * time.Millisecond,
		StartLedger:  700,
	})
	waitUntil(t, func() bool { return source.polls() >= 3 })
	if got := w.Cursor().Current(); got != 700 {
		t.Fatalf("cursor moved to %d on empty batches", got)
	}
}

func TestWatcherStartTwiceIsNoOp(t *testing.T) {
	source := &fakeSource{tip: 900}
	w := newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      &recordingHandler{},
		PollInterval: 2 * time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	source.mu.Lock()
	tipCalls := source.tipCalls
	source.mu.Unlock()
	if tipCalls != 1 {
		t.Fatalf("tip resolved %d times, want once", tipCalls)
	}
	if got := w.Cursor().Current(); got != 900 {
		t.Fatalf("cursor = %d, want the network tip", got)
	}
}

func TestWatcherStopIsPromptAndFinal(t *testing.T) {
	source := &fakeSource{}
	w := newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      &recordingHandler{},
		PollInterval: time.Hour,
		StartLedger:  1,
	})
	waitUntil(t, func() bool { return source.polls() >= 1 })

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the pending sleep")
	}

	before := source.polls()
	time.Sleep(20 * time.Millisecond)
	if source.polls() != before {
		t.Fatal("polls continued after Stop returned")
	}
	w.Stop()
}

func TestWatcherDedupsWithinBatch(t *testing.T) {
	dup := ledgerrpc.Event{Ledger: 600, Contract: "CAAA", Topics: []string{"payment", "settled", "GPAYER", "merch-9"}, Value: "5"}
	other := ledgerrpc.Event{Ledger: 600, Contract: "CAAA", Topics: []string{"payment", "settled", "GOTHER", "merch-9"}, Value: "5"}
	source := &fakeSource{replies: []eventsReply{
		{result: &ledgerrpc.EventsResult{Events: []ledgerrpc.Event{dup, dup, other}}},
	}}
	handler := &recordingHandler{}
	newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      handler,
		PollInterval: 2 * time.Millisecond,
		StartLedger:  600,
	})
	waitUntil(t, func() bool { return handler.count() == 2 })
	time.Sleep(10 * time.Millisecond)
	if got := handler.count(); got != 2 {
		t.Fatalf("dispatched %d events, want 2", got)
	}
}

func TestWatcherSurvivesPoisonEvent(t *testing.T) {
	source := &fakeSource{replies: []eventsReply{
		{result: &ledgerrpc.EventsResult{Events: []ledgerrpc.Event{
			settledEvent("poison", 610),
			settledEvent("good", 611),
		}}},
	}}
	handler := &recordingHandler{fail: func(evt Event) error {
		if evt.ID == "poison" {
			return errors.New("reconcile exploded")
		}
		return nil
	}}
	w := newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      handler,
		PollInterval: 2 * time.Millisecond,
		StartLedger:  610,
	})
	waitUntil(t, func() bool { return handler.count() == 1 })
	waitUntil(t, func() bool { return w.Cursor().Current() == 612 })
}

func TestWatcherBacksOffAndRecovers(t *testing.T) {
	source := &fakeSource{replies: []eventsReply{
		{err: &ledgerrpc.TransportError{Op: "events_since", Err: errors.New("down")}},
		{result: &ledgerrpc.EventsResult{Events: []ledgerrpc.Event{settledEvent("after", 620)}}},
	}}
	handler := &recordingHandler{}
	newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      handler,
		PollInterval: 2 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
		StartLedger:  620,
	})
	waitUntil(t, func() bool { return handler.count() == 1 })
}

func TestWatcherRestoresCheckpoint(t *testing.T) {
	checkpoints := newMemCheckpoints()
	if err := checkpoints.SaveCursor(context.Background(), defaultCheckpointKey, 480); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	source := &fakeSource{tip: 999}
	newRunningWatcher(t, WatcherConfig{
		Source:       source,
		Handler:      &recordingHandler{},
		Checkpoints:  checkpoints,
		PollInterval: 2 * time.Millisecond,
	})
	waitUntil(t, func() bool { return source.polls() >= 1 })
	if got := source.query(0); got.StartLedger != 480 {
		t.Fatalf("first poll started at %d, want the checkpoint 480", got.StartLedger)
	}
	source.mu.Lock()
	tipCalls := source.tipCalls
	source.mu.Unlock()
	if tipCalls != 0 {
		t.Fatal("tip must not be resolved when a checkpoint exists")
	}
}

func TestWatcherStartFailsWhenTipUnavailable(t *testing.T) {
	source := &fakeSource{tipErr: &ledgerrpc.TransportError{Op: "ledger_latestSequence", Err: errors.New("down")}}
	w, err := NewWatcher(WatcherConfig{Source: source, Handler: &recordingHandler{}})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("start must fail when no starting cursor can be resolved")
	}
	w.Stop()
}
