package reconcile

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestReporterDryRunCollectsRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := seedPayment(t, store)
	if err := store.CompletePayment(ctx, p.ID, "abc1", "4200"); err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	seedTransfer(t, store)

	reporter, err := NewReporter(ReporterConfig{Store: store, DryRun: true})
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	now := time.Now().UTC()
	res, err := reporter.Run(ctx, RunOptions{Start: now.Add(-time.Hour), End: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files in dry-run, got %d", len(res.Files))
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", res.Anomalies)
	}
	total, ok := res.Totals["XLM"]
	if !ok || total.String() != "4200" {
		t.Fatalf("unexpected settled totals: %+v", res.Totals)
	}
}

func TestReporterDetectsAnomalies(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Completed without a hash anywhere on its path.
	hashless := seedPayment(t, store)
	if err := store.CompletePayment(ctx, hashless.ID, "", ""); err != nil {
		t.Fatalf("complete hashless: %v", err)
	}
	// Settled short.
	short := seedPayment(t, store)
	if err := store.CompletePayment(ctx, short.ID, "dd01", "4000"); err != nil {
		t.Fatalf("complete short: %v", err)
	}
	// Submitted but never settled.
	stuck := seedPayment(t, store)
	if err := store.MarkPaymentProcessing(ctx, stuck.ID, "ee01"); err != nil {
		t.Fatalf("mark stuck: %v", err)
	}

	var alerts []Anomaly
	reporter, err := NewReporter(ReporterConfig{
		Store:         store,
		DryRun:        true,
		ProcessingSLA: time.Hour,
		Now:           func() time.Time { return time.Now().Add(3 * time.Hour) },
		Alert: func(_ context.Context, a Anomaly) error {
			alerts = append(alerts, a)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	now := time.Now().UTC()
	res, err := reporter.Run(ctx, RunOptions{Start: now.Add(-time.Hour), End: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byType := map[string]int{}
	for _, a := range res.Anomalies {
		byType[a.Type]++
	}
	if byType[AnomalyMissingHash] != 1 {
		t.Fatalf("expected one missing-hash anomaly, got %+v", byType)
	}
	if byType[AnomalyAmountMismatch] != 1 {
		t.Fatalf("expected one amount-mismatch anomaly, got %+v", byType)
	}
	if byType[AnomalyStuckProcessing] != 1 {
		t.Fatalf("expected one stuck-processing anomaly, got %+v", byType)
	}
	if len(alerts) != len(res.Anomalies) {
		t.Fatalf("expected every anomaly alerted: %d vs %d", len(alerts), len(res.Anomalies))
	}

	for _, row := range res.Rows {
		switch row.RecordID {
		case hashless.ID:
			if !row.MissingHash {
				t.Fatalf("hashless row not flagged")
			}
		case short.ID:
			if !row.AmountMismatch {
				t.Fatalf("short settlement not flagged")
			}
		case stuck.ID:
			if !row.StuckProcessing {
				t.Fatalf("stuck row not flagged")
			}
		}
	}
}

func TestReporterWritesArtifacts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := seedPayment(t, store)
	if err := store.CompletePayment(ctx, p.ID, "aa11", "4200"); err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	tr := seedTransfer(t, store)
	if err := store.CompleteTransfer(ctx, tr.ID, "bb22", "77"); err != nil {
		t.Fatalf("complete transfer: %v", err)
	}

	reporter, err := NewReporter(ReporterConfig{Store: store, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	now := time.Now().UTC()
	res, err := reporter.Run(ctx, RunOptions{Start: now.Add(-time.Hour), End: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected a payments group and a p2p group, got %d", len(res.Files))
	}
	for _, file := range res.Files {
		if file.Count != 1 {
			t.Fatalf("expected one row per group, got %d", file.Count)
		}
		if _, err := os.Stat(file.CSVPath); err != nil {
			t.Fatalf("csv artifact missing: %v", err)
		}
		if _, err := os.Stat(file.ParquetPath); err != nil {
			t.Fatalf("parquet artifact missing: %v", err)
		}
	}
}

func TestReporterRejectsInvertedWindow(t *testing.T) {
	store := openTestStore(t)
	reporter, err := NewReporter(ReporterConfig{Store: store, DryRun: true})
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	now := time.Now()
	if _, err := reporter.Run(context.Background(), RunOptions{Start: now, End: now.Add(-time.Minute)}); err == nil {
		t.Fatalf("expected inverted window to fail")
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RunHour: 2, RunMinute: 30})
	before := time.Date(2026, time.May, 4, 1, 0, 0, 0, time.UTC)
	next := s.nextRun(before)
	want := time.Date(2026, time.May, 4, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("unexpected next run: got %s want %s", next, want)
	}
	after := time.Date(2026, time.May, 4, 3, 0, 0, 0, time.UTC)
	next = s.nextRun(after)
	if !next.Equal(want.Add(24 * time.Hour)) {
		t.Fatalf("expected same time tomorrow, got %s", next)
	}

	clamped := NewScheduler(SchedulerConfig{RunHour: 99, RunMinute: -5})
	if clamped.runHour != 23 || clamped.runMinute != 0 {
		t.Fatalf("expected clamped schedule, got %d:%d", clamped.runHour, clamped.runMinute)
	}
}
