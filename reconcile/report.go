package reconcile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"zapspay/storage"
)

// Anomaly types emitted by the reporter.
const (
	AnomalyStuckProcessing = "stuck_processing"
	AnomalyMissingHash     = "missing_hash"
	AnomalyAmountMismatch  = "amount_mismatch"
)

// DefaultProcessingSLA bounds how long a row may sit in PROCESSING before
// the reporter flags it.
const DefaultProcessingSLA = time.Hour

// Anomaly captures a settlement irregularity requiring operator review.
type Anomaly struct {
	Type     string
	Stream   string
	RecordID uuid.UUID
	Details  string
}

// AlertFunc is invoked for every anomaly detected during a report run.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// ReporterConfig captures the dependencies required to construct a Reporter.
type ReporterConfig struct {
	Store         *storage.Store
	OutputDir     string
	ProcessingSLA time.Duration
	DryRun        bool
	Now           func() time.Time
	Alert         AlertFunc
	Logger        *slog.Logger
}

// RunOptions specifies overrides when executing a report window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
}

// Reporter materializes settlement reports joining payment and transfer
// rows over a window.
type Reporter struct {
	store     *storage.Store
	outputDir string
	sla       time.Duration
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	log       *slog.Logger
}

// ReportRow summarises settlement status for a single record.
type ReportRow struct {
	RecordID        uuid.UUID
	Stream          string
	MerchantID      string
	Payer           string
	Target          string
	Asset           string
	SendAmount      string
	ReceiveAmount   string
	Status          string
	TxHash          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SettleLatency   time.Duration
	MissingHash     bool
	AmountMismatch  bool
	StuckProcessing bool
}

// ReportFile references the CSV and Parquet artifacts generated for a
// merchant/asset group.
type ReportFile struct {
	Stream      string
	MerchantID  string
	Asset       string
	CSVPath     string
	ParquetPath string
	Count       int
}

// Result summarises a report run.
type Result struct {
	Start     time.Time
	End       time.Time
	Rows      []*ReportRow
	Files     []ReportFile
	Anomalies []Anomaly
	// Totals holds settled volume per asset across both streams.
	Totals map[string]*big.Int
}

// NewReporter builds a configured reporter.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = filepath.Join("zaps-data", "reports")
	}
	sla := cfg.ProcessingSLA
	if sla <= 0 {
		sla = DefaultProcessingSLA
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		store:     cfg.Store,
		outputDir: outputDir,
		sla:       sla,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		log:       logger.With("component", "report"),
	}, nil
}

// Run executes a report for the supplied window.
func (r *Reporter) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := opts.Start.UTC()
	end := opts.End.UTC()
	if end.Before(start) {
		return nil, errors.New("reconcile: report window ends before it starts")
	}
	dryRun := r.dryRun || opts.DryRun
	now := r.now().UTC()

	payments, err := r.store.ListPayments(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	transfers, err := r.store.ListTransfers(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load transfers: %w", err)
	}

	rows := make([]*ReportRow, 0, len(payments)+len(transfers))
	anomalies := make([]Anomaly, 0)
	totals := make(map[string]*big.Int)

	for i := range payments {
		p := &payments[i]
		row := &ReportRow{
			RecordID:      p.ID,
			Stream:        storage.StreamPayment,
			MerchantID:    p.MerchantID,
			Payer:         p.FromAddress,
			Target:        p.MerchantID,
			Asset:         p.SendAsset,
			SendAmount:    p.SendAmount,
			ReceiveAmount: p.ReceiveAmount,
			Status:        string(p.Status),
			TxHash:        p.TxHash,
			CreatedAt:     p.CreatedAt.UTC(),
			UpdatedAt:     p.UpdatedAt.UTC(),
		}
		r.inspect(ctx, row, p.Status, now, &anomalies)
		r.accumulate(totals, p.Status, p.SendAsset, p.ReceiveAmount, p.SendAmount)
		rows = append(rows, row)
	}
	for i := range transfers {
		tr := &transfers[i]
		row := &ReportRow{
			RecordID:      tr.ID,
			Stream:        storage.StreamTransfer,
			Payer:         tr.FromAddress,
			Target:        tr.ToAddress,
			Asset:         tr.SendAsset,
			SendAmount:    tr.SendAmount,
			ReceiveAmount: tr.ReceiveAmount,
			Status:        string(tr.Status),
			TxHash:        tr.TxHash,
			CreatedAt:     tr.CreatedAt.UTC(),
			UpdatedAt:     tr.UpdatedAt.UTC(),
		}
		r.inspect(ctx, row, tr.Status, now, &anomalies)
		r.accumulate(totals, tr.Status, tr.SendAsset, tr.ReceiveAmount, tr.SendAmount)
		rows = append(rows, row)
	}

	files := make([]ReportFile, 0)
	if !dryRun {
		runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure output dir: %w", err)
		}
		for _, entries := range groupRows(rows) {
			csvPath, parquetPath, err := r.writeReportFiles(runDir, entries)
			if err != nil {
				return nil, err
			}
			if csvPath == "" && parquetPath == "" {
				continue
			}
			files = append(files, ReportFile{
				Stream:      entries[0].Stream,
				MerchantID:  entries[0].MerchantID,
				Asset:       entries[0].Asset,
				CSVPath:     csvPath,
				ParquetPath: parquetPath,
				Count:       len(entries),
			})
		}
	}

	return &Result{Start: start, End: end, Rows: rows, Files: files, Anomalies: anomalies, Totals: totals}, nil
}

// inspect fills the anomaly flags on a row and raises alerts for each.
func (r *Reporter) inspect(ctx context.Context, row *ReportRow, status storage.Status, now time.Time, anomalies *[]Anomaly) {
	if status.Terminal() && !row.UpdatedAt.Before(row.CreatedAt) {
		row.SettleLatency = row.UpdatedAt.Sub(row.CreatedAt)
	}
	if status == storage.StatusCompleted && row.TxHash == "" {
		row.MissingHash = true
		*anomalies = append(*anomalies, r.raise(ctx, Anomaly{
			Type:     AnomalyMissingHash,
			Stream:   row.Stream,
			RecordID: row.RecordID,
			Details:  "completed without a transaction hash",
		}))
	}
	if status == storage.StatusCompleted && row.ReceiveAmount != "" && row.ReceiveAmount != row.SendAmount {
		row.AmountMismatch = true
		*anomalies = append(*anomalies, r.raise(ctx, Anomaly{
			Type:     AnomalyAmountMismatch,
			Stream:   row.Stream,
			RecordID: row.RecordID,
			Details:  fmt.Sprintf("sent %s but settled %s", row.SendAmount, row.ReceiveAmount),
		}))
	}
	if status == storage.StatusProcessing && now.Sub(row.UpdatedAt) > r.sla {
		row.StuckProcessing = true
		*anomalies = append(*anomalies, r.raise(ctx, Anomaly{
			Type:     AnomalyStuckProcessing,
			Stream:   row.Stream,
			RecordID: row.RecordID,
			Details:  fmt.Sprintf("in PROCESSING since %s", row.UpdatedAt.Format(time.RFC3339)),
		}))
	}
}

func (r *Reporter) accumulate(totals map[string]*big.Int, status storage.Status, asset, receiveAmount, sendAmount string) {
	if status != storage.StatusCompleted {
		return
	}
	amount := receiveAmount
	if amount == "" {
		amount = sendAmount
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return
	}
	total, exists := totals[asset]
	if !exists {
		total = new(big.Int)
		totals[asset] = total
	}
	total.Add(total, value)
}

func (r *Reporter) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	if err := r.alert(ctx, anomaly); err != nil {
		r.log.Warn("anomaly alert delivery failed", "type", anomaly.Type, "record", anomaly.RecordID, "error", err)
	}
	return anomaly
}

// groupRows buckets rows per merchant/asset; transfers share a "p2p" group
// per asset.
func groupRows(rows []*ReportRow) map[string][]*ReportRow {
	grouped := make(map[string][]*ReportRow)
	for _, row := range rows {
		merchant := row.MerchantID
		if row.Stream == storage.StreamTransfer {
			merchant = "p2p"
		}
		key := fmt.Sprintf("%s|%s", merchant, assetCode(row.Asset))
		grouped[key] = append(grouped[key], row)
	}
	return grouped
}

func (r *Reporter) writeReportFiles(baseDir string, rows []*ReportRow) (string, string, error) {
	if len(rows) == 0 {
		return "", "", nil
	}
	merchant := rows[0].MerchantID
	if rows[0].Stream == storage.StreamTransfer {
		merchant = "p2p"
	}
	slug := slugify(merchant)
	if slug == "" {
		slug = "unknown"
	}
	filename := fmt.Sprintf("%s_%s", slug, assetCode(rows[0].Asset))
	csvPath := filepath.Join(baseDir, filename+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(baseDir, filename+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	r.log.Info("report written", "csv", csvPath, "parquet", parquetPath, "rows", len(rows))
	return csvPath, parquetPath, nil
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"record_id", "stream", "merchant_id", "payer", "target", "asset",
		"send_amount", "receive_amount", "status", "tx_hash", "created_at",
		"updated_at", "settle_latency_minutes", "missing_hash",
		"amount_mismatch", "stuck_processing",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.RecordID.String(),
			row.Stream,
			row.MerchantID,
			row.Payer,
			row.Target,
			row.Asset,
			row.SendAmount,
			row.ReceiveAmount,
			row.Status,
			row.TxHash,
			row.CreatedAt.Format(time.RFC3339),
			row.UpdatedAt.Format(time.RFC3339),
			formatMinutes(row.SettleLatency),
			boolString(row.MissingHash),
			boolString(row.AmountMismatch),
			boolString(row.StuckProcessing),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	RecordID             string  `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stream               string  `parquet:"name=stream, type=BYTE_ARRAY, convertedtype=UTF8"`
	MerchantID           string  `parquet:"name=merchant_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payer                string  `parquet:"name=payer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target               string  `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset                string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	SendAmount           string  `parquet:"name=send_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReceiveAmount        string  `parquet:"name=receive_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status               string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxHash               string  `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt            string  `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdatedAt            string  `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettleLatencyMinutes float64 `parquet:"name=settle_latency_minutes, type=DOUBLE"`
	MissingHash          bool    `parquet:"name=missing_hash, type=BOOLEAN"`
	AmountMismatch       bool    `parquet:"name=amount_mismatch, type=BOOLEAN"`
	StuckProcessing      bool    `parquet:"name=stuck_processing, type=BOOLEAN"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			RecordID:             row.RecordID.String(),
			Stream:               row.Stream,
			MerchantID:           row.MerchantID,
			Payer:                row.Payer,
			Target:               row.Target,
			Asset:                row.Asset,
			SendAmount:           row.SendAmount,
			ReceiveAmount:        row.ReceiveAmount,
			Status:               row.Status,
			TxHash:               row.TxHash,
			CreatedAt:            row.CreatedAt.Format(time.RFC3339),
			UpdatedAt:            row.UpdatedAt.Format(time.RFC3339),
			SettleLatencyMinutes: minutesFloat(row.SettleLatency),
			MissingHash:          row.MissingHash,
			AmountMismatch:       row.AmountMismatch,
			StuckProcessing:      row.StuckProcessing,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}

func assetCode(asset string) string {
	code, _, _ := strings.Cut(asset, ":")
	return strings.ToUpper(strings.TrimSpace(code))
}

func minutesFloat(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Minutes()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatMinutes(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", d.Minutes())
}

func slugify(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}
	cleaned := make([]rune, 0, len(trimmed))
	for _, r := range trimmed {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			cleaned = append(cleaned, r)
		case r == ' ' || r == '/' || r == ':' || r == '.':
			cleaned = append(cleaned, '-')
		}
	}
	return strings.Trim(string(cleaned), "-")
}
