package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"zapspay/cmd/internal/keysource"
	"zapspay/config"
	"zapspay/crypto"
	"zapspay/gateway"
	"zapspay/gateway/middleware"
	"zapspay/indexer"
	"zapspay/jobs"
	"zapspay/ledger"
	"zapspay/ledgerrpc"
	"zapspay/observability"
	"zapspay/observability/logging"
	telemetry "zapspay/observability/otel"
	"zapspay/reconcile"
	"zapspay/sponsor"
	"zapspay/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "zapsd.yaml", "path to the relay configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("zapsd: load config: %v", err)
	}
	env := strings.TrimSpace(os.Getenv("ZAPS_ENV"))
	if env == "" {
		env = cfg.Service.Environment
	}
	logger := logging.SetupWithFile(cfg.Service.Name, env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(cfg.Service.Name, env))
	if err != nil {
		log.Fatalf("zapsd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	// The fee payer's seed is the only private key this process ever
	// holds. It is resolved once here and never reloaded.
	seed, err := keysource.New(cfg.Sponsorship.FeePayerSeed, "fee payer seed").Get()
	if err != nil {
		log.Fatalf("zapsd: resolve fee payer seed: %v", err)
	}
	feeKey, err := crypto.ParseSeed(seed)
	if err != nil {
		log.Fatalf("zapsd: parse fee payer seed: %v", err)
	}

	network := ledger.Network{Passphrase: cfg.Network.Passphrase}

	rpcToken := ""
	if spec := strings.TrimSpace(cfg.Network.RPCAuthToken); spec != "" {
		if rpcToken, err = keysource.New(spec, "node RPC token").Get(); err != nil {
			log.Fatalf("zapsd: resolve node RPC token: %v", err)
		}
	}
	node := ledgerrpc.New(cfg.Network.RPCURL, rpcToken)

	store, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("zapsd: open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	var registry crypto.ContractID
	if raw := strings.TrimSpace(cfg.Sponsorship.Registry); raw != "" {
		if registry, err = crypto.ParseContractID(raw); err != nil {
			log.Fatalf("zapsd: parse registry contract: %v", err)
		}
	}

	builder := sponsor.NewBuilder(sponsor.BuilderConfig{
		Network:        network,
		Registry:       registry,
		BaseFee:        cfg.Sponsorship.BaseFee,
		ValidityWindow: cfg.Sponsorship.ValidityWindow.Duration,
	})
	engine := sponsor.NewEngine(sponsor.EngineConfig{
		Network:   network,
		Key:       feeKey,
		Simulator: sponsor.NewSimulator(node),
		Accounts:  node,
		Metrics:   observability.Sponsor(),
	})
	submitter := sponsor.NewSubmitter(sponsor.SubmitterConfig{
		Client:       node,
		PollInterval: cfg.Sponsorship.SubmitInterval.Duration,
		Timeout:      cfg.Sponsorship.FinalityTimeout.Duration,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	jobsMetrics := observability.Jobs()
	queue, err := jobs.NewQueue(jobs.QueueConfig{
		Client:            rdb,
		VisibilityTimeout: cfg.Jobs.VisibilityTimeout.Duration,
		MaxRetries:        cfg.Jobs.MaxRetries,
		RetryBackoff:      cfg.Jobs.RetryBackoffBase.Duration,
		Metrics:           jobsMetrics,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("zapsd: build job queue: %v", err)
	}
	pool, err := jobs.NewWorkerPool(jobs.WorkerConfig{
		Queue:        queue,
		Concurrency:  cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval.Duration,
		Metrics:      jobsMetrics,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("zapsd: build worker pool: %v", err)
	}
	pool.Register(jobs.TypeNotification, notificationHandler(logger))

	hub := gateway.NewHub()

	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		Store:     store,
		Notifier:  queueNotifier{queue: queue},
		Publisher: hub,
		Metrics:   observability.Reconcile(),
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("zapsd: build reconciler: %v", err)
	}

	watcher, err := indexer.NewWatcher(indexer.WatcherConfig{
		Source:       node,
		Handler:      indexer.HandlerFunc(reconciler.Apply),
		Checkpoints:  store,
		Contracts:    cfg.Indexer.Contracts,
		PollInterval: cfg.Indexer.PollInterval.Duration,
		ErrorBackoff: cfg.Indexer.ErrorBackoff.Duration,
		BatchSize:    cfg.Indexer.BatchSize,
		StartLedger:  cfg.Indexer.StartLedger,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("zapsd: build watcher: %v", err)
	}

	authSecret := ""
	if cfg.Gateway.Auth.Enabled {
		if authSecret, err = keysource.New(cfg.Gateway.Auth.Secret, "gateway auth secret").Get(); err != nil {
			log.Fatalf("zapsd: resolve gateway auth secret: %v", err)
		}
	}
	api, err := gateway.New(gateway.Config{
		Store:     store,
		Builder:   builder,
		Engine:    engine,
		Submitter: submitter,
		Network:   network,
		Hub:       hub,
		Auth: middleware.AuthConfig{
			Enabled:       cfg.Gateway.Auth.Enabled,
			HMACSecret:    authSecret,
			Issuer:        cfg.Gateway.Auth.Issuer,
			Audience:      cfg.Gateway.Auth.Audience,
			OptionalPaths: cfg.Gateway.Auth.OptionalPaths,
		},
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
			Burst:             cfg.Gateway.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("zapsd: build gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("zapsd: start watcher: %v", err)
	}
	defer watcher.Stop()

	if err := pool.Start(); err != nil {
		log.Fatalf("zapsd: start workers: %v", err)
	}
	defer pool.Stop()

	if cfg.Reports.Enabled {
		reporter, err := reconcile.NewReporter(reconcile.ReporterConfig{
			Store:         store,
			OutputDir:     cfg.Reports.OutputDir,
			ProcessingSLA: cfg.Reports.ProcessingSLA.Duration,
			DryRun:        cfg.Reports.DryRun,
			Logger:        logger,
		})
		if err != nil {
			log.Fatalf("zapsd: build reporter: %v", err)
		}
		scheduler := reconcile.NewScheduler(reconcile.SchedulerConfig{
			Reporter:  reporter,
			RunHour:   cfg.Reports.RunHour,
			RunMinute: cfg.Reports.RunMinute,
			Location:  cfg.Reports.Location(),
			Logger:    logger,
		})
		go scheduler.Start(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr, "fee_payer", engine.FeePayer())
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway serve failed", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err.Error())
	}
}

// queueNotifier bridges reconciliation outcomes onto the job queue.
type queueNotifier struct {
	queue *jobs.Queue
}

func (n queueNotifier) Notify(ctx context.Context, note reconcile.Notification) error {
	_, err := n.queue.Enqueue(ctx, jobs.TypeNotification, note)
	return err
}

// notificationHandler is the default delivery worker: it records the
// settlement outcome in the log stream. Deployments with a push provider
// register a richer handler in its place.
func notificationHandler(logger *slog.Logger) jobs.Handler {
	notifyLog := logger.With("component", "notifications")
	return func(ctx context.Context, job *jobs.Job) error {
		var note reconcile.Notification
		if err := json.Unmarshal(job.Payload, &note); err != nil {
			return err
		}
		notifyLog.Info("settlement notification",
			"stream", note.Stream,
			"record_id", note.RecordID,
			"status", note.Status,
			"tx", note.TxHash,
		)
		return nil
	}
}
