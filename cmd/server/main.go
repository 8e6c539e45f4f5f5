package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/api"
	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/event"
	"github.com/ignite/relay/internal/pkg/distlock"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/provider"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
	"github.com/ignite/relay/internal/webhook"
	"github.com/ignite/relay/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}
	logger.Info("relay server starting", "addr", cfg.Server.Addr)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to local modes", "error", err)
		rdb = nil
	}

	// Storage
	store := queue.NewPostgresStore(db)
	payloads := queue.NewPostgresPayloadStore(db)
	quotas := admission.NewPostgresQuotaStore(db)
	suppRepo := suppression.NewPostgresRepository(db)
	for _, ensure := range []func(context.Context) error{
		store.EnsureSchema, payloads.EnsureSchema, quotas.EnsureSchema, suppRepo.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
	}

	suppSvc := suppression.NewService(suppRepo)
	pauser := queue.NewPauser(rdb)

	// Providers
	registry, err := buildRegistry(cfg, rdb)
	if err != nil {
		logger.Error("provider setup failed", "error", err)
		os.Exit(1)
	}
	probeLock := distlock.NewLock(rdb, db, "provider-probe", cfg.Providers.HealthCheckInterval)
	prober := provider.NewProber(registry, cfg.Providers.HealthCheckInterval, probeLock)
	prober.Start()
	defer prober.Stop()

	// Admission and events
	ctrl := admission.NewController(store, payloads, quotas, suppSvc, admission.Limits{
		BulkRecipientCeiling:  cfg.Admission.BulkRecipientCeiling,
		DailyEmailLimit:       cfg.Admission.DailyEmailLimit,
		MonthlyEmailLimit:     cfg.Admission.MonthlyEmailLimit,
		DistinctRecipientsCap: cfg.Admission.DistinctRecipientsCap,
		MaxAttempts:           cfg.Worker.MaxAttempts,
	})

	var ledger event.Ledger = event.NewMemoryLedger()
	var counters event.Counters = event.NewMemoryCounters()
	if rdb != nil {
		ledger = event.NewRedisLedger(rdb)
		counters = event.NewRedisCounters(rdb)
	}
	processor := event.NewProcessor(store, suppSvc, ledger, counters)

	ingestors := buildIngestors(cfg)

	// Optional embedded worker for single-binary deployments.
	if cfg.Server.WorkerEmbedded {
		pool := worker.NewPool(store, payloads, registry, pauser, worker.PoolOptions{
			NumWorkers:     cfg.Worker.NumWorkers,
			PollInterval:   cfg.Worker.PollInterval,
			SendTimeout:    cfg.Worker.SendTimeout,
			BackoffInitial: cfg.Worker.BackoffInitial,
			BackoffMax:     cfg.Worker.BackoffMax,
		})
		pool.Start(ctx)
		defer pool.Stop()

		recoveryLock := distlock.NewLock(rdb, db, "queue-recovery", cfg.Queue.RecoveryInterval)
		recovery := worker.NewRecoveryWorker(store, recoveryLock, cfg.Queue.RecoveryInterval, cfg.Queue.VisibilityTimeout)
		go recovery.Start(ctx)
		logger.Info("embedded worker enabled", "num_workers", cfg.Worker.NumWorkers)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Admission:    ctrl,
		Store:        store,
		Pauser:       pauser,
		Registry:     registry,
		Prober:       prober,
		Suppression:  suppSvc,
		Processor:    processor,
		Counters:     counters,
		Ingestors:    ingestors,
		Health:       api.NewHealthChecker(db, rdb, registry),
		MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("relay server stopped")
}

// buildRegistry constructs senders in configured order and wraps each with
// send idempotency. The first configured provider is primary.
func buildRegistry(cfg *config.Config, rdb *redis.Client) (*provider.Registry, error) {
	dedup := provider.NewDedup(rdb)
	senders := make([]provider.Sender, 0, len(cfg.Providers.Ordered))
	for _, pc := range cfg.Providers.Ordered {
		var s provider.Sender
		switch pc.Name {
		case "ses":
			ses, err := provider.NewSESSender(pc.AccessKey, pc.SecretKey, pc.Region)
			if err != nil {
				return nil, err
			}
			s = ses
		case "sendgrid":
			s = provider.NewSendGridSender(pc.APIKey, pc.BaseURL)
		case "sparkpost":
			s = provider.NewSparkPostSender(pc.APIKey, pc.BaseURL)
		default:
			logger.Warn("skipping unknown provider", "name", pc.Name)
			continue
		}
		senders = append(senders, provider.WithIdempotency(s, dedup))
	}
	return provider.NewRegistry(senders)
}

func buildIngestors(cfg *config.Config) []webhook.Ingestor {
	var ingestors []webhook.Ingestor
	if cfg.Webhooks.SESSecret != "" {
		ingestors = append(ingestors, webhook.NewSESIngestor(cfg.Webhooks.SESSecret))
	}
	if cfg.Webhooks.SendGridSecret != "" {
		ingestors = append(ingestors, webhook.NewSendGridIngestor(cfg.Webhooks.SendGridSecret))
	}
	for name, secret := range cfg.Webhooks.GenericSecrets {
		ingestors = append(ingestors, webhook.NewGenericIngestor(name, secret))
	}
	return ingestors
}
