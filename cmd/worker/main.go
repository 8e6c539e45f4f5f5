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

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/pkg/distlock"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/provider"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/worker"
)

// Standalone send worker. Runs the pool and the queue recovery loop
// against the same job store as the API server; scale out by running
// more instances.
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
	logger.Info("relay worker starting", "num_workers", cfg.Worker.NumWorkers)

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

	store := queue.NewPostgresStore(db)
	payloads := queue.NewPostgresPayloadStore(db)
	pauser := queue.NewPauser(rdb)

	registry, err := buildRegistry(cfg, rdb)
	if err != nil {
		logger.Error("provider setup failed", "error", err)
		os.Exit(1)
	}
	probeLock := distlock.NewLock(rdb, db, "provider-probe", cfg.Providers.HealthCheckInterval)
	prober := provider.NewProber(registry, cfg.Providers.HealthCheckInterval, probeLock)
	prober.Start()
	defer prober.Stop()

	pool := worker.NewPool(store, payloads, registry, pauser, worker.PoolOptions{
		NumWorkers:     cfg.Worker.NumWorkers,
		PollInterval:   cfg.Worker.PollInterval,
		SendTimeout:    cfg.Worker.SendTimeout,
		BackoffInitial: cfg.Worker.BackoffInitial,
		BackoffMax:     cfg.Worker.BackoffMax,
	})
	pool.Start(ctx)

	recoveryLock := distlock.NewLock(rdb, db, "queue-recovery", cfg.Queue.RecoveryInterval)
	recovery := worker.NewRecoveryWorker(store, recoveryLock, cfg.Queue.RecoveryInterval, cfg.Queue.VisibilityTimeout)
	go recovery.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	pool.Stop()
	logger.Info("relay worker stopped")
}

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
