package worker

import (
	"context"
	"time"

	"github.com/ignite/relay/internal/pkg/distlock"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
)

const (
	// DefaultRecoveryInterval is how often stale claims are scanned for.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultVisibilityTimeout is how long a claim may be held before the
	// owning worker is presumed dead.
	DefaultVisibilityTimeout = 5 * time.Minute
)

// RecoveryWorker requeues jobs whose claim outlived the visibility
// timeout. A worker that crashes mid-processing leaves its job claimed;
// without this loop such jobs would be stuck forever.
type RecoveryWorker struct {
	store      queue.Store
	lock       distlock.DistLock
	interval   time.Duration
	visibility time.Duration
}

// NewRecoveryWorker builds a recovery worker. lock may be nil when only
// one instance runs recovery (tests, single-node deployments).
func NewRecoveryWorker(store queue.Store, lock distlock.DistLock, interval, visibility time.Duration) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &RecoveryWorker{store: store, lock: lock, interval: interval, visibility: visibility}
}

// Start runs the recovery loop until ctx is cancelled.
func (r *RecoveryWorker) Start(ctx context.Context) {
	logger.Info("queue recovery starting",
		"interval", r.interval.String(),
		"visibility_timeout", r.visibility.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue recovery stopping")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce performs a single recovery sweep, guarded by the distributed
// lock so only one instance sweeps at a time.
func (r *RecoveryWorker) runOnce(ctx context.Context) {
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			logger.Warn("recovery lock error", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer r.lock.Release(ctx)
	}

	n, err := r.store.RecoverStale(ctx, r.visibility)
	if err != nil {
		logger.Error("stale claim recovery failed", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("recovered stale claims", "count", n)
	}
}
