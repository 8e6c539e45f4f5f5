package provider

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/pkg/logger"
)

const (
	// PendingClaimTTL bounds how long an unresolved claim blocks a retry.
	// An ambiguous failure (timeout after the request was written) keeps its
	// claim for this window; after that a retry may send again. Chosen to
	// exceed any provider send timeout. Exported so the worker can defer a
	// blocked job past the window instead of spinning on it.
	PendingClaimTTL = 2 * time.Minute

	// acceptedTTL keeps recorded acceptances long enough to absorb worker
	// retries and delayed requeues.
	acceptedTTL = 24 * time.Hour
)

// Dedup prevents duplicate sends when a Send call is retried after an
// ambiguous network failure. The flow is claim-then-send: a worker claims
// the idempotency key before dispatch; if the claim is already held, the
// previously recorded acceptance is returned instead of re-sending.
//
// Redis-backed when a client is provided (SETNX with TTL), with a
// process-local map fallback for tests and single-node runs.
type Dedup struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	messageID string // "" = claimed, in flight
	expiresAt time.Time
}

// NewDedup creates a dedup layer. rdb may be nil.
func NewDedup(rdb *redis.Client) *Dedup {
	return &Dedup{rdb: rdb, local: make(map[string]localEntry)}
}

// Claim attempts to claim the key for sending. Returns (true, "") when this
// caller owns the send, or (false, messageID) when a prior send already
// holds the key; messageID is empty if that send is still in flight.
func (d *Dedup) Claim(ctx context.Context, idemKey string) (bool, string, error) {
	if d.rdb == nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		if e, ok := d.local[idemKey]; ok && time.Now().Before(e.expiresAt) {
			return false, e.messageID, nil
		}
		d.local[idemKey] = localEntry{expiresAt: time.Now().Add(PendingClaimTTL)}
		return true, "", nil
	}

	ok, err := d.rdb.SetNX(ctx, "relay:send:"+idemKey, "", PendingClaimTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	mid, err := d.rdb.Get(ctx, "relay:send:"+idemKey).Result()
	if err != nil && err != redis.Nil {
		return false, "", err
	}
	return false, mid, nil
}

// RecordAcceptance stores the provider message id under the key so a later
// retry resolves to the original acceptance.
func (d *Dedup) RecordAcceptance(ctx context.Context, idemKey, providerMessageID string) {
	if d.rdb == nil {
		d.mu.Lock()
		d.local[idemKey] = localEntry{messageID: providerMessageID, expiresAt: time.Now().Add(acceptedTTL)}
		d.mu.Unlock()
		return
	}
	if err := d.rdb.Set(ctx, "relay:send:"+idemKey, providerMessageID, acceptedTTL).Err(); err != nil {
		logger.Warn("dedup acceptance record failed", "key", idemKey, "error", err)
	}
}

// Release frees the key after a definite (non-ambiguous) failure so the
// retry may send again.
func (d *Dedup) Release(ctx context.Context, idemKey string) {
	if d.rdb == nil {
		d.mu.Lock()
		delete(d.local, idemKey)
		d.mu.Unlock()
		return
	}
	if err := d.rdb.Del(ctx, "relay:send:"+idemKey).Err(); err != nil {
		logger.Warn("dedup release failed", "key", idemKey, "error", err)
	}
}
