package event

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ledgerTTL bounds how long processed-event keys are remembered. Providers
// retry duplicates within hours, not weeks.
const ledgerTTL = 7 * 24 * time.Hour

// Ledger records which (providerMessageId, eventType) pairs have been
// applied, making Apply idempotent under duplicate webhook delivery.
type Ledger interface {
	// MarkProcessed claims the key. Returns false when the key was already
	// claimed; the caller must short-circuit.
	MarkProcessed(ctx context.Context, key string) (bool, error)

	// Unmark releases a claimed key. Called when applying the event failed
	// after the claim, so the provider's redelivery can apply it.
	Unmark(ctx context.Context, key string) error
}

// RedisLedger is the production ledger (SETNX with TTL).
type RedisLedger struct {
	rdb *redis.Client
}

// NewRedisLedger creates a Redis-backed processed-event ledger.
func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, key string) (bool, error) {
	return l.rdb.SetNX(ctx, "relay:event:"+key, "1", ledgerTTL).Result()
}

func (l *RedisLedger) Unmark(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, "relay:event:"+key).Err()
}

// MemoryLedger is the in-memory ledger for tests and single-node runs.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]bool)}
}

func (l *MemoryLedger) MarkProcessed(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

func (l *MemoryLedger) Unmark(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.seen, key)
	l.mu.Unlock()
	return nil
}
