package event

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/domain"
)

// Counters aggregates per-tenant engagement totals. Opens and clicks only
// touch these; they never transition job state.
type Counters interface {
	Incr(ctx context.Context, tenantID string, eventType domain.EventType) error
	Snapshot(ctx context.Context, tenantID string) (domain.EngagementStats, error)
}

// RedisCounters keeps engagement totals in a per-tenant hash.
type RedisCounters struct {
	rdb *redis.Client
}

// NewRedisCounters creates Redis-backed engagement counters.
func NewRedisCounters(rdb *redis.Client) *RedisCounters {
	return &RedisCounters{rdb: rdb}
}

func countersKey(tenantID string) string { return "relay:engagement:" + tenantID }

func (c *RedisCounters) Incr(ctx context.Context, tenantID string, eventType domain.EventType) error {
	return c.rdb.HIncrBy(ctx, countersKey(tenantID), string(eventType), 1).Err()
}

func (c *RedisCounters) Snapshot(ctx context.Context, tenantID string) (domain.EngagementStats, error) {
	var stats domain.EngagementStats
	vals, err := c.rdb.HGetAll(ctx, countersKey(tenantID)).Result()
	if err != nil {
		return stats, err
	}
	get := func(t domain.EventType) int64 {
		n, _ := strconv.ParseInt(vals[string(t)], 10, 64)
		return n
	}
	stats.Delivered = get(domain.EventDelivered)
	stats.Bounced = get(domain.EventBounced)
	stats.Complained = get(domain.EventComplained)
	stats.Opened = get(domain.EventOpened)
	stats.Clicked = get(domain.EventClicked)
	stats.Failed = get(domain.EventFailed)
	return stats, nil
}

// MemoryCounters is the in-memory Counters implementation.
type MemoryCounters struct {
	mu    sync.Mutex
	stats map[string]map[domain.EventType]int64
}

// NewMemoryCounters creates empty in-memory counters.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{stats: make(map[string]map[domain.EventType]int64)}
}

func (c *MemoryCounters) Incr(ctx context.Context, tenantID string, eventType domain.EventType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats[tenantID] == nil {
		c.stats[tenantID] = make(map[domain.EventType]int64)
	}
	c.stats[tenantID][eventType]++
	return nil
}

func (c *MemoryCounters) Snapshot(ctx context.Context, tenantID string) (domain.EngagementStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.stats[tenantID]
	return domain.EngagementStats{
		Delivered:  m[domain.EventDelivered],
		Bounced:    m[domain.EventBounced],
		Complained: m[domain.EventComplained],
		Opened:     m[domain.EventOpened],
		Clicked:    m[domain.EventClicked],
		Failed:     m[domain.EventFailed],
	}, nil
}
