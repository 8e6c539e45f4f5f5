package provider

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/relay/internal/pkg/distlock"
	"github.com/ignite/relay/internal/pkg/logger"
)

// Prober runs periodic health checks against every registered provider and
// is the single writer of registry health state. It is an explicitly
// constructed instance with a start/stop lifecycle — no ambient globals,
// no lazy initialization.
type Prober struct {
	registry *Registry
	interval time.Duration
	lock     distlock.DistLock // nil disables cross-host exclusion

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProber creates a health prober. lock may be nil when only one process
// hosts the prober.
func NewProber(registry *Registry, interval time.Duration, lock distlock.DistLock) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{registry: registry, interval: interval, lock: lock}
}

// Start begins probing. Idempotent; a second Start is a no-op.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx)
	logger.Info("health prober started", "interval", p.interval)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every provider once. Also used for the on-demand probe
// behind the admin health endpoint.
func (p *Prober) ProbeAll(ctx context.Context) {
	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			logger.Warn("prober lock error", "error", err)
			return
		}
		if !ok {
			return // another process holds the probe duty
		}
		defer p.lock.Release(ctx)
	}

	for _, status := range p.registry.Snapshot() {
		sender := p.registry.Get(status.Name)
		if sender == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.HealthCheck(probeCtx)
		cancel()

		p.registry.recordProbe(status.Name, err)
		if err != nil {
			logger.Warn("provider probe failed", "provider", status.Name, "error", err)
		}
	}
}
