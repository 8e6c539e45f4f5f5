package provider

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/relay/internal/domain"
)

var (
	// ErrNoHealthyProvider is returned when routing finds nothing to send through.
	ErrNoHealthyProvider = errors.New("no healthy provider available")

	// ErrUnknownProvider is returned by SwitchPrimary for an unregistered name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// maxConsecutiveFails is how many failed probes mark a provider unhealthy.
const maxConsecutiveFails = 3

// health tracks the mutable routing state for one registered provider.
type health struct {
	sender           Sender
	isPrimary        bool
	isHealthy        bool
	consecutiveFails int
	lastCheckAt      time.Time
	lastError        string
}

// Registry holds the ordered provider list and routes sends. Order is the
// failover order from configuration; the primary flag is revisable at
// runtime through SwitchPrimary without stopping in-flight jobs.
//
// Shared mutably across all workers: the prober is the single writer of
// health state, workers take read snapshots that may lag by one probe
// interval — acceptable for routing decisions.
type Registry struct {
	mu      sync.RWMutex
	order   []domain.ProviderName
	entries map[domain.ProviderName]*health
}

// NewRegistry builds a registry from the ordered sender list. The first
// sender is primary. Providers start healthy until a probe says otherwise.
func NewRegistry(senders []Sender) (*Registry, error) {
	if len(senders) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	r := &Registry{entries: make(map[domain.ProviderName]*health)}
	for i, s := range senders {
		name := s.Name()
		if _, dup := r.entries[name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		r.order = append(r.order, name)
		r.entries[name] = &health{sender: s, isPrimary: i == 0, isHealthy: true}
	}
	return r, nil
}

// Primary returns the current primary sender if it is healthy, else nil.
func (r *Registry) Primary() Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		e := r.entries[name]
		if e.isPrimary && e.isHealthy {
			return e.sender
		}
	}
	return nil
}

// NextHealthy returns the first healthy sender in failover order, skipping
// the given names (already attempted this dispatch).
func (r *Registry) NextHealthy(skip ...domain.ProviderName) (Sender, error) {
	skipped := make(map[domain.ProviderName]bool, len(skip))
	for _, n := range skip {
		skipped[n] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Primary first, then configured order.
	for _, primaryPass := range []bool{true, false} {
		for _, name := range r.order {
			e := r.entries[name]
			if e.isPrimary != primaryPass || skipped[name] || !e.isHealthy {
				continue
			}
			return e.sender, nil
		}
	}
	return nil, ErrNoHealthyProvider
}

// SwitchPrimary changes routing to the named provider. In-flight jobs on
// the old primary are unaffected; only new dispatch follows the switch.
func (r *Registry) SwitchPrimary(name domain.ProviderName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	for _, e := range r.entries {
		e.isPrimary = false
	}
	target.isPrimary = true
	return nil
}

// Get returns the sender registered under name, or nil.
func (r *Registry) Get(name domain.ProviderName) Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.sender
	}
	return nil
}

// Snapshot returns the routing state of every provider in configured order.
func (r *Registry) Snapshot() []domain.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderStatus, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, domain.ProviderStatus{
			Name:              name,
			IsPrimary:         e.isPrimary,
			IsHealthy:         e.isHealthy,
			ConsecutiveFails:  e.consecutiveFails,
			LastHealthCheckAt: e.lastCheckAt,
			LastError:         e.lastError,
		})
	}
	return out
}

// recordProbe updates health state after a probe. Called only by the prober
// (single writer). A provider recovers on the first successful probe.
func (r *Registry) recordProbe(name domain.ProviderName, probeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.lastCheckAt = time.Now()
	if probeErr == nil {
		e.consecutiveFails = 0
		e.isHealthy = true
		e.lastError = ""
		return
	}
	e.consecutiveFails++
	e.lastError = probeErr.Error()
	if e.consecutiveFails >= maxConsecutiveFails {
		e.isHealthy = false
	}
}

// MarkSendFailure feeds worker-observed transport failures into health
// tracking so a dead provider is excluded before the next probe runs.
func (r *Registry) MarkSendFailure(name domain.ProviderName, err error) {
	if !IsTransient(err) {
		// Permanent errors are about the message, not the provider.
		return
	}
	if errors.Is(err, ErrSendInFlight) {
		// A held idempotency claim says nothing about provider health.
		return
	}
	r.recordProbe(name, err)
}
