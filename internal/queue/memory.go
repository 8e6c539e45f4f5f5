package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/relay/internal/domain"
)

// MemoryStore is an in-memory Store with the same semantics as the Postgres
// implementation. It backs tests and single-process development; the map is
// one adapter behind the Store contract, not the contract itself.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	batches map[string]*domain.Batch
	claims  map[string]time.Time // jobID -> claim time
	order   []string             // enqueue order for FIFO tie-breaking
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*domain.Job),
		batches: make(map[string]*domain.Batch),
		claims:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	cp.State = domain.StateQueued
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.jobs[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *MemoryStore) EnqueueBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	s.mu.Lock()
	bc := *batch
	bc.CreatedAt = time.Now()
	s.batches[bc.ID] = &bc
	s.mu.Unlock()

	for _, job := range jobs {
		job.BatchID = batch.ID
		if err := s.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Dequeue(ctx context.Context, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*domain.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j == nil || j.State != domain.StateQueued {
			continue
		}
		if j.ScheduledAt != nil && j.ScheduledAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	// Highest priority first; enqueue order breaks ties (order slice is
	// already FIFO, and sort.SliceStable preserves it).
	sort.SliceStable(candidates, func(i, k int) bool {
		return candidates[i].Priority > candidates[k].Priority
	})

	j := candidates[0]
	j.State = domain.StateProcessing
	j.UpdatedAt = now
	s.claims[j.ID] = now
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) MarkState(ctx context.Context, jobID string, state domain.JobState, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.State == state {
		return nil
	}
	if j.State.IsTerminal() {
		return ErrTerminalState
	}
	if !j.State.CanTransitionTo(state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, state)
	}
	j.State = state
	j.StateDetail = detail
	j.UpdatedAt = time.Now()
	delete(s.claims, jobID)
	return nil
}

func (s *MemoryStore) RecordAcceptance(ctx context.Context, jobID, provider, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.ProviderUsed = provider
	j.ProviderMessageID = providerMessageID
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Requeue(ctx context.Context, jobID string, delay time.Duration, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.State != domain.StateProcessing || j.Attempts >= j.MaxAttempts {
		return ErrNotRetryable
	}
	j.Attempts++
	j.State = domain.StateQueued
	j.StateDetail = detail
	at := time.Now().Add(delay)
	j.ScheduledAt = &at
	j.UpdatedAt = time.Now()
	delete(s.claims, jobID)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, jobID string, delay time.Duration, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.State != domain.StateProcessing {
		return ErrNotRetryable
	}
	j.State = domain.StateQueued
	j.StateDetail = detail
	at := time.Now().Add(delay)
	j.ScheduledAt = &at
	j.UpdatedAt = time.Now()
	delete(s.claims, jobID)
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	switch j.State {
	case domain.StateQueued:
		j.State = domain.StateCancelled
		j.StateDetail = "cancelled before dispatch"
		j.CancelRequested = true
		j.UpdatedAt = time.Now()
	case domain.StateProcessing:
		j.CancelRequested = true
		j.UpdatedAt = time.Now()
	default:
		return ErrTerminalState
	}
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.State != domain.StateFailed || j.Attempts >= j.MaxAttempts {
		return ErrNotRetryable
	}
	j.State = domain.StateQueued
	j.StateDetail = "retry requested"
	j.ScheduledAt = nil
	j.CancelRequested = false
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Job, error) {
	if providerMessageID == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.ProviderMessageID == providerMessageID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []domain.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	cp := *b
	cp.JobIDs = nil
	var states []domain.JobState
	for _, id := range s.order {
		j := s.jobs[id]
		if j != nil && j.BatchID == batchID {
			cp.JobIDs = append(cp.JobIDs, id)
			states = append(states, j.State)
		}
	}
	return &cp, states, nil
}

func (s *MemoryStore) ForceFailure(ctx context.Context, jobID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.State == domain.StateFailed {
		return nil
	}
	j.State = domain.StateFailed
	j.StateDetail = detail
	j.UpdatedAt = time.Now()
	delete(s.claims, jobID)
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.QueueStats
	for _, j := range s.jobs {
		switch j.State {
		case domain.StateQueued:
			stats.Waiting++
		case domain.StateProcessing:
			stats.Active++
		case domain.StateCompleted:
			stats.Completed++
		case domain.StateFailed:
			stats.Failed++
		case domain.StateCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (s *MemoryStore) RecoverStale(ctx context.Context, visibility time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-visibility)
	total := 0
	for id, claimedAt := range s.claims {
		if claimedAt.After(cutoff) {
			continue
		}
		j := s.jobs[id]
		if j == nil || j.State != domain.StateProcessing {
			delete(s.claims, id)
			continue
		}
		if j.Attempts < j.MaxAttempts {
			j.Attempts++
			j.State = domain.StateQueued
			j.StateDetail = "requeued after visibility timeout"
		} else {
			j.State = domain.StateFailed
			j.StateDetail = "attempt budget exhausted after stale claim"
		}
		j.UpdatedAt = time.Now()
		delete(s.claims, id)
		total++
	}
	return total, nil
}
