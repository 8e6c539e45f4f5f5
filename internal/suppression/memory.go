package suppression

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/relay/internal/domain"
)

// MemoryRepository is an in-memory suppression store for tests and
// single-process development.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.SuppressionEntry // tenantID -> entries
}

// NewMemoryRepository creates an empty in-memory suppression repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string][]domain.SuppressionEntry)}
}

func (r *MemoryRepository) IsSuppressed(ctx context.Context, tenantID, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries[tenantID] {
		if e.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Add(ctx context.Context, entry *domain.SuppressionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries[entry.TenantID] {
		if e.Email == entry.Email && e.Type == entry.Type {
			return nil // existing record preserved
		}
	}
	cp := *entry
	cp.CreatedAt = time.Now()
	r.entries[entry.TenantID] = append(r.entries[entry.TenantID], cp)
	return nil
}

func (r *MemoryRepository) Remove(ctx context.Context, tenantID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[tenantID]
	var kept []domain.SuppressionEntry
	for _, e := range list {
		if e.Email != email {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(list) {
		return ErrNotFound
	}
	r.entries[tenantID] = kept
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.SuppressionEntry
	for _, e := range r.entries[tenantID] {
		if filter.Type != "" && string(e.Type) != filter.Type {
			continue
		}
		if filter.Search != "" && !strings.Contains(e.Email, filter.Search) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	total := len(r.entries[tenantID])
	if filter.Limit > 0 {
		start := filter.Offset
		if start > len(matched) {
			start = len(matched)
		}
		end := start + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (r *MemoryRepository) Count(ctx context.Context, tenantID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range r.entries[tenantID] {
		seen[e.Email] = true
	}
	return len(seen), nil
}
