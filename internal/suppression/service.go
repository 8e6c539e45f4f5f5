package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent
// use; all methods take typed inputs and return typed outputs.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsSuppressed checks whether an email address should be blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, tenantID, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, tenantID, normalize(email))
}

// Suppress adds an email to the suppression list. Idempotent — an existing
// equivalent entry is preserved.
func (s *Service) Suppress(ctx context.Context, tenantID, email string, typ domain.SuppressionType, reason, source string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	entry := &domain.SuppressionEntry{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Email:    email,
		Type:     typ,
		Reason:   reason,
		Source:   source,
	}
	return s.repo.Add(ctx, entry)
}

// Remove deletes all suppression entries for an email.
func (s *Service) Remove(ctx context.Context, tenantID, email string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.repo.Remove(ctx, tenantID, email)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	return s.repo.List(ctx, tenantID, filter)
}

// Stats holds aggregate counts grouped by suppression type.
type Stats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// GetStats computes suppression statistics for the admin surface.
func (s *Service) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, tenantID, ListFilter{Limit: 0})
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: total, ByType: make(map[string]int)}
	for _, e := range entries {
		stats.ByType[string(e.Type)]++
	}
	return stats, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
