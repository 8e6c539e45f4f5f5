// Package suppression manages the list of addresses that must not receive
// further sends. Admission consults it; the event processor writes to it.
package suppression

import (
	"context"

	"github.com/ignite/relay/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed returns true if the email has any entry on the list.
	IsSuppressed(ctx context.Context, tenantID, email string) (bool, error)

	// Add appends an entry. Idempotent per (tenant, email, type): if an
	// equivalent entry exists, the existing record is preserved.
	Add(ctx context.Context, entry *domain.SuppressionEntry) error

	// Remove deletes all entries for an email. Returns ErrNotFound if the
	// email is not suppressed.
	Remove(ctx context.Context, tenantID, email string) error

	// List returns entries matching the filter plus the total count.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.SuppressionEntry, int, error)

	// Count returns the number of suppressed emails for a tenant.
	Count(ctx context.Context, tenantID string) (int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Type   string
	Search string
	Limit  int
	Offset int
}
