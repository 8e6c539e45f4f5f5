package domain

import "time"

// SuppressionType enumerates why an email must not be sent to again.
type SuppressionType string

const (
	SuppressionBounce      SuppressionType = "bounce"
	SuppressionComplaint   SuppressionType = "complaint"
	SuppressionUnsubscribe SuppressionType = "unsubscribe"
	SuppressionManual      SuppressionType = "manual"
)

// Valid reports whether t is a known suppression type.
func (t SuppressionType) Valid() bool {
	switch t {
	case SuppressionBounce, SuppressionComplaint, SuppressionUnsubscribe, SuppressionManual:
		return true
	}
	return false
}

// SuppressionEntry represents a single entry on the suppression list.
// Append-mostly: a given address may accumulate multiple entries; presence
// of any entry suppresses future sends.
type SuppressionEntry struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	Email     string          `json:"email" db:"email"`
	Type      SuppressionType `json:"type" db:"type"`
	Reason    string          `json:"reason,omitempty" db:"reason"`
	Source    string          `json:"source,omitempty" db:"source"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
