package admission

import "fmt"

// ValidationError rejects a malformed request. Non-retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// QuotaExceededError rejects a request that would put the tenant over a
// configured limit. Non-retryable now; the caller may retry after the
// quota window resets.
type QuotaExceededError struct {
	TenantID string
	Limit    string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s over %s limit", e.TenantID, e.Limit)
}
