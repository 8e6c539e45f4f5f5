// Package provider contains the email sending provider adapters and the
// registry that routes between them.
//
// Adapters are split into individual files:
//   - ses.go:       AWS SES via the v2 SDK
//   - sendgrid.go:  SendGrid v3 Mail Send
//   - sparkpost.go: SparkPost Transmissions API
//   - registry.go:  ordered routing, primary selection, health tracking
//   - prober.go:    periodic health checks (single writer of health state)
//   - dedup.go:     idempotency-key deduplication for retried sends
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/relay/internal/domain"
)

// Sender is the uniform capability set over concrete providers.
type Sender interface {
	// Name returns the provider's routing name.
	Name() domain.ProviderName

	// Send submits the message. idemKey is the caller-supplied idempotency
	// token; an adapter retried after an ambiguous network failure must not
	// produce a second email for the same key.
	Send(ctx context.Context, msg *domain.Message, idemKey string) (*domain.SendResult, error)

	// HealthCheck probes the provider. A nil return means healthy.
	HealthCheck(ctx context.Context) error
}

// TransientError marks a failure worth retrying: timeouts, 5xx-equivalents,
// throttling. The worker consumes attempt budget and backs off.
//
// Ambiguous is set when the outcome is unknown (the request may have reached
// the provider before the failure). An ambiguous failure keeps its dedup
// claim so a retry cannot produce a second email; a definite failure
// releases it so failover can dispatch immediately.
type TransientError struct {
	Provider  domain.ProviderName
	Err       error
	Ambiguous bool
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: invalid
// recipient, rejected content, hard bounce at send time. The job fails
// terminally without consuming further budget.
type PermanentError struct {
	Provider domain.ProviderName
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should consume retry budget.
// Unclassified errors are treated as transient: an ambiguous network fault
// must be retried (the dedup layer makes the retry safe).
func IsTransient(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// IsAmbiguous reports whether the send outcome is unknown. Unclassified
// errors count as ambiguous for the same reason they count as transient.
func IsAmbiguous(err error) bool {
	var tr *TransientError
	if errors.As(err, &tr) {
		return tr.Ambiguous
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// classifyStatus maps an HTTP status from a provider API to a typed error.
func classifyStatus(name domain.ProviderName, status int, body string) error {
	err := fmt.Errorf("status %d: %s", status, body)
	switch {
	case status == 429 || status >= 500:
		return &TransientError{Provider: name, Err: err}
	case status >= 400:
		return &PermanentError{Provider: name, Err: err}
	}
	return nil
}
