package provider

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// idempotentSender wraps a concrete sender with idempotency-key
// deduplication. A retried Send for the same key after an ambiguous network
// failure resolves to the original acceptance instead of a second email.
type idempotentSender struct {
	base  Sender
	dedup *Dedup
}

// WithIdempotency wraps a sender so that Send is idempotent from the
// caller's perspective, as the adapter contract requires.
func WithIdempotency(base Sender, dedup *Dedup) Sender {
	return &idempotentSender{base: base, dedup: dedup}
}

func (s *idempotentSender) Name() domain.ProviderName { return s.base.Name() }

func (s *idempotentSender) HealthCheck(ctx context.Context) error {
	return s.base.HealthCheck(ctx)
}

func (s *idempotentSender) Send(ctx context.Context, msg *domain.Message, idemKey string) (*domain.SendResult, error) {
	owned, priorID, err := s.dedup.Claim(ctx, idemKey)
	if err != nil {
		// Dedup backend unreachable: refusing to send is the safe side of
		// at-least-once, the worker will retry with backoff.
		return nil, &TransientError{Provider: s.base.Name(), Err: err}
	}
	if !owned {
		if priorID != "" {
			logger.Info("duplicate send short-circuited", "idem_key", idemKey, "provider_message_id", priorID)
			return &domain.SendResult{
				ProviderMessageID: priorID,
				Provider:          string(s.base.Name()),
				SentAt:            time.Now(),
			}, nil
		}
		// A prior send is still in flight; treat as transient so the caller
		// backs off and re-resolves. The provider was never reached, so this
		// error must not count against the job's attempt budget or the
		// provider's health (errors.Is against ErrSendInFlight).
		return nil, &TransientError{Provider: s.base.Name(), Err: ErrSendInFlight}
	}

	result, err := s.base.Send(ctx, msg, idemKey)
	if err != nil {
		if !IsAmbiguous(err) {
			// Definite failure, no email went out: free the key so failover
			// or retry can dispatch immediately.
			s.dedup.Release(ctx, idemKey)
		}
		// Ambiguous: keep the claim so a duplicate cannot slip out until
		// the pending window lapses.
		return nil, err
	}

	s.dedup.RecordAcceptance(ctx, idemKey, result.ProviderMessageID)
	return result, nil
}

// ErrSendInFlight reports that the idempotency claim for this key is held
// by an unresolved prior send. It resolves on its own: the claim lapses
// after PendingClaimTTL, or turns into a recorded acceptance.
var ErrSendInFlight = errors.New("send already in flight for idempotency key")
