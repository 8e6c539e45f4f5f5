// Package event applies canonical delivery events to job state, the
// suppression list, and engagement aggregates.
//
// This path must stay fast: webhook handlers block on Apply, so nothing
// here calls a provider or performs slow I/O beyond the stores.
package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
)

// ErrDuplicateEvent is the idempotency short-circuit. Not surfaced to the
// webhook caller — duplicate delivery still gets a 200.
var ErrDuplicateEvent = errors.New("event already applied")

// Processor applies DeliveryEvents.
type Processor struct {
	store       queue.Store
	suppression *suppression.Service
	ledger      Ledger
	counters    Counters
}

// NewProcessor wires the event processor.
func NewProcessor(store queue.Store, supp *suppression.Service, ledger Ledger, counters Counters) *Processor {
	return &Processor{store: store, suppression: supp, ledger: ledger, counters: counters}
}

// Apply maps an event to its effects. Applying the same event twice
// (duplicate webhook delivery) is a no-op on the second application.
func (p *Processor) Apply(ctx context.Context, ev domain.DeliveryEvent) error {
	if !ev.EventType.Valid() {
		return fmt.Errorf("invalid event type %q", ev.EventType)
	}

	fresh, err := p.ledger.MarkProcessed(ctx, ev.DedupKey())
	if err != nil {
		return fmt.Errorf("event ledger: %w", err)
	}
	if !fresh {
		logger.Debug("duplicate event short-circuited", "key", ev.DedupKey())
		return ErrDuplicateEvent
	}

	if err := p.applyEffects(ctx, ev); err != nil {
		// The effects did not land; release the claim so the provider's
		// redelivery is not short-circuited as a duplicate.
		if uerr := p.ledger.Unmark(ctx, ev.DedupKey()); uerr != nil {
			logger.Error("event ledger unmark failed", "key", ev.DedupKey(), "error", uerr)
		}
		return err
	}
	return nil
}

// applyEffects performs the state, suppression, and counter effects of a
// fresh event. Any error leaves the event unapplied from the caller's view.
func (p *Processor) applyEffects(ctx context.Context, ev domain.DeliveryEvent) error {
	job, err := p.store.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil && !errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("resolve job for event: %w", err)
	}
	// A missing job is not fatal: events can outlive job retention, and
	// engagement/suppression effects still apply.
	tenantID := ev.TenantID
	if job != nil && tenantID == "" {
		tenantID = job.TenantID
	}

	switch ev.EventType {
	case domain.EventDelivered:
		if job != nil {
			if err := p.store.MarkState(ctx, job.ID, domain.StateCompleted, "provider confirmed delivery"); err != nil &&
				!errors.Is(err, queue.ErrTerminalState) {
				return err
			}
		}

	case domain.EventBounced, domain.EventComplained:
		// Dominance rule: a bounce or complaint wins over a stale delivered,
		// so ForceFailure applies even when the job already completed.
		if job != nil {
			detail := fmt.Sprintf("%s reported by %s", ev.EventType, ev.RawProviderName)
			if err := p.store.ForceFailure(ctx, job.ID, detail); err != nil {
				return err
			}
		}
		typ := domain.SuppressionBounce
		if ev.EventType == domain.EventComplained {
			typ = domain.SuppressionComplaint
		}
		reason := ev.Reason
		if reason == "" {
			reason = string(ev.EventType)
		}
		if err := p.suppression.Suppress(ctx, tenantID, ev.EmailAddress, typ, reason, ev.RawProviderName+"_webhook"); err != nil {
			return fmt.Errorf("suppress %s: %w", logger.RedactEmail(ev.EmailAddress), err)
		}

	case domain.EventFailed:
		if job != nil {
			detail := "provider reported failure"
			if ev.Reason != "" {
				detail = ev.Reason
			}
			if err := p.store.MarkState(ctx, job.ID, domain.StateFailed, detail); err != nil &&
				!errors.Is(err, queue.ErrTerminalState) {
				return err
			}
		}

	case domain.EventOpened, domain.EventClicked:
		// Engagement only; no job state transition.
	}

	if tenantID != "" {
		if err := p.counters.Incr(ctx, tenantID, ev.EventType); err != nil {
			logger.Warn("engagement counter update failed", "tenant_id", tenantID, "error", err)
		}
	}
	return nil
}
