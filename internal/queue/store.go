// Package queue implements the durable job store and the visibility-timeout
// queue that feeds the send worker pool.
//
// A dequeue claims a job: the job becomes invisible to other workers while
// the claim holds. If the worker never acknowledges (crash, partition), the
// recovery pass returns the job to the queue once the visibility window
// lapses. This is the at-least-once guarantee; send-side idempotency keys
// keep at-least-once from becoming more-than-once on the wire.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/relay/internal/domain"
)

var (
	// ErrNotFound is returned when a job or batch id does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrTerminalState is returned when an operation targets a job that has
	// already reached a terminal state. Terminal states are never left.
	ErrTerminalState = errors.New("job is in a terminal state")

	// ErrInvalidTransition is returned when a state change would violate the
	// job state machine.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotRetryable is returned by Retry when the job is not in the failed
	// state or its attempt budget is exhausted.
	ErrNotRetryable = errors.New("job is not retryable")
)

// Store is the durable record of jobs and the single writer of job state.
// All state transitions are linearized through it: the claim mechanism
// guarantees no two workers hold the same job concurrently.
type Store interface {
	// Enqueue persists a new job in the queued state.
	Enqueue(ctx context.Context, job *domain.Job) error

	// EnqueueBatch persists a batch and its child jobs atomically.
	EnqueueBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error

	// Dequeue claims the next eligible job for the given worker. Returns
	// (nil, nil) when the queue is empty. A claimed job is invisible to
	// other workers until acknowledged or recovered.
	Dequeue(ctx context.Context, workerID string) (*domain.Job, error)

	// MarkState transitions a job to a new state, enforcing the state
	// machine. detail is recorded for operator visibility.
	MarkState(ctx context.Context, jobID string, state domain.JobState, detail string) error

	// RecordAcceptance stores the provider and provider message id the
	// moment a provider accepts the message. Runs before any failover
	// decision so an accepted job is never re-sent.
	RecordAcceptance(ctx context.Context, jobID, provider, providerMessageID string) error

	// Requeue returns a claimed job to the queue after a transient failure,
	// incrementing attempts and deferring visibility by delay.
	Requeue(ctx context.Context, jobID string, delay time.Duration, detail string) error

	// Release returns a claimed job to the queue without consuming an
	// attempt, deferring visibility by delay. Used when the dispatch never
	// reached a provider and the job only needs to wait (a held idempotency
	// claim): such waits must not count against the attempt budget.
	Release(ctx context.Context, jobID string, delay time.Duration, detail string) error

	// Cancel cancels a queued job immediately, or flags a processing job
	// for cooperative cancellation. Terminal jobs return ErrTerminalState.
	Cancel(ctx context.Context, jobID string) error

	// Retry re-enqueues a failed job while attempts < maxAttempts.
	Retry(ctx context.Context, jobID string) error

	// Get returns a job by id.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// GetByProviderMessageID resolves the job a webhook event refers to.
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Job, error)

	// GetBatch returns a batch and the current states of its children.
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, []domain.JobState, error)

	// ForceFailure moves a job to failed regardless of a prior completed
	// state. Reserved for the bounce/complaint dominance rule; every use is
	// recorded in the state detail.
	ForceFailure(ctx context.Context, jobID, detail string) error

	// Stats returns a consistent snapshot of job counts by state.
	Stats(ctx context.Context) (domain.QueueStats, error)

	// RecoverStale requeues jobs whose claim outlived the visibility
	// timeout, or fails them terminally if the attempt budget is spent.
	// Returns the number of jobs touched.
	RecoverStale(ctx context.Context, visibility time.Duration) (int, error)
}
