package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// PostgresStore is the production Store implementation. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never block each other and
// never claim the same job.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed job store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the job tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_batches (
			id         UUID PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS relay_jobs (
			id                  UUID PRIMARY KEY,
			tenant_id           TEXT NOT NULL,
			batch_id            UUID REFERENCES relay_batches(id),
			kind                TEXT NOT NULL,
			recipients          TEXT[] NOT NULL,
			payload_ref         TEXT NOT NULL,
			priority            INT NOT NULL DEFAULT 0,
			state               TEXT NOT NULL DEFAULT 'queued',
			state_detail        TEXT NOT NULL DEFAULT '',
			attempts            INT NOT NULL DEFAULT 0,
			max_attempts        INT NOT NULL DEFAULT 5,
			provider_used       TEXT NOT NULL DEFAULT '',
			provider_message_id TEXT NOT NULL DEFAULT '',
			cancel_requested    BOOLEAN NOT NULL DEFAULT FALSE,
			worker_id           TEXT,
			claimed_at          TIMESTAMPTZ,
			scheduled_at        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_relay_jobs_dequeue
			ON relay_jobs (priority DESC, created_at)
			WHERE state = 'queued';
		CREATE INDEX IF NOT EXISTS idx_relay_jobs_pmid
			ON relay_jobs (provider_message_id)
			WHERE provider_message_id <> '';
		CREATE INDEX IF NOT EXISTS idx_relay_jobs_batch
			ON relay_jobs (batch_id) WHERE batch_id IS NOT NULL;
	`)
	return err
}

const jobColumns = `id, tenant_id, COALESCE(batch_id::text, ''), kind, recipients, payload_ref,
	priority, state, state_detail, attempts, max_attempts, provider_used,
	provider_message_id, cancel_requested, created_at, updated_at, scheduled_at`

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	var j domain.Job
	var recipients pq.StringArray
	var scheduledAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.TenantID, &j.BatchID, &j.Kind, &recipients, &j.PayloadRef,
		&j.Priority, &j.State, &j.StateDetail, &j.Attempts, &j.MaxAttempts,
		&j.ProviderUsed, &j.ProviderMessageID, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt, &scheduledAt,
	)
	if err != nil {
		return nil, err
	}
	j.Recipients = []string(recipients)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		j.ScheduledAt = &t
	}
	return &j, nil
}

// Enqueue persists a new job in the queued state.
func (s *PostgresStore) Enqueue(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_jobs
			(id, tenant_id, batch_id, kind, recipients, payload_ref, priority,
			 state, max_attempts, scheduled_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, 'queued', $8, $9)
	`, job.ID, job.TenantID, job.BatchID, job.Kind, pq.Array(job.Recipients),
		job.PayloadRef, job.Priority, job.MaxAttempts, job.ScheduledAt)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueBatch persists a batch and its child jobs in one transaction.
func (s *PostgresStore) EnqueueBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_batches (id, tenant_id, kind) VALUES ($1, $2, $3)
	`, batch.ID, batch.TenantID, batch.Kind); err != nil {
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}

	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relay_jobs
				(id, tenant_id, batch_id, kind, recipients, payload_ref, priority,
				 state, max_attempts, scheduled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'queued', $8, $9)
		`, job.ID, job.TenantID, batch.ID, job.Kind, pq.Array(job.Recipients),
			job.PayloadRef, job.Priority, job.MaxAttempts, job.ScheduledAt); err != nil {
			return fmt.Errorf("insert batch job %s: %w", job.ID, err)
		}
	}

	return tx.Commit()
}

// Dequeue claims the next eligible job using FOR UPDATE SKIP LOCKED.
// Returns (nil, nil) when nothing is eligible.
func (s *PostgresStore) Dequeue(ctx context.Context, workerID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH claimed AS (
			SELECT id FROM relay_jobs
			WHERE state = 'queued'
			  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE relay_jobs j
		SET state = 'processing', worker_id = $1, claimed_at = NOW(), updated_at = NOW()
		FROM claimed c
		WHERE j.id = c.id
		RETURNING `+jobColumns,
		workerID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return job, nil
}

// MarkState transitions a job, enforcing the state machine inside a
// transaction so concurrent webhook and worker writes cannot interleave.
func (s *PostgresStore) MarkState(ctx context.Context, jobID string, state domain.JobState, detail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current domain.JobState
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM relay_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if current == state {
		return tx.Commit() // idempotent no-op
	}
	if current.IsTerminal() {
		return ErrTerminalState
	}
	if !current.CanTransitionTo(state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = $2, state_detail = $3, worker_id = NULL, claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, jobID, state, detail); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordAcceptance stores provider acceptance before any failover decision.
func (s *PostgresStore) RecordAcceptance(ctx context.Context, jobID, provider, providerMessageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET provider_used = $2, provider_message_id = $3, updated_at = NOW()
		WHERE id = $1
	`, jobID, provider, providerMessageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue returns a claimed job to the queue after a transient failure.
func (s *PostgresStore) Requeue(ctx context.Context, jobID string, delay time.Duration, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'queued', attempts = attempts + 1, state_detail = $2,
		    worker_id = NULL, claimed_at = NULL,
		    scheduled_at = NOW() + $3 * INTERVAL '1 millisecond',
		    updated_at = NOW()
		WHERE id = $1 AND state = 'processing' AND attempts < max_attempts
	`, jobID, detail, delay.Milliseconds())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRetryable
	}
	return nil
}

// Release returns a claimed job to the queue without touching its attempt
// count. No attempts guard: a release is a wait, not a retry.
func (s *PostgresStore) Release(ctx context.Context, jobID string, delay time.Duration, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'queued', state_detail = $2,
		    worker_id = NULL, claimed_at = NULL,
		    scheduled_at = NOW() + $3 * INTERVAL '1 millisecond',
		    updated_at = NOW()
		WHERE id = $1 AND state = 'processing'
	`, jobID, detail, delay.Milliseconds())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRetryable
	}
	return nil
}

// Cancel cancels a queued job, or flags a processing job for cooperative
// cancellation at the worker's next checkpoint.
func (s *PostgresStore) Cancel(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current domain.JobState
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM relay_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	switch {
	case current == domain.StateQueued:
		_, err = tx.ExecContext(ctx, `
			UPDATE relay_jobs
			SET state = 'cancelled', state_detail = 'cancelled before dispatch',
			    cancel_requested = TRUE, updated_at = NOW()
			WHERE id = $1
		`, jobID)
	case current == domain.StateProcessing:
		_, err = tx.ExecContext(ctx, `
			UPDATE relay_jobs
			SET cancel_requested = TRUE, updated_at = NOW()
			WHERE id = $1
		`, jobID)
	default:
		return ErrTerminalState
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Retry re-enqueues a failed job while it has budget left.
func (s *PostgresStore) Retry(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'queued', state_detail = 'retry requested',
		    worker_id = NULL, claimed_at = NULL, scheduled_at = NULL,
		    cancel_requested = FALSE, updated_at = NOW()
		WHERE id = $1 AND state = 'failed' AND attempts < max_attempts
	`, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Distinguish the rejection reason for the caller.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM relay_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotRetryable
}

// Get returns a job by id.
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM relay_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// GetByProviderMessageID resolves the job a webhook event refers to.
func (s *PostgresStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Job, error) {
	if providerMessageID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM relay_jobs WHERE provider_message_id = $1`, providerMessageID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// GetBatch returns the batch record and its children's current states.
func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []domain.JobState, error) {
	var batch domain.Batch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, created_at FROM relay_batches WHERE id = $1
	`, batchID).Scan(&batch.ID, &batch.TenantID, &batch.Kind, &batch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state FROM relay_jobs WHERE batch_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var states []domain.JobState
	for rows.Next() {
		var id string
		var st domain.JobState
		if err := rows.Scan(&id, &st); err != nil {
			return nil, nil, err
		}
		batch.JobIDs = append(batch.JobIDs, id)
		states = append(states, st)
	}
	return &batch, states, rows.Err()
}

// ForceFailure applies the bounce/complaint dominance rule: a stale
// delivered outcome yields to the failure signal even if the job already
// completed.
func (s *PostgresStore) ForceFailure(ctx context.Context, jobID, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'failed', state_detail = $2, updated_at = NOW()
		WHERE id = $1 AND state <> 'failed'
	`, jobID, detail)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already failed, or missing. Dominance application is idempotent.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM relay_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// Stats returns job counts by state from a single statement, which reads a
// consistent snapshot under Postgres MVCC.
func (s *PostgresStore) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM relay_jobs GROUP BY state`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var state domain.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, err
		}
		switch state {
		case domain.StateQueued:
			stats.Waiting = count
		case domain.StateProcessing:
			stats.Active = count
		case domain.StateCompleted:
			stats.Completed = count
		case domain.StateFailed:
			stats.Failed = count
		case domain.StateCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// RecoverStale handles worker-crash safety: claims older than the visibility
// window are either requeued (budget remaining) or failed terminally.
func (s *PostgresStore) RecoverStale(ctx context.Context, visibility time.Duration) (int, error) {
	total := 0

	res, err := s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'queued', attempts = attempts + 1,
		    state_detail = 'requeued after visibility timeout',
		    worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE state = 'processing'
		  AND claimed_at < NOW() - $1 * INTERVAL '1 millisecond'
		  AND attempts < max_attempts
	`, visibility.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("recover requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		total += int(n)
		logger.Info("requeued stale claims", "count", n)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE relay_jobs
		SET state = 'failed', state_detail = 'attempt budget exhausted after stale claim',
		    worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE state = 'processing'
		  AND claimed_at < NOW() - $1 * INTERVAL '1 millisecond'
		  AND attempts >= max_attempts
	`, visibility.Milliseconds())
	if err != nil {
		return total, fmt.Errorf("recover fail: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		total += int(n)
		logger.Warn("failed stale claims with no attempt budget", "count", n)
	}

	return total, nil
}
