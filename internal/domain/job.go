package domain

import "time"

// JobKind distinguishes the three submission shapes.
type JobKind string

const (
	KindSingle   JobKind = "single"
	KindBulk     JobKind = "bulk"
	KindCampaign JobKind = "campaign"
)

// JobState is the lifecycle state of a send job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether a job in this state can no longer transition.
// Terminal states are never left; the single exception is the bounce
// dominance rule applied by the event processor, which records a failure
// override on a completed job rather than rewriting history silently.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotonic state machine:
// queued → processing → {completed|failed|cancelled}, plus
// failed → queued via explicit retry and queued → cancelled.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case StateQueued:
		return next == StateProcessing || next == StateCancelled
	case StateProcessing:
		return next == StateCompleted || next == StateFailed || next == StateCancelled || next == StateQueued
	case StateFailed:
		// Only via Retry, which additionally checks the attempt budget.
		return next == StateQueued
	}
	return false
}

// Job is a unit of send work tracked from submission to terminal outcome.
type Job struct {
	ID           string     `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	BatchID      string     `json:"batch_id,omitempty" db:"batch_id"`
	Kind         JobKind    `json:"kind" db:"kind"`
	Recipients   []string   `json:"recipients" db:"recipients"`
	PayloadRef   string     `json:"payload_ref" db:"payload_ref"`
	Priority     int        `json:"priority" db:"priority"`
	State        JobState   `json:"state" db:"state"`
	StateDetail  string     `json:"state_detail,omitempty" db:"state_detail"`
	Attempts     int        `json:"attempts" db:"attempts"`
	MaxAttempts  int        `json:"max_attempts" db:"max_attempts"`
	ProviderUsed string     `json:"provider_used,omitempty" db:"provider_used"`
	// ProviderMessageID is set once a provider accepts the message. A job with
	// a non-empty ProviderMessageID must never be re-sent, even on failover.
	ProviderMessageID string     `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CancelRequested   bool       `json:"cancel_requested,omitempty" db:"cancel_requested"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
}

// BatchState is derived purely from child job states.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchPartial   BatchState = "partial"
	BatchFailed    BatchState = "failed"
)

// Batch groups child jobs created by a bulk or campaign submission.
type Batch struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Kind      JobKind   `json:"kind" db:"kind"`
	JobIDs    []string  `json:"job_ids" db:"job_ids"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DeriveBatchState computes the aggregate state from child states.
// completed iff all children completed; failed iff all terminal and none
// completed; partial iff all terminal and outcomes are mixed.
func DeriveBatchState(children []JobState) BatchState {
	if len(children) == 0 {
		return BatchPending
	}
	completed, failed, terminal := 0, 0, 0
	for _, s := range children {
		if s.IsTerminal() {
			terminal++
		}
		switch s {
		case StateCompleted:
			completed++
		case StateFailed, StateCancelled:
			failed++
		}
	}
	if terminal < len(children) {
		if terminal == 0 && completed == 0 {
			return BatchPending
		}
		return BatchRunning
	}
	switch {
	case completed == len(children):
		return BatchCompleted
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

// QueueStats is a consistent snapshot of job counts by state.
type QueueStats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Cancelled int  `json:"cancelled"`
	Paused    bool `json:"paused"`
}
