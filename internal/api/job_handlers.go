package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/queue"
)

// GetJob handles GET /api/jobs/{id}/status.
func (h *handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, job)
}

// RetryJob handles POST /api/jobs/{id}/retry. Only failed jobs with
// remaining attempt budget are retryable.
func (h *handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Retry(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrNotRetryable) {
			httputil.Error(w, http.StatusConflict, "job is not retryable", "NOT_RETRYABLE")
			return
		}
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"job_id": id, "state": "queued"})
}

// CancelJob handles DELETE /api/jobs/{id}. Queued jobs cancel
// immediately; processing jobs are flagged for cooperative cancellation.
func (h *handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrTerminalState) {
			httputil.Error(w, http.StatusConflict, "job already reached a terminal state", "TERMINAL_STATE")
			return
		}
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"job_id": id, "cancel": "requested"})
}

// GetBatch handles GET /api/batches/{id}. Batch state is derived from
// child job states at read time, never stored.
func (h *handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, states, err := h.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	counts := map[domain.JobState]int{}
	for _, s := range states {
		counts[s]++
	}
	httputil.OK(w, map[string]any{
		"batch":      batch,
		"state":      domain.DeriveBatchState(states),
		"job_states": counts,
		"total_jobs": len(states),
	})
}

// QueueStats handles GET /api/queue/stats.
func (h *handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if h.pauser != nil {
		stats.Paused = h.pauser.IsPaused(r.Context())
	}
	httputil.OK(w, stats)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrNotFound) {
		httputil.NotFound(w, "job not found", "JOB_NOT_FOUND")
		return
	}
	httputil.InternalError(w, err)
}
