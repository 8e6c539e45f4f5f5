package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/event"
	"github.com/ignite/relay/internal/pkg/httpretry"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/provider"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
	"github.com/ignite/relay/internal/webhook"
)

// handlers holds all HTTP handlers and their dependencies.
type handlers struct {
	admission   *admission.Controller
	store       queue.Store
	pauser      *queue.Pauser
	registry    *provider.Registry
	prober      *provider.Prober
	suppression *suppression.Service
	processor   *event.Processor
	counters    event.Counters
	ingestors   map[string]webhook.Ingestor
	health      *HealthChecker
	maxBody     int64

	// snsConfirm fetches SNS SubscribeURLs. Confirmation windows are
	// short, so transient fetch failures are retried inline.
	snsConfirm *httpretry.Client
}

func newHandlers(deps Deps) *handlers {
	ing := make(map[string]webhook.Ingestor, len(deps.Ingestors))
	for _, i := range deps.Ingestors {
		ing[i.Provider()] = i
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &handlers{
		admission:   deps.Admission,
		store:       deps.Store,
		pauser:      deps.Pauser,
		registry:    deps.Registry,
		prober:      deps.Prober,
		suppression: deps.Suppression,
		processor:   deps.Processor,
		counters:    deps.Counters,
		ingestors:   ing,
		health:      deps.Health,
		maxBody:     maxBody,
		snsConfirm:  httpretry.New(&http.Client{Timeout: 10 * time.Second}, 3),
	}
}

// SubmitSingle handles POST /api/send/single. Admission is synchronous; the
// send itself is asynchronous, hence 202.
func (h *handlers) SubmitSingle(w http.ResponseWriter, r *http.Request) {
	var req admission.Request
	if !httputil.Decode(w, r, &req) {
		return
	}
	jobID, err := h.admission.Submit(r.Context(), req)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"job_id": jobID, "state": "queued"})
}

// SubmitBatch returns the handler for POST /api/send/bulk or /send/campaign.
// The job kind comes from the route, not the request body.
func (h *handlers) SubmitBatch(kind domain.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req admission.Request
		if !httputil.Decode(w, r, &req) {
			return
		}
		req.Kind = kind
		batchID, err := h.admission.SubmitBatch(r.Context(), req)
		if err != nil {
			writeAdmissionError(w, err)
			return
		}
		httputil.Accepted(w, map[string]string{"batch_id": batchID, "state": "queued"})
	}
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	var vErr *admission.ValidationError
	if errors.As(err, &vErr) {
		httputil.BadRequest(w, vErr.Error(), "VALIDATION_ERROR")
		return
	}
	var qErr *admission.QuotaExceededError
	if errors.As(err, &qErr) {
		httputil.Error(w, http.StatusTooManyRequests, qErr.Error(), "QUOTA_EXCEEDED")
		return
	}
	httputil.InternalError(w, err)
}
