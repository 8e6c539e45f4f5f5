package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/provider"
)

// PauseQueue handles POST /api/admin/queue/pause. Workers stop
// claiming new jobs; in-flight jobs finish normally.
func (h *handlers) PauseQueue(w http.ResponseWriter, r *http.Request) {
	if h.pauser == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "queue pause is not configured", "NOT_CONFIGURED")
		return
	}
	if err := h.pauser.Pause(r.Context()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Warn("queue paused by operator")
	httputil.OK(w, map[string]string{"queue": "paused"})
}

// ResumeQueue handles POST /api/admin/queue/resume.
func (h *handlers) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	if h.pauser == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "queue pause is not configured", "NOT_CONFIGURED")
		return
	}
	if err := h.pauser.Resume(r.Context()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Info("queue resumed by operator")
	httputil.OK(w, map[string]string{"queue": "running"})
}

// ListProviders handles GET /api/admin/providers.
func (h *handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.registry.Snapshot())
}

// SwitchProvider handles POST /api/admin/providers/switch.
func (h *handlers) SwitchProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.registry.SwitchPrimary(domain.ProviderName(req.Provider)); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			httputil.NotFound(w, "unknown provider", "UNKNOWN_PROVIDER")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	logger.Warn("primary provider switched by operator", "provider", req.Provider)
	httputil.OK(w, map[string]string{"primary": req.Provider})
}

// ProbeProviders handles GET /api/admin/providers/health. Runs the
// health checks inline and returns the refreshed snapshot.
func (h *handlers) ProbeProviders(w http.ResponseWriter, r *http.Request) {
	if h.prober != nil {
		h.prober.ProbeAll(r.Context())
	}
	httputil.OK(w, h.registry.Snapshot())
}

// TenantMetrics handles GET /api/admin/metrics and its {tenantID} form.
// Without a path segment the tenant comes from the tenant_id query param;
// empty selects the default tenant's aggregates.
func (h *handlers) TenantMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if h.counters == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "engagement metrics are not configured", "NOT_CONFIGURED")
		return
	}
	stats, err := h.counters.Snapshot(r.Context(), tenantID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	suppressed := 0
	if h.suppression != nil {
		if s, err := h.suppression.GetStats(r.Context(), tenantID); err == nil {
			suppressed = s.Total
		}
	}
	httputil.OK(w, map[string]any{
		"tenant_id":  tenantID,
		"engagement": stats,
		"suppressed": suppressed,
	})
}
