package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/suppression"
)

// ListSuppressions handles GET /api/suppressions.
func (h *handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		httputil.BadRequest(w, "tenant_id is required", "VALIDATION_ERROR")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	entries, total, err := h.suppression.List(r.Context(), tenantID, suppression.ListFilter{
		Type:   q.Get("type"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

type suppressionRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AddSuppression handles POST /api/suppressions. Manual additions
// default to the manual type.
func (h *handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.Email == "" {
		httputil.BadRequest(w, "tenant_id and email are required", "VALIDATION_ERROR")
		return
	}
	typ := domain.SuppressionType(req.Type)
	if req.Type == "" {
		typ = domain.SuppressionManual
	}
	if !typ.Valid() {
		httputil.BadRequest(w, "unknown suppression type", "VALIDATION_ERROR")
		return
	}
	if err := h.suppression.Suppress(r.Context(), req.TenantID, req.Email, typ, req.Reason, "api"); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]string{"status": "suppressed"})
}

// RemoveSuppression handles DELETE /api/suppressions.
func (h *handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.Email == "" {
		httputil.BadRequest(w, "tenant_id and email are required", "VALIDATION_ERROR")
		return
	}
	if err := h.suppression.Remove(r.Context(), req.TenantID, req.Email); err != nil {
		if errors.Is(err, suppression.ErrNotFound) {
			httputil.NotFound(w, "email is not suppressed", "NOT_SUPPRESSED")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "removed"})
}
