package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/relay/internal/event"
	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/webhook"
)

// Webhook returns the handler for a fixed-provider webhook route.
//
// Contract with providers: 401 only for a signature that does not verify,
// 200 for everything after verification. A verified payload that fails to
// parse or apply must not trigger provider-side retry storms, so errors on
// that path are logged and swallowed.
func (h *handlers) Webhook(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ing, ok := h.ingestors[providerName]
		if !ok {
			httputil.NotFound(w, "webhook not configured", "NOT_CONFIGURED")
			return
		}
		h.ingest(w, r, ing)
	}
}

// GenericWebhook resolves the ingestor from the path so one route serves
// every configured generic provider.
func (h *handlers) GenericWebhook(w http.ResponseWriter, r *http.Request) {
	ing, ok := h.ingestors[chi.URLParam(r, "provider")]
	if !ok {
		httputil.NotFound(w, "webhook not configured", "NOT_CONFIGURED")
		return
	}
	h.ingest(w, r, ing)
}

func (h *handlers) ingest(w http.ResponseWriter, r *http.Request, ing webhook.Ingestor) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "payload too large", "PAYLOAD_TOO_LARGE")
		return
	}

	if err := ing.Verify(body, r.Header); err != nil {
		logger.Warn("webhook signature rejected", "provider", ing.Provider())
		httputil.Unauthorized(w, "signature verification failed")
		return
	}

	// SNS handshake: a verified SubscriptionConfirmation is confirmed by
	// fetching its SubscribeURL, no events to process.
	if ses, ok := ing.(*webhook.SESIngestor); ok {
		if url, isConfirm := ses.IsSubscriptionConfirmation(body); isConfirm {
			h.confirmSubscription(url)
			httputil.OK(w, map[string]string{"status": "confirmed"})
			return
		}
	}

	events, err := ing.Parse(body)
	if err != nil {
		// Verified but unusable. Returning an error would only make the
		// provider resend the same payload.
		logger.Warn("webhook payload unparseable", "provider", ing.Provider(), "error", err)
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	applied, duplicates := 0, 0
	for _, ev := range events {
		switch applyErr := h.processor.Apply(r.Context(), ev); {
		case applyErr == nil:
			applied++
		case errors.Is(applyErr, event.ErrDuplicateEvent):
			duplicates++
		default:
			logger.Error("event apply failed",
				"provider", ing.Provider(),
				"event_type", string(ev.EventType),
				"error", applyErr)
		}
	}
	httputil.OK(w, map[string]int{"received": len(events), "applied": applied, "duplicates": duplicates})
}

func (h *handlers) confirmSubscription(url string) {
	resp, err := h.snsConfirm.Get(url)
	if err != nil {
		logger.Error("sns subscription confirmation failed", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	logger.Info("sns subscription confirmed", "status", resp.StatusCode)
}
