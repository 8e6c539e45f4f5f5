package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/httputil"
)

// setupRoutes builds the route tree. Webhook routes sit outside the API
// group: they authenticate with HMAC signatures, not bearer tokens.
func setupRoutes(h *handlers, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(api chi.Router) {
		api.Post("/send/single", h.SubmitSingle)
		api.Post("/send/bulk", h.SubmitBatch(domain.KindBulk))
		api.Post("/send/campaign", h.SubmitBatch(domain.KindCampaign))

		api.Get("/jobs/{id}/status", h.GetJob)
		api.Delete("/jobs/{id}", h.CancelJob)
		api.Post("/jobs/{id}/retry", h.RetryJob)
		api.Get("/batches/{id}", h.GetBatch)
		api.Get("/queue/stats", h.QueueStats)

		api.Get("/suppressions", h.ListSuppressions)
		api.Post("/suppressions", h.AddSuppression)
		api.Delete("/suppressions", h.RemoveSuppression)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(adminAuth(cfg.AdminToken))
			admin.Post("/queue/pause", h.PauseQueue)
			admin.Post("/queue/resume", h.ResumeQueue)
			admin.Get("/providers", h.ListProviders)
			admin.Post("/providers/switch", h.SwitchProvider)
			admin.Get("/providers/health", h.ProbeProviders)
			admin.Get("/metrics", h.TenantMetrics)
			admin.Get("/metrics/{tenantID}", h.TenantMetrics)
			admin.Get("/health", h.HealthCheck)
		})
	})

	// Static provider routes win over the generic {provider} route.
	r.Route("/webhooks", func(wh chi.Router) {
		wh.Post("/ses", h.Webhook("ses"))
		wh.Post("/sendgrid", h.Webhook("sendgrid"))
		wh.Post("/{provider}", h.GenericWebhook)
	})

	return r
}

// adminAuth requires a bearer token on admin routes. An empty configured
// token disables the admin surface entirely rather than leaving it open.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httputil.Unauthorized(w, "admin API disabled")
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				httputil.Unauthorized(w, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
