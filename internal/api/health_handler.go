package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/pkg/httputil"
	"github.com/ignite/relay/internal/provider"
)

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the system's dependencies. Nil dependencies report
// not_configured rather than failing the check.
type HealthChecker struct {
	db        *sql.DB
	rdb       *redis.Client
	registry  *provider.Registry
	startTime time.Time
}

func NewHealthChecker(db *sql.DB, rdb *redis.Client, registry *provider.Registry) *HealthChecker {
	return &HealthChecker{db: db, rdb: rdb, registry: registry, startTime: time.Now()}
}

// Check runs all probes. The database is load-bearing, so a database
// failure is unhealthy; anything else degrades.
func (hc *HealthChecker) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: make(map[string]ComponentCheck),
	}

	if hc.db != nil {
		start := time.Now()
		if err := hc.db.PingContext(ctx); err != nil {
			status.Checks["database"] = ComponentCheck{Status: "down", Message: "ping failed"}
			status.Status = "unhealthy"
		} else {
			status.Checks["database"] = ComponentCheck{Status: "up", Latency: time.Since(start).String()}
		}
	} else {
		status.Checks["database"] = ComponentCheck{Status: "not_configured"}
	}

	if hc.rdb != nil {
		start := time.Now()
		if err := hc.rdb.Ping(ctx).Err(); err != nil {
			status.Checks["redis"] = ComponentCheck{Status: "down", Message: "ping failed"}
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		} else {
			status.Checks["redis"] = ComponentCheck{Status: "up", Latency: time.Since(start).String()}
		}
	} else {
		status.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	}

	if hc.registry != nil {
		healthy, total := 0, 0
		for _, ps := range hc.registry.Snapshot() {
			total++
			if ps.IsHealthy {
				healthy++
			}
		}
		check := ComponentCheck{Status: "up"}
		switch {
		case total == 0 || healthy == 0:
			check.Status = "down"
			check.Message = "no healthy providers"
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		case healthy < total:
			check.Message = "some providers unhealthy"
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
		status.Checks["providers"] = check
	}

	return status
}

// HealthCheck handles GET /health. Unhealthy maps to 503 so load
// balancers rotate the instance out.
func (h *handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httputil.OK(w, map[string]string{"status": "healthy"})
		return
	}
	status := h.health.Check(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, status)
}
