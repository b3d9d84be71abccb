package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain/ports"
)

// staleAfter is how long a job may go without a recorded run before the
// health endpoint flags it.
var staleAfter = map[string]time.Duration{
	"billing":        36 * time.Hour,
	"reconciliation": 48 * time.Hour,
	"cleanup":        36 * time.Hour,
}

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker manages health checks for the service
type HealthChecker struct {
	dbPool    *pgxpool.Pool
	redis     *goredis.Client
	jobHealth ports.JobHealthStore
}

// NewHealthChecker creates a new HealthChecker. redis and jobHealth may
// be nil; their checks then report "not configured".
func NewHealthChecker(dbPool *pgxpool.Pool, redis *goredis.Client, jobHealth ports.JobHealthStore) *HealthChecker {
	return &HealthChecker{
		dbPool:    dbPool,
		redis:     redis,
		jobHealth: jobHealth,
	}
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	overallStatus := "healthy"

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if h.dbPool != nil {
		if err := h.dbPool.Ping(checkCtx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	// Redis is a soft dependency: ingestion degrades to inline
	// processing without it, so its failure only degrades the status.
	if h.redis != nil {
		if err := h.redis.Ping(checkCtx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	if h.jobHealth != nil {
		names := make([]string, 0, len(staleAfter))
		for name := range staleAfter {
			names = append(names, name)
		}
		runs, err := h.jobHealth.LastRuns(checkCtx, names)
		if err == nil {
			for name, limit := range staleAfter {
				rec, ok := runs[name]
				if !ok || time.Since(rec.LastRunAt) > limit {
					checks["job:"+name] = "stale"
					if overallStatus == "healthy" {
						overallStatus = "degraded"
					}
					continue
				}
				checks["job:"+name] = "healthy"
			}
		}
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// HealthHandler returns an HTTP handler for health checks
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(status)
	}
}
