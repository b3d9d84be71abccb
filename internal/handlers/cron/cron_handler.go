// Package cron exposes manual triggers and health reads for the
// scheduled jobs. The scheduler runs on its own tickers; these
// endpoints exist for operators and external schedulers that want to
// force a run.
package cron

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/scheduler"
)

// Handler handles cron trigger endpoints.
type Handler struct {
	runner *scheduler.Runner
	health ports.JobHealthStore
	logger ports.Logger
}

// NewHandler creates a new cron handler.
func NewHandler(runner *scheduler.Runner, health ports.JobHealthStore, logger ports.Logger) *Handler {
	return &Handler{runner: runner, health: health, logger: logger}
}

// RunJob handles POST /cron/run/{job}, forcing one run of the named
// job. The run still goes through the distributed lease, so a
// concurrent scheduled run wins and this request becomes a no-op.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	job, ok := h.runner.Find(name)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown job")
		return
	}

	h.logger.Info("manual job trigger",
		ports.String("job", name),
		ports.String("remote_addr", r.RemoteAddr))

	start := time.Now()
	h.runner.RunJob(r.Context(), job)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":        name,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

// Health handles GET /cron/health, reporting the last recorded run per
// job.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	names := h.runner.JobNames()
	runs, err := h.health.LastRuns(r.Context(), names)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "health read failed")
		return
	}

	jobs := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		entry := map[string]interface{}{"job": name}
		if rec, ok := runs[name]; ok && rec != nil {
			entry["last_run_at"] = rec.LastRunAt
			entry["duration_ms"] = rec.DurationMS
			entry["success"] = rec.Success
		} else {
			entry["last_run_at"] = nil
		}
		jobs = append(jobs, entry)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": message})
}
