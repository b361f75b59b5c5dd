package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/skridlevsky/patrolstats/internal/collector"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
	Scheduler *SchedulerInfo    `json:"scheduler,omitempty"`
}

// SchedulerInfo represents the periodic run scheduler's state
type SchedulerInfo struct {
	Interval   string `json:"interval"`
	LastTick   string `json:"lastTick,omitempty"`
	LastRunID  string `json:"lastRunId,omitempty"`
	LastStatus string `json:"lastStatus,omitempty"`
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(context.Context) error
}

// SchedulerStatus exposes the scheduler's last tick.
type SchedulerStatus interface {
	Status() *collector.SchedulerStatus
}

// NewHealthHandler creates a health handler. Both arguments may be nil.
func NewHealthHandler(db HealthChecker, scheduler SchedulerStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string)
		status := "ok"

		if db != nil {
			if err := db.Health(r.Context()); err != nil {
				slog.Error("Database health check failed", "error", err)
				services["database"] = "unhealthy"
				status = "degraded"
			} else {
				services["database"] = "healthy"
			}
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Services:  services,
		}

		if scheduler != nil {
			st := scheduler.Status()
			info := &SchedulerInfo{
				Interval:   st.Interval.String(),
				LastRunID:  st.LastRunID,
				LastStatus: st.LastStatus,
			}
			if !st.LastTick.IsZero() {
				info.LastTick = st.LastTick.UTC().Format(time.RFC3339)
			}
			response.Scheduler = info
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, response)
	}
}

// errorResponse is the body of every JSON error
type errorResponse struct {
	Error string `json:"error"`
}

// parseJSON is a helper to decode JSON request bodies
func parseJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
