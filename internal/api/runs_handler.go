package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/display"
	"github.com/skridlevsky/patrolstats/internal/progress"
	"github.com/skridlevsky/patrolstats/internal/stats"
	"github.com/skridlevsky/patrolstats/internal/store"
)

// RunService starts, cancels and observes collection runs.
type RunService interface {
	Start(cutoff time.Time, trigger string) (string, error)
	Active() (collector.RunInfo, bool)
	Cancel(id string) error
	Events(id string, afterSeq int64) ([]progress.Event, error)
	Report(id string) (*collector.Report, bool)
	Latest() (*collector.Report, bool)
}

// RunHistory reads stored runs. Lookups that miss return store.ErrNotFound.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*collector.Report, error)
	GetRun(ctx context.Context, id string) (*collector.Report, error)
	LatestRunID(ctx context.Context) (string, error)
	GetUserPosts(ctx context.Context, runID, identity string) (map[stats.Source]stats.UserAggregate, error)
}

var errNoRun = errors.New("run not found")

// RunHandler handles run-related requests
type RunHandler struct {
	runs    RunService
	history RunHistory
	loc     *time.Location
}

// NewRunHandler creates a run handler. history may be nil when no database
// is configured; only the active and last run are then visible.
func NewRunHandler(runs RunService, history RunHistory, loc *time.Location) *RunHandler {
	if loc == nil {
		loc = time.Local
	}
	return &RunHandler{runs: runs, history: history, loc: loc}
}

// StartRequest is the body of POST /api/runs
type StartRequest struct {
	Since string `json:"since"`
}

// StartResponse acknowledges a started run
type StartResponse struct {
	ID     string    `json:"id"`
	Cutoff time.Time `json:"cutoff"`
}

// Start handles POST /api/runs
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := parseJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cutoff, err := time.ParseInLocation("2006-01-02", req.Since, h.loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid since (use YYYY-MM-DD)")
		return
	}

	id, err := h.runs.Start(cutoff, "api")
	if err != nil {
		if errors.Is(err, collector.ErrRunInProgress) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("Failed to start run", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	w.Header().Set("Location", "/api/runs/"+id)
	respondJSON(w, http.StatusAccepted, StartResponse{ID: id, Cutoff: cutoff})
}

// RunListResponse lists the active run and recent finished ones
type RunListResponse struct {
	Active *collector.RunInfo  `json:"active,omitempty"`
	Runs   []*collector.Report `json:"runs"`
}

// List handles GET /api/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	response := RunListResponse{Runs: []*collector.Report{}}
	if info, ok := h.runs.Active(); ok {
		response.Active = &info
	}

	if h.history != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := h.history.ListRuns(r.Context(), limit)
		if err != nil {
			slog.Error("Failed to list runs", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to list runs")
			return
		}
		response.Runs = runs
	} else if last, ok := h.runs.Latest(); ok {
		response.Runs = append(response.Runs, last)
	}

	respondJSON(w, http.StatusOK, response)
}

// report finds a finished run in memory first, then in history.
func (h *RunHandler) report(ctx context.Context, id string) (*collector.Report, error) {
	if report, ok := h.runs.Report(id); ok {
		return report, nil
	}
	if h.history == nil {
		return nil, errNoRun
	}
	report, err := h.history.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNoRun
	}
	return report, err
}

// latest resolves the most recent finished run.
func (h *RunHandler) latest(ctx context.Context) (*collector.Report, error) {
	if report, ok := h.runs.Latest(); ok {
		return report, nil
	}
	if h.history == nil {
		return nil, errNoRun
	}
	id, err := h.history.LatestRunID(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNoRun
	}
	if err != nil {
		return nil, err
	}
	return h.report(ctx, id)
}

// respondLookupError maps a report lookup failure onto a status
func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoRun) {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	slog.Error("Failed to load run", "error", err)
	respondError(w, http.StatusInternalServerError, "Failed to load run")
}

// Get handles GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if info, ok := h.runs.Active(); ok && info.ID == id {
		respondJSON(w, http.StatusOK, map[string]any{
			"runId":     info.ID,
			"status":    collector.StatusRunning,
			"trigger":   info.Trigger,
			"cutoff":    info.Cutoff,
			"startedAt": info.StartedAt,
		})
		return
	}

	report, err := h.report(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Cancel handles DELETE /api/runs/{id}
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, "No active run with that id")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// EventsResponse is a page of progress events
type EventsResponse struct {
	Events []progress.Event `json:"events"`
	Next   int64            `json:"next"`
}

// Events handles GET /api/runs/{id}/events?after=N
func (h *RunHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var after int64
	if s := r.URL.Query().Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid after")
			return
		}
		after = n
	}

	events, err := h.runs.Events(id, after)
	if err != nil {
		respondError(w, http.StatusNotFound, "No events for that run")
		return
	}

	response := EventsResponse{Events: events, Next: after}
	if len(events) > 0 {
		response.Next = events[len(events)-1].Seq
	}
	respondJSON(w, http.StatusOK, response)
}

// StatsResponse is a ranking with its summary
type StatsResponse struct {
	RunID      string                    `json:"runId"`
	Status     string                    `json:"status"`
	Cutoff     time.Time                 `json:"cutoff"`
	Summary    stats.Summary             `json:"summary"`
	Activities collector.ActivitySummary `json:"activities"`
	Stats      []stats.ComprehensiveStat `json:"stats"`
}

func statsResponse(report *collector.Report, top int) StatsResponse {
	ranked := report.Stats
	if top > 0 {
		ranked = stats.Top(ranked, top)
	}
	if ranked == nil {
		ranked = []stats.ComprehensiveStat{}
	}
	return StatsResponse{
		RunID:      report.RunID,
		Status:     report.Status,
		Cutoff:     report.Cutoff,
		Summary:    report.Summary,
		Activities: report.ActivitySummary,
		Stats:      ranked,
	}
}

func topParam(r *http.Request) int {
	top, err := strconv.Atoi(r.URL.Query().Get("top"))
	if err != nil || top < 0 {
		return 0
	}
	return top
}

// Stats handles GET /api/runs/{id}/stats?top=N
func (h *RunHandler) Stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statsResponse(report, topParam(r)))
}

// LatestStats handles GET /api/stats?top=N
func (h *RunHandler) LatestStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.latest(r.Context())
	if err != nil {
		respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statsResponse(report, topParam(r)))
}

// UserResponse is one identity's ranking entry and records
type UserResponse struct {
	Identity string                               `json:"identity"`
	Stat     *stats.ComprehensiveStat             `json:"stat,omitempty"`
	Sources  map[stats.Source]stats.UserAggregate `json:"sources"`
}

// User handles GET /api/runs/{id}/users/{identity}
func (h *RunHandler) User(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity := chi.URLParam(r, "identity")

	report, err := h.report(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return
	}

	response := UserResponse{Identity: identity}
	for i := range report.Stats {
		if report.Stats[i].Identity == identity {
			st := report.Stats[i]
			response.Stat = &st
			break
		}
	}

	if report.Users != nil {
		response.Sources = report.UserPosts(identity)
	} else if h.history != nil {
		response.Sources, err = h.history.GetUserPosts(r.Context(), id, identity)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to load user posts", "run_id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load user")
			return
		}
	}

	if response.Stat == nil && len(response.Sources) == 0 {
		respondError(w, http.StatusNotFound, "User not found in run")
		return
	}
	if response.Sources == nil {
		response.Sources = map[stats.Source]stats.UserAggregate{}
	}
	respondJSON(w, http.StatusOK, response)
}

// Export handles GET /api/runs/{id}/export?format=csv|ndjson
// Streams the full ranking. Protected by the export guard and a 30s timeout.
func (h *RunHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "ndjson" && format != "csv" {
		respondError(w, http.StatusBadRequest, "Invalid format (use csv or ndjson)")
		return
	}

	report, err := h.report(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondLookupError(w, err)
		return
	}

	filename := "patrolstats-" + report.Cutoff.Format("20060102") + "." + format
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)

	var writeErr error
	if format == "csv" {
		writeErr = display.WriteCSV(ctx, w, report.Stats)
	} else {
		writeErr = display.WriteNDJSON(ctx, w, report.Stats)
	}
	if writeErr != nil {
		slog.Info("Export stopped early (client likely disconnected)", "run_id", report.RunID, "error", writeErr)
		return
	}
	slog.Info("Export completed", "run_id", report.RunID, "format", format, "rows", len(report.Stats))
}
