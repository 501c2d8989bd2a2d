// Package api exposes the operational HTTP surface: health, recent run
// reports, the sent-notification log, and a manual run trigger.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListRuns(ctx context.Context, limit, offset int) ([]domain.RunReport, error)
	ListNotifications(ctx context.Context, limit, offset int) ([]domain.NotificationRecord, error)
}

// RunTrigger starts one pipeline run on demand.
// Satisfied by scheduler.Scheduler.
type RunTrigger interface {
	TriggerRun(ctx context.Context) (domain.RunReport, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store   Store
	trigger RunTrigger    // optional, nil = trigger endpoint disabled
	db      HealthChecker // optional, for verbose /health
	redis   HealthChecker // optional, for verbose /health
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithRunTrigger enables POST /runs/trigger.
func (h *Handler) WithRunTrigger(trigger RunTrigger) *Handler {
	h.trigger = trigger
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithRedisChecker sets the Redis health checker for verbose /health responses.
func (h *Handler) WithRedisChecker(redis HealthChecker) *Handler {
	h.redis = redis
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case path == "/runs/trigger" && r.Method == http.MethodPost:
		h.triggerRun(w, r)

	case path == "/notifications" && r.Method == http.MethodGet:
		h.listNotifications(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	components := make(map[string]string)

	check := func(name string, checker HealthChecker) {
		if checker == nil {
			return
		}
		if err := checker.PingContext(ctx); err != nil {
			components[name] = "unreachable"
			status = "degraded"
		} else {
			components[name] = "ok"
		}
	}
	check("database", h.db)
	check("redis", h.redis)

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, Components: components})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []domain.RunReport{}
	}

	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "manual trigger not available on this instance")
		return
	}

	report, err := h.trigger.TriggerRun(r.Context())
	if err != nil {
		log.Printf("api: triggered run failed: %v", err)
		// The report still describes the failed run.
		writeJSON(w, http.StatusBadGateway, report)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListNotifications(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list notifications: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []domain.NotificationRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			return 0, 0, errInvalidParam("limit")
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, errInvalidParam("offset")
		}
	}
	return limit, offset, nil
}

type paramError string

func errInvalidParam(name string) error { return paramError(name) }

func (e paramError) Error() string { return "invalid " + string(e) + " parameter" }

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
