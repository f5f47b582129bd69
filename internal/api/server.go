package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"poseidon/internal/domain/rebalance"
	"poseidon/internal/metrics"
	"poseidon/internal/rebalancer"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// StatusSource provides live supervision snapshots. Satisfied by
// rebalancer.Supervisor.
type StatusSource interface {
	Status() []rebalancer.PositionStatus
}

// HealthChecker reports readiness of one backing dependency. Satisfied by the
// postgres and redis clients.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the operator surface: Prometheus metrics, health, live
// supervision status, and the journal read endpoints.
type Handler struct {
	status  StatusSource
	journal rebalance.Repository
	checks  map[string]HealthChecker
	log     *logger.Logger
}

// NewHandler builds the operator HTTP handler. journal may be nil when
// PostgreSQL is disabled; the journal endpoints then answer 503.
func NewHandler(status StatusSource, journal rebalance.Repository, checks map[string]HealthChecker) http.Handler {
	h := &Handler{
		status:  status,
		journal: journal,
		checks:  checks,
		log:     logger.Get().With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/events", h.handleEvents)
	mux.HandleFunc("/snapshot", h.handleSnapshot)
	return mux
}

// handleHealth pings every backing dependency; any failure answers 503 so
// load balancers stop routing to a process with a dead store.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check.Health(r.Context()); err != nil {
			h.log.Warnw("Health check failed", "dependency", name, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, name+" unhealthy")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleStatus returns the live per-position supervision snapshots.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Status())
}

// handleEvents returns journaled lifecycle events, newest first. With a
// position_id query parameter the listing is scoped to that position.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))

	var (
		events []*rebalance.Event
		err    error
	)
	if positionID := r.URL.Query().Get("position_id"); positionID != "" {
		events, err = h.journal.ListEventsByPosition(r.Context(), positionID, limit)
	} else {
		events, err = h.journal.ListRecentEvents(r.Context(), limit)
	}
	if err != nil {
		h.log.Errorw("Failed to list events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	h.writeJSON(w, http.StatusOK, events)
}

// handleSnapshot returns the newest journaled snapshot for one position.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	positionID := r.URL.Query().Get("position_id")
	if positionID == "" {
		h.writeError(w, http.StatusBadRequest, "position_id is required")
		return
	}

	snapshot, err := h.journal.LatestSnapshot(r.Context(), positionID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "no snapshot for position")
			return
		}
		h.log.Errorw("Failed to load snapshot", "position_id", positionID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Errorw("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}
