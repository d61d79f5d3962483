// Package api provides HTTP handlers for the SliceTalk API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avoliek/slicetalk/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the session diagnostics endpoints.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the diagnostics routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{threadID}", h.GetSession)
		r.Get("/sessions/{threadID}/turns", h.ListTurns)
	})
}

// ListSessions returns recent session summaries.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := h.repo.ListRecentSessions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if recs == nil {
		recs = []*store.SessionRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": recs})
}

// GetSession returns one session summary.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	rec, err := h.repo.GetSession(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to get session", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// ListTurns returns a session's turn audit trail in sequence order.
func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	sess, err := h.repo.GetSession(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to get session", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	turns, err := h.repo.ListTurns(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to list turns", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	if turns == nil {
		turns = []*store.TurnRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"turns":     turns,
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}
