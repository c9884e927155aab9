// Package interactions serves the audit log over HTTP/JSON.
package interactions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakhilchawla/audit-llm-decision/internal/audit"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/server"
)

// Pagination bounds for GET /api/v1/logs.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const maxBodyBytes = 4 << 20

// Handler exposes the audit service.
type Handler struct {
	svc    *audit.Service
	logger *slog.Logger
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *audit.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the audit routes and the health check on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/log", h.handleLog)
		r.Get("/logs", h.handleList)
		r.Get("/logs/{id}", h.handleGet)
		r.Get("/schema", h.handleSchema)
	})
	r.Get("/health", h.handleHealth)
}

// ErrorBody is the error shape for storage and lookup failures.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a human message and optional cause.
type ErrorDetail struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ListResponse is one page of interactions.
type ListResponse struct {
	Logs   []*domain.Interaction `json:"logs"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// HealthResponse reports whether storage is reachable.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req domain.LogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusBadRequest, &domain.ValidationError{Errors: []domain.FieldError{
			{Field: "body", Message: "must be a JSON object: " + err.Error()},
		}})
		return
	}

	res, err := h.svc.Log(r.Context(), audit.TransportHTTP, &req)
	if err != nil {
		server.AddError(r.Context(), err)
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, ve)
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Message: "Failed to log interaction",
			Details: err.Error(),
		}})
		return
	}

	server.AddLogField(r.Context(), "interaction_id", res.ID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := domain.ListOptions{
		ModelType: q.Get("modelType"),
		Limit:     parseLimit(q.Get("limit")),
		Offset:    parseOffset(q.Get("offset")),
	}

	logs, total, err := h.svc.List(r.Context(), opts)
	if err != nil {
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Message: "Failed to fetch logs",
			Details: err.Error(),
		}})
		return
	}
	if logs == nil {
		logs = []*domain.Interaction{}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Logs:   logs,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	server.AddLogField(r.Context(), "interaction_id", id)

	rec, err := h.svc.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{Message: "Interaction not found"}})
	case err != nil:
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Message: "Failed to fetch interaction",
			Details: err.Error(),
		}})
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]ObjectSchema{"audit_logs": LogSchema()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		server.AddError(r.Context(), err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Error:  "Database connection failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// parseLimit falls back to DefaultLimit for missing or invalid values and
// caps at MaxLimit.
func parseLimit(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return DefaultLimit
	}
	if v > MaxLimit {
		return MaxLimit
	}
	return v
}

func parseOffset(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
