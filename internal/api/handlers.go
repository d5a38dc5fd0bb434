package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/aibridge/internal/capability"
	"github.com/mattjoyce/aibridge/internal/invoke"
	"github.com/mattjoyce/aibridge/internal/ledger"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	enabled := s.capabilities.EnabledNames()
	names := make([]string, 0, len(enabled))
	for _, n := range enabled {
		names = append(names, string(n))
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Capabilities:  names,
		LedgerEnabled: s.invocations != nil,
	})
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.capabilities.EnabledNames()))
}

// handleCapability returns the POST handler for one capability.
// The request body is the capability's input document.
func (s *Server) handleCapability(name capability.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.capabilities.Enabled(name) {
			s.writeError(w, http.StatusNotFound, name.Tag()+capability.ErrDisabled.Error())
			return
		}

		if !s.inflight.TryAcquire(1) {
			s.writeError(w, http.StatusTooManyRequests, "too many concurrent capability requests")
			return
		}
		defer s.inflight.Release(1)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		result, err := s.capabilities.Run(r.Context(), name, body)
		if err != nil {
			status := statusFor(err)
			s.logger.Warn("capability request failed",
				"capability", string(name),
				"status", status,
				"error", err,
			)
			s.writeError(w, status, err.Error())
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

// handleListInvocations handles GET /v1/invocations?limit=N&label=L&status=S.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		s.writeError(w, http.StatusNotFound, "invocation ledger is disabled")
		return
	}

	filter := ledger.Filter{
		Label:  r.URL.Query().Get("label"),
		Status: invoke.Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := s.invocations.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	respondJSON(w, http.StatusOK, InvocationListResponse{Invocations: entries, Count: len(entries)})
}

// handleGetInvocation handles GET /v1/invocations/{id}.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		s.writeError(w, http.StatusNotFound, "invocation ledger is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.invocations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "invocation not found")
			return
		}
		s.logger.Error("failed to get invocation", "invocation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// statusFor maps a capability error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capability.ErrInvalidInput), errors.Is(err, capability.ErrUnsupportedFileType):
		return http.StatusBadRequest
	case errors.Is(err, capability.ErrDisabled):
		return http.StatusNotFound
	case errors.Is(err, invoke.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
