// Package api provides HTTP handlers for the echo agent API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/echolabs/echo-agent/internal/agent"
)

const defaultMaxRequestBodySize = 1 << 20 // 1MB

// AgentManager is the slice of *agent.Manager the handlers use.
type AgentManager interface {
	GetUserAgent(ctx context.Context, userID string, data agent.UserData) (*agent.Agent, error)
	Get(userID string) *agent.Agent
	RemoveUserAgent(userID string) bool
	ListActiveUsers() []string
	Count() int
}

// SessionCloser closes a user's open chat sockets.
type SessionCloser interface {
	CloseSession(userID string) int
}

// Handler provides common handler utilities.
type Handler struct {
	agents   AgentManager
	sessions SessionCloser
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies. sessions may be
// nil when no chat socket endpoint is mounted.
func NewHandler(agents AgentManager, sessions SessionCloser, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{agents: agents, sessions: sessions, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// agentError maps agent failures onto HTTP statuses.
func (h *Handler) agentError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, agent.ErrIsolationViolation):
		h.logger.Error("Isolation violation", "user_id", userID, "error", err)
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, agent.ErrAgentClosed):
		Error(w, http.StatusServiceUnavailable, "agent restarting, retry")
	case errors.Is(err, agent.ErrEmptyUserID):
		Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusRequestTimeout, "request canceled")
	default:
		h.logger.Error("Agent request failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
