package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/identity"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// teardownLocks prevents concurrent teardown requests for the same user.
var teardownLocks sync.Map

// HistoryReader reads persisted history.
type HistoryReader interface {
	ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

// AgentHandler serves the caller's agent over REST.
type AgentHandler struct {
	*Handler
	history HistoryReader
	ai      Prompter
}

// NewAgentHandler creates an agent handler. history may be nil, in which case
// only in-memory history is served.
func NewAgentHandler(base *Handler, history HistoryReader) *AgentHandler {
	return &AgentHandler{Handler: base, history: history}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/command", h.Command)
		r.Get("/status", h.Status)
		r.Get("/services", h.Services)
		r.Get("/history", h.History)
		r.Post("/chat/send", h.ChatSend)
		r.Post("/chat/incoming", h.ChatIncoming)
		r.Post("/prompt", h.Prompt)
		r.Post("/stream", h.Stream)
		r.Delete("/", h.Teardown)
	})
	r.Get("/api/admin/agents", h.ListAgents)
}

type commandRequest struct {
	Content    string         `json:"content"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type chatSendRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

type chatIncomingRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

func (h *AgentHandler) userAgent(ctx context.Context) (*agent.Agent, string, error) {
	userID := identity.UserIDFromContext(ctx)
	if userID == "" {
		return nil, "", agent.ErrEmptyUserID
	}
	ag, err := h.agents.GetUserAgent(ctx, userID, agent.UserData{
		UserID:   userID,
		Username: identity.UsernameFromContext(ctx),
	})
	return ag, userID, err
}

// withAgent runs fn against the caller's agent. A teardown racing the request
// is retried once against the rebuilt agent.
func (h *AgentHandler) withAgent(ctx context.Context, fn func(*agent.Agent) error) (string, error) {
	var userID string
	for attempt := 0; attempt < 2; attempt++ {
		ag, id, err := h.userAgent(ctx)
		userID = id
		if err != nil {
			return userID, err
		}
		err = fn(ag)
		if !errors.Is(err, agent.ErrAgentClosed) {
			return userID, err
		}
	}
	return userID, agent.ErrAgentClosed
}

// Command dispatches a natural-language command.
func (h *AgentHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Content)
	if text == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	var result *domain.CommandResult
	userID, err := h.withAgent(ctx, func(ag *agent.Agent) error {
		var err error
		result, err = ag.Dispatch(ctx, domain.Command{
			UserID:     ag.UserID(),
			Text:       text,
			Parameters: req.Parameters,
			Context: domain.CommandContext{
				Sender:    ag.UserID(),
				Channel:   domain.ChannelREST,
				Origin:    "rest:" + chiMiddleware.GetReqID(ctx),
				Timestamp: time.Now(),
			},
		})
		return err
	})
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Status returns a snapshot of the caller's agent.
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	ag, userID, err := h.userAgent(r.Context())
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, ag.Status())
}

// Services lists the connectors available to the caller.
func (h *AgentHandler) Services(w http.ResponseWriter, r *http.Request) {
	ag, userID, err := h.userAgent(r.Context())
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	services := ag.Services()
	JSON(w, http.StatusOK, map[string]any{
		"services": services,
		"count":    len(services),
	})
}

// History returns recent history, oldest first. persisted=true reads from
// the store instead of the agent's bounded buffer.
func (h *AgentHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if r.URL.Query().Get("persisted") == "true" {
		userID := identity.UserIDFromContext(r.Context())
		if h.history == nil {
			Error(w, http.StatusNotImplemented, "persistent history not configured")
			return
		}
		entries, err := h.history.ListHistory(r.Context(), userID, limit)
		if err != nil {
			h.logger.Error("Failed to list history", "user_id", userID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to list history")
			return
		}
		JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
		return
	}

	ag, userID, err := h.userAgent(r.Context())
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	entries := ag.History(limit)
	JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// ChatSend sends a chat message from the caller to receiver_id.
func (h *AgentHandler) ChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ReceiverID) == "" || strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "receiver_id and content are required")
		return
	}

	ctx := r.Context()
	var res agent.SendResult
	userID, err := h.withAgent(ctx, func(ag *agent.Agent) error {
		res = ag.SendChatMessage(ctx, req.ReceiverID, req.Content)
		return nil
	})
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// ChatIncoming delivers a chat message addressed to the caller. Messages with
// a command prefix are executed and answered.
func (h *AgentHandler) ChatIncoming(w http.ResponseWriter, r *http.Request) {
	var req chatIncomingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SenderID) == "" || strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "sender_id and content are required")
		return
	}

	ctx := r.Context()
	var result *domain.CommandResult
	userID, err := h.withAgent(ctx, func(ag *agent.Agent) error {
		var err error
		result, err = ag.HandleIncomingMessage(ctx, domain.ChatMessage{
			SenderID:   req.SenderID,
			ReceiverID: ag.UserID(),
			Content:    req.Content,
		})
		return err
	})
	if err != nil {
		h.agentError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"processed": result != nil,
		"result":    result,
	})
}

// Teardown drops the caller's agent and closes its chat sockets. The next
// request rebuilds it from the current service configuration.
func (h *AgentHandler) Teardown(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lock, _ := teardownLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		JSON(w, http.StatusOK, map[string]string{"status": "removing"})
		return
	}
	defer func() {
		mutex.Unlock()
		teardownLocks.Delete(userID)
	}()

	removed := h.agents.RemoveUserAgent(userID)
	closed := 0
	if h.sessions != nil {
		closed = h.sessions.CloseSession(userID)
	}

	status := "not_found"
	if removed {
		status = "removed"
	}
	h.logger.Info("Agent teardown requested", "user_id", userID, "removed", removed, "closed_sessions", closed)
	JSON(w, http.StatusOK, map[string]any{"status": status, "closed_sessions": closed})
}

// ListAgents lists users with a live agent.
func (h *AgentHandler) ListAgents(w http.ResponseWriter, _ *http.Request) {
	users := h.agents.ListActiveUsers()
	JSON(w, http.StatusOK, map[string]any{"active_users": users, "count": len(users)})
}
