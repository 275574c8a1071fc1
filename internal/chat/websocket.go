package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/identity"
)

const (
	sendQueueSize = 32
	writeTimeout  = 10 * time.Second
	readLimit     = 64 << 10
)

// AgentSource hands out the agent for a user.
type AgentSource interface {
	GetUserAgent(ctx context.Context, userID string, data agent.UserData) (*agent.Agent, error)
}

// Handler upgrades /ws/agent/{userID} to a chat socket.
type Handler struct {
	agents         AgentSource
	users          identity.UserStore
	sessions       *SessionManager
	originPatterns []string
	agentName      string
	logger         *slog.Logger
}

// NewHandler creates a websocket chat handler. users may be nil, in which case
// no user record is kept for socket-only users.
func NewHandler(agents AgentSource, users identity.UserStore, sessions *SessionManager, allowedOrigins []string, agentName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if agentName == "" {
		agentName = "Echo"
	}
	return &Handler{
		agents:         agents,
		users:          users,
		sessions:       sessions,
		originPatterns: originHosts(allowedOrigins),
		agentName:      agentName,
		logger:         logger,
	}
}

// originHosts turns configured origins into websocket host patterns.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" || !strings.Contains(o, "://") {
			hosts = append(hosts, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !identity.ValidUserID(userID) {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if claimed := r.Header.Get(identity.UserHeaderName); claimed != "" && claimed != userID {
		h.logger.Warn("Chat socket user mismatch", "user_id", claimed, "path_user_id", userID)
		http.Error(w, "user mismatch", http.StatusForbidden)
		return
	}

	username := userID
	if h.users != nil {
		name, err := identity.EnsureUser(r.Context(), h.users, userID)
		if err != nil {
			h.logger.Error("Failed to initialize chat user", "user_id", userID, "error", err)
			http.Error(w, "failed to initialize user", http.StatusInternalServerError)
			return
		}
		username = name
	}

	data := agent.UserData{UserID: userID, Username: username}
	ag, err := h.agents.GetUserAgent(r.Context(), userID, data)
	if err != nil {
		h.logger.Error("Failed to get agent for chat socket", "user_id", userID, "error", err)
		http.Error(w, "agent unavailable", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if !identity.ValidUserID(sessionID) {
		sessionID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("Failed to accept chat socket", "user_id", userID, "error", err)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "session ended") }()

	h.sessions.Register(userID, sessionID, ws)
	defer h.sessions.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		h:         h,
		ws:        ws,
		id:        "ws:" + sessionID + ":" + uuid.NewString()[:8],
		userID:    userID,
		sessionID: sessionID,
		data:      data,
		out:       make(chan Frame, sendQueueSize),
		logger:    h.logger.With("user_id", userID, "session_id", sessionID),
	}
	c.listener = agent.NewListenerFunc(c.relay)
	if err := c.bind(ag); err != nil {
		c.logger.Error("Failed to attach chat listener", "error", err)
		return
	}
	defer c.unbind()

	c.logger.Info("Chat socket connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(ctx)
	}()

	c.send(ctx, welcomeFrame(h.agentName, userID, sessionID))
	c.readLoop(ctx)
	cancel()
	wg.Wait()

	c.logger.Info("Chat socket closed")
}

// conn is one open chat socket.
type conn struct {
	h         *Handler
	ws        *websocket.Conn
	id        string
	userID    string
	sessionID string
	data      agent.UserData
	out       chan Frame
	logger    *slog.Logger

	listener *agent.ListenerFunc
	mu       sync.Mutex
	agent    *agent.Agent
}

// bind attaches the socket's listener to ag, moving it off any agent it was
// attached to before.
func (c *conn) bind(ag *agent.Agent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent == ag {
		return nil
	}
	if err := ag.AddChatListener(c.listener); err != nil {
		return err
	}
	if c.agent != nil {
		c.agent.RemoveChatListener(c.listener)
	}
	c.agent = ag
	return nil
}

func (c *conn) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent != nil {
		c.agent.RemoveChatListener(c.listener)
		c.agent = nil
	}
}

// current returns the user's live agent. Agents are rebuilt after a teardown,
// so it is looked up again for every frame.
func (c *conn) current(ctx context.Context) (*agent.Agent, error) {
	ag, err := c.h.agents.GetUserAgent(ctx, c.userID, c.data)
	if err != nil {
		return nil, err
	}
	if err := c.bind(ag); err != nil {
		return nil, err
	}
	return ag, nil
}

// relay forwards events that did not come from this socket. It runs on the
// agent's goroutine, so it never blocks.
func (c *conn) relay(_ context.Context, ev agent.ChatEvent) {
	if ev.Origin == c.id {
		return
	}
	select {
	case c.out <- eventFrame(ev):
	default:
		c.logger.Warn("Chat socket send queue full, dropping event", "event", ev.Type)
	}
}

func (c *conn) send(ctx context.Context, f Frame) {
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.out:
			data, err := json.Marshal(f)
			if err != nil {
				c.logger.Error("Failed to encode chat frame", "type", f.Type, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("Chat socket write error", "error", err)
				}
				return
			}
		}
	}
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				c.logger.Debug("Chat socket closed by client")
			} else {
				c.logger.Warn("Chat socket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ctx, errorFrame("Invalid JSON format"))
			continue
		}

		switch msg.Type {
		case "", FrameCommand:
			c.send(ctx, c.handleCommand(ctx, msg.Content))
		case FramePing:
			c.send(ctx, Frame{Type: FramePong, Timestamp: time.Now()})
		case FrameAuthenticate:
			if msg.UserID != "" && msg.UserID != c.userID {
				c.logger.Warn("Chat socket authentication mismatch", "claimed_user_id", msg.UserID)
				c.send(ctx, errorFrame("Authentication does not match this connection"))
				continue
			}
			c.send(ctx, welcomeFrame(c.h.agentName, c.userID, c.sessionID))
		default:
			c.send(ctx, errorFrame("Unknown message type: %s", msg.Type))
		}
	}
}

func (c *conn) handleCommand(ctx context.Context, content string) Frame {
	content = strings.TrimSpace(content)
	if content == "" {
		return errorFrame("Empty command received")
	}

	ag, err := c.current(ctx)
	if err != nil {
		c.logger.Error("Failed to resolve agent", "error", err)
		return errorFrame("Internal error: %v", err)
	}

	switch strings.ToLower(content) {
	case "help", "h", "?":
		return Frame{Type: FrameHelp, Message: "🤖 " + c.h.agentName + " Agent Help", Commands: helpLines, Timestamp: time.Now()}
	case "services":
		services := ag.Services()
		return Frame{
			Type:      FrameServices,
			Message:   fmt.Sprintf("Available services (%d):", len(services)),
			Services:  services,
			Timestamp: time.Now(),
		}
	case "status":
		st := ag.Status()
		return Frame{Type: FrameStatus, Message: "Agent Status", Status: &st, Timestamp: time.Now()}
	}

	cmd := domain.Command{
		UserID: c.userID,
		Text:   content,
		Context: domain.CommandContext{
			Sender:    c.userID,
			Channel:   domain.ChannelChat,
			Origin:    c.id,
			Timestamp: time.Now(),
		},
	}
	result, err := ag.Dispatch(ctx, cmd)
	if errors.Is(err, agent.ErrAgentClosed) {
		// torn down between lookup and dispatch
		if ag, err = c.current(ctx); err == nil {
			result, err = ag.Dispatch(ctx, cmd)
		}
	}
	if err != nil {
		c.logger.Error("Chat command failed", "error", err)
		return errorFrame("Internal error: %v", err)
	}
	return responseFrame(result)
}
