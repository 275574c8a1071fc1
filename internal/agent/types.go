// Package agent implements the per-user command dispatch agent and the
// process-wide manager that owns one agent per user.
package agent

import (
	"errors"
	"time"

	"github.com/echolabs/echo-agent/internal/domain"
)

var (
	// ErrIsolationViolation means a command, config or lookup crossed user
	// boundaries. It always indicates a bug in the caller.
	ErrIsolationViolation = errors.New("user isolation violation")
	// ErrAgentClosed is returned by operations on a torn-down agent.
	ErrAgentClosed = errors.New("agent closed")
	// ErrEmptyUserID is returned when a lookup has no user identity.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrListenerNotComparable rejects listeners whose dynamic type cannot
	// be compared, such as func or slice types.
	ErrListenerNotComparable = errors.New("chat listener is not comparable")
)

// NoMatchMessage is the reply when no connector claims a command.
const NoMatchMessage = "I'm sorry, I don't have a service that can handle that request."

// UserData is what the caller knows about a user when asking for its agent.
// Empty Services lets the manager resolve them from its ServiceSource.
type UserData struct {
	UserID   string
	Username string
	Services []domain.ServiceConfig
}

// Status is a read-only snapshot of an agent.
type Status struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username,omitempty"`
	Initialized    bool      `json:"agent_initialized"`
	ConnectorCount int       `json:"services_count"`
	HistoryLength  int       `json:"conversation_length"`
	AIEnabled      bool      `json:"ai_enabled"`
	AIProvider     string    `json:"ai_provider"`
	Services       []string  `json:"services"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
}

// SendResult reports the outcome of SendChatMessage. Delivery is best-effort:
// a failed send is reported here and never returned as an error.
type SendResult struct {
	Message   domain.ChatMessage `json:"message"`
	Delivered bool               `json:"delivered"`
	Error     string             `json:"error,omitempty"`
}

// EventType names a chat listener event.
type EventType string

const (
	EventCommandResult   EventType = "command_result"
	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"
)

// ChatEvent is delivered to chat listeners.
type ChatEvent struct {
	Type      EventType             `json:"type"`
	UserID    string                `json:"user_id"`
	Origin    string                `json:"-"`
	Command   string                `json:"command,omitempty"`
	Result    *domain.CommandResult `json:"result,omitempty"`
	Message   *domain.ChatMessage   `json:"message,omitempty"`
	Processed bool                  `json:"processed,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}
