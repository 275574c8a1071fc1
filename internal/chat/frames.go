package chat

import (
	"fmt"
	"time"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

// Inbound frame types.
const (
	FrameAuthenticate = "authenticate"
	FrameCommand      = "command"
	FramePing         = "ping"
)

// Outbound frame types.
const (
	FrameWelcome  = "welcome"
	FrameResponse = "response"
	FrameError    = "error"
	FrameHelp     = "help"
	FrameServices = "services"
	FrameStatus   = "status"
	FramePong     = "pong"
)

// inbound is a client frame. A missing type means command.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	UserID  string `json:"user_id,omitempty"`
}

// Frame is a server frame.
type Frame struct {
	Type              string                 `json:"type"`
	Message           string                 `json:"message,omitempty"`
	Action            string                 `json:"action,omitempty"`
	Service           string                 `json:"service,omitempty"`
	Event             string                 `json:"event,omitempty"`
	Result            *domain.CommandResult  `json:"result,omitempty"`
	Chat              *domain.ChatMessage    `json:"chat,omitempty"`
	Commands          []string               `json:"commands,omitempty"`
	AvailableCommands []string               `json:"available_commands,omitempty"`
	Services          []connector.Descriptor `json:"services,omitempty"`
	Status            *agent.Status          `json:"status,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}

var welcomeHints = []string{
	"Type your commands naturally (e.g., 'pay $10 to merchant@example.com')",
	"Use 'services' to see available services",
	"Use 'help' for more information",
}

var helpLines = []string{
	"• Send payments: 'pay $25.50 to merchant@example.com'",
	"• Send messages: 'send message hello to user@example.com'",
	"• Check services: 'services'",
	"• Get status: 'status'",
}

func welcomeFrame(agentName, userID, sessionID string) Frame {
	return Frame{
		Type:              FrameWelcome,
		Message:           fmt.Sprintf("🤖 Connected to %s Agent for user %s", agentName, userID),
		AvailableCommands: welcomeHints,
		SessionID:         sessionID,
		Timestamp:         time.Now(),
	}
}

func errorFrame(format string, args ...any) Frame {
	return Frame{Type: FrameError, Message: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

func responseFrame(result *domain.CommandResult) Frame {
	f := Frame{
		Type:      FrameResponse,
		Message:   "Command processed",
		Action:    "unknown",
		Service:   "unknown",
		Result:    result,
		Timestamp: time.Now(),
	}
	if result == nil {
		return f
	}
	if result.Message != "" {
		f.Message = result.Message
	}
	if name := result.ActionName(); name != "" {
		f.Action = name
	}
	if name := result.ServiceName(); name != "" {
		f.Service = name
	}
	return f
}

// eventFrame renders an agent event that originated on another channel.
func eventFrame(ev agent.ChatEvent) Frame {
	if ev.Type == agent.EventCommandResult {
		f := responseFrame(ev.Result)
		f.Event = string(ev.Type)
		return f
	}
	f := Frame{Type: FrameResponse, Event: string(ev.Type), Chat: ev.Message, Result: ev.Result, Timestamp: ev.Timestamp}
	if ev.Message != nil {
		f.Message = ev.Message.Content
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	return f
}
