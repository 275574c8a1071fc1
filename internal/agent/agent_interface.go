package agent

import (
	"context"

	"github.com/echolabs/echo-agent/internal/domain"
)

// ChatTransport delivers outbound chat messages.
type ChatTransport interface {
	SendMessage(ctx context.Context, msg domain.ChatMessage) error
}

// Recorder persists history beyond the in-memory bound.
type Recorder interface {
	AppendHistory(ctx context.Context, userID string, entry domain.HistoryEntry) error
	SaveChatMessage(ctx context.Context, msg domain.ChatMessage) error
}

// ServiceSource resolves the services a user is authorized for.
type ServiceSource interface {
	Services(ctx context.Context, userID string) ([]domain.ServiceConfig, error)
}

// ChatListener observes an agent's chat events. Listeners run synchronously
// on the agent's dispatch goroutine and must not dispatch commands to the same
// agent. Implementations must be comparable (use pointer receivers) so that
// add and remove are idempotent; AddChatListener rejects the rest.
type ChatListener interface {
	OnChatEvent(ctx context.Context, ev ChatEvent)
}

// ListenerFunc adapts a function to ChatListener. Each *ListenerFunc is a
// distinct listener identity.
type ListenerFunc struct {
	fn func(context.Context, ChatEvent)
}

// NewListenerFunc wraps fn.
func NewListenerFunc(fn func(context.Context, ChatEvent)) *ListenerFunc {
	return &ListenerFunc{fn: fn}
}

// OnChatEvent calls the wrapped function.
func (l *ListenerFunc) OnChatEvent(ctx context.Context, ev ChatEvent) {
	l.fn(ctx, ev)
}
