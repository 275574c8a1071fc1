package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

const simulatedHistoryLimit = 200

// Simulated is an in-process stand-in for the service registry. It accepts
// every well-formed request and keeps sent chat messages in memory.
type Simulated struct {
	logger *slog.Logger

	mu    sync.Mutex
	chats map[string][]domain.ChatMessage
}

// NewSimulated creates a simulated backend.
func NewSimulated(logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{logger: logger, chats: make(map[string][]domain.ChatMessage)}
}

func newRef(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Invoke fabricates a successful result for req.
func (s *Simulated) Invoke(ctx context.Context, req connector.Request) (*connector.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := map[string]any{"status": "completed", "processed_at": time.Now().UTC().Format(time.RFC3339)}
	switch req.Intent {
	case "payment":
		payload["transaction_id"] = newRef("txn")
	case "refund":
		payload["refund_id"] = newRef("rfd")
	case "send_message":
		payload["message_id"] = newRef("msg")
	case "call":
		payload["call_id"] = newRef("call")
	default:
		payload["request_id"] = newRef("req")
	}

	s.logger.Debug("simulated service invocation",
		"service", req.ServiceName,
		"intent", req.Intent,
		"user_id", req.UserID,
	)
	return &connector.Response{Status: "success", Payload: payload}, nil
}

// ListUserServices always reports that no registry is available so callers
// fall back to their default catalog.
func (s *Simulated) ListUserServices(_ context.Context, userID string) ([]domain.ServiceConfig, error) {
	return nil, fmt.Errorf("list services for %s: %w", userID, ErrNoRegistry)
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// SendMessage records msg in memory.
func (s *Simulated) SendMessage(ctx context.Context, msg domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(msg.SenderID, msg.ReceiverID)
	msgs := append(s.chats[key], msg)
	if len(msgs) > simulatedHistoryLimit {
		msgs = msgs[len(msgs)-simulatedHistoryLimit:]
	}
	s.chats[key] = msgs
	return nil
}

// ChatHistory returns the messages exchanged between userID and otherID.
func (s *Simulated) ChatHistory(_ context.Context, userID, otherID string) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.chats[pairKey(userID, otherID)]...), nil
}

// Ping always succeeds.
func (s *Simulated) Ping(context.Context) error { return nil }
