package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echolabs/echo-agent/internal/domain"
)

// Chat content starting with one of these prefixes is treated as a command.
var commandPrefixes = []string{"/agent", "!"}

// ReplyPrefix marks messages the agent sends in answer to a chat command.
const ReplyPrefix = "🤖 "

// SendChatMessage sends content to receiverID on behalf of the agent's user.
// Delivery is best effort: failures are reported in the result.
func (a *Agent) SendChatMessage(ctx context.Context, receiverID, content string) SendResult {
	a.touch()
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   a.userID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now(),
		Direction:  domain.ChatOutbound,
	}
	res := SendResult{Message: msg}

	switch {
	case a.deps.Chat == nil:
		res.Error = "chat transport not configured"
	default:
		sctx, cancel := context.WithTimeout(ctx, a.opts.ChatSendTimeout)
		err := a.deps.Chat.SendMessage(sctx, msg)
		cancel()
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Delivered = true
		}
	}

	outcome := "delivered"
	if !res.Delivered {
		outcome = "failed"
		a.logger.Warn("Chat message not delivered", "receiver_id", receiverID, "error", res.Error)
	}
	a.deps.Metrics.ObserveChat(string(domain.ChatOutbound), outcome)

	a.recordChat(ctx, msg)
	a.notify(ctx, ChatEvent{Type: EventMessageSent, Message: &msg, Timestamp: msg.Timestamp})
	return res
}

// HandleIncomingMessage records msg and, when it carries a command prefix,
// dispatches the remainder and replies to the sender. The returned result is
// nil for plain chat.
func (a *Agent) HandleIncomingMessage(ctx context.Context, msg domain.ChatMessage) (*domain.CommandResult, error) {
	if msg.ReceiverID == "" {
		msg.ReceiverID = a.userID
	}
	if msg.ReceiverID != a.userID {
		a.logger.Error("chat message routed to wrong agent", "receiver_id", msg.ReceiverID)
		return nil, ErrIsolationViolation
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Direction = domain.ChatInbound
	a.touch()

	a.recordChat(ctx, msg)

	text, isCommand := commandText(msg.Content)
	kind := "message"
	if isCommand {
		kind = "command"
	}
	a.deps.Metrics.ObserveChat(string(domain.ChatInbound), kind)

	var result *domain.CommandResult
	if isCommand && text != "" {
		var err error
		result, err = a.Dispatch(ctx, domain.Command{
			UserID: a.userID,
			Text:   text,
			Context: domain.CommandContext{
				Sender:    msg.SenderID,
				Channel:   domain.ChannelChat,
				Origin:    "chat:" + msg.SenderID,
				Timestamp: msg.Timestamp,
			},
		})
		if err != nil {
			return nil, err
		}
		if msg.SenderID != "" {
			a.SendChatMessage(ctx, msg.SenderID, ReplyPrefix+result.Message)
		}
	}

	a.notify(ctx, ChatEvent{
		Type:      EventMessageReceived,
		Message:   &msg,
		Result:    result,
		Processed: result != nil,
		Timestamp: msg.Timestamp,
	})
	return result, nil
}

func commandText(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	for _, p := range commandPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, p)), true
		}
	}
	return "", false
}

func (a *Agent) recordChat(ctx context.Context, msg domain.ChatMessage) {
	m := msg
	a.history.Append(domain.HistoryEntry{Kind: domain.HistoryChat, Chat: &m, Timestamp: msg.Timestamp})

	if a.deps.Recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.RecordTimeout)
		if err := a.deps.Recorder.SaveChatMessage(rctx, msg); err != nil {
			a.logger.Warn("Failed to persist chat message", "message_id", msg.ID, "error", err)
		}
		cancel()
	}

	peer := msg.ReceiverID
	if msg.Direction == domain.ChatInbound {
		peer = msg.SenderID
	}
	a.deps.ConvLog.Log(ConversationLogEvent{
		UserID:     a.userID,
		SessionID:  "chat-" + peer,
		Channel:    string(domain.ChannelChat),
		Direction:  string(msg.Direction),
		EventType:  "chat_message",
		ContentRaw: msg.Content,
		Meta:       map[string]any{"message_id": msg.ID, "peer": peer},
	})
}
