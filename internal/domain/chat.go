package domain

import "time"

// ChatDirection tells whether a chat message was received or sent by the agent.
type ChatDirection string

const (
	ChatInbound  ChatDirection = "inbound"
	ChatOutbound ChatDirection = "outbound"
)

// ChatMessage is a message exchanged on the external chat transport.
type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	Direction  ChatDirection `json:"direction"`
}
