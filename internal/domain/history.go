package domain

import "time"

// HistoryKind distinguishes command entries from plain chat entries.
type HistoryKind string

const (
	HistoryCommand HistoryKind = "command"
	HistoryChat    HistoryKind = "chat"
)

// HistoryEntry is one record in a user's conversation history.
type HistoryEntry struct {
	Seq       uint64         `json:"seq"`
	Kind      HistoryKind    `json:"kind"`
	Command   *Command       `json:"command,omitempty"`
	Result    *CommandResult `json:"result,omitempty"`
	Chat      *ChatMessage   `json:"chat,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary renders the entry as a single line for prompts and logs.
func (e HistoryEntry) Summary() string {
	switch e.Kind {
	case HistoryCommand:
		if e.Command == nil {
			return ""
		}
		line := "user: " + e.Command.Text
		if e.Result != nil && e.Result.Message != "" {
			line += "\nagent: " + e.Result.Message
		}
		return line
	case HistoryChat:
		if e.Chat == nil {
			return ""
		}
		return string(e.Chat.Direction) + " chat: " + e.Chat.Content
	}
	return ""
}
