package domain

import "time"

// Channel identifies where a command entered the system.
type Channel string

const (
	ChannelCLI  Channel = "cli"
	ChannelREST Channel = "rest"
	ChannelChat Channel = "chat"
)

// CommandContext carries metadata about the origin of a command.
type CommandContext struct {
	Sender    string    `json:"sender,omitempty"`
	Channel   Channel   `json:"channel"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Command is a single natural-language instruction from a user.
type Command struct {
	UserID     string         `json:"user_id"`
	Text       string         `json:"text"`
	Context    CommandContext `json:"context"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandStatus is the outcome kind of a dispatched command.
type CommandStatus string

const (
	StatusSuccess CommandStatus = "success"
	StatusNoMatch CommandStatus = "no_match"
	StatusError   CommandStatus = "error"
)

// Action describes what the agent did for a command.
type Action struct {
	Connector     string         `json:"connector"`
	ConnectorType string         `json:"connector_type"`
	Name          string         `json:"name"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// CommandResult is the outcome of running a command through the pipeline.
type CommandResult struct {
	Status            CommandStatus  `json:"status"`
	Action            *Action        `json:"action,omitempty"`
	Output            map[string]any `json:"output,omitempty"`
	Message           string         `json:"message"`
	AIEnhanced        bool           `json:"ai_enhanced"`
	AvailableServices []string       `json:"available_services,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// ServiceName returns the connector name of the action, if any.
func (r *CommandResult) ServiceName() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.Connector
}

// ActionName returns the action name, if any.
func (r *CommandResult) ActionName() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.Name
}
