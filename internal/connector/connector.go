// Package connector implements the service connectors a user agent dispatches
// commands to, and the ordered registry that selects between them.
package connector

import (
	"context"
	"errors"
	"fmt"
)

// Params carries the parameters extracted for a command.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into p, overwriting existing values.
func (p Params) Merge(other map[string]any) Params {
	for k, v := range other {
		if v == nil {
			continue
		}
		p[k] = v
	}
	return p
}

// Descriptor identifies a connector to users and to the reasoner.
type Descriptor struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

// Outcome is the result of a connector execution that reached a decision.
// Business failures (missing parameters, backend rejection) are outcomes with
// Succeeded set to false, not errors.
type Outcome struct {
	Action    string         `json:"action"`
	Succeeded bool           `json:"succeeded"`
	Payload   map[string]any `json:"payload,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Connector is a capability bound to one backend service.
type Connector interface {
	Descriptor() Descriptor
	// CanHandle must be pure and deterministic for a given connector instance.
	CanHandle(text string) bool
	Execute(ctx context.Context, text string, params Params) (*Outcome, error)
}

// Request is a single invocation of a backend service.
type Request struct {
	ServiceID      string         `json:"service_id"`
	ServiceName    string         `json:"-"`
	ServiceType    string         `json:"service_type"`
	Endpoint       string         `json:"-"`
	CredentialsRef string         `json:"-"`
	UserID         string         `json:"user_id,omitempty"`
	Intent         string         `json:"intent"`
	Parameters     map[string]any `json:"parameters"`
}

// Response is the backend's reply to a Request.
type Response struct {
	Status  string         `json:"status"`
	Payload map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// OK reports whether the backend accepted the request.
func (r *Response) OK() bool {
	switch r.Status {
	case "", "success", "ok", "completed", "accepted":
		return true
	}
	return false
}

// Backend executes requests against the remote service registry.
type Backend interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ErrorKind classifies connector errors.
type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport"
	ErrorTimeout   ErrorKind = "timeout"
)

// Error reports a connector failure that prevented a decision from being
// reached, such as a network error or timeout.
type Error struct {
	Connector string
	Op        string
	Kind      ErrorKind
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connector %s: %s: %s: %v", e.Connector, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(connector, op string, err error) *Error {
	kind := ErrorTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrorTimeout
	}
	return &Error{Connector: connector, Op: op, Kind: kind, Err: err}
}
