package connector

import (
	"context"
	"strings"

	"github.com/echolabs/echo-agent/internal/domain"
)

// serviceConnector is the single implementation behind every variant. A
// variant is fully described by its kind and the ServiceConfig it was built
// from.
type serviceConnector struct {
	cfg      domain.ServiceConfig
	kind     kind
	keywords []string
	backend  Backend
}

// New builds the connector variant for cfg. Unknown service types yield a
// generic connector that only claims commands matching its configured keywords.
func New(cfg domain.ServiceConfig, backend Backend) Connector {
	k := kindFor(cfg.Type)
	keywords := k.keywords
	if len(cfg.Keywords) > 0 {
		keywords = cfg.Keywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &serviceConnector{cfg: cfg, kind: k, keywords: lowered, backend: backend}
}

func (c *serviceConnector) Descriptor() Descriptor {
	caps := c.cfg.Capabilities
	if len(caps) == 0 {
		caps = c.kind.capabilities
	}
	return Descriptor{
		ID:           c.cfg.ID,
		Name:         c.cfg.Name,
		Type:         c.cfg.Type,
		Capabilities: append([]string(nil), caps...),
	}
}

func (c *serviceConnector) CanHandle(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (c *serviceConnector) Execute(ctx context.Context, text string, params Params) (*Outcome, error) {
	op, ok := c.kind.resolve(strings.ToLower(text))
	if !ok {
		msg := "Unsupported " + c.cfg.Type + " command: " + text
		return &Outcome{Action: "unsupported", Message: msg, Payload: map[string]any{"error": msg}}, nil
	}

	params = params.Clone()
	if op.validate != nil {
		if msg := op.validate(params); msg != "" {
			return &Outcome{
				Action:  op.failure,
				Message: msg,
				Payload: map[string]any{"action": op.failure, "error": msg},
			}, nil
		}
	}

	resp, err := c.backend.Invoke(ctx, Request{
		ServiceID:      c.cfg.ID,
		ServiceName:    c.cfg.Name,
		ServiceType:    c.cfg.Type,
		Endpoint:       c.cfg.Endpoint,
		CredentialsRef: c.cfg.CredentialsRef,
		UserID:         c.cfg.UserID,
		Intent:         op.intent,
		Parameters:     params,
	})
	if err != nil {
		return nil, newError(c.cfg.Name, op.intent, err)
	}

	payload := make(map[string]any, len(params)+len(resp.Payload)+1)
	for k, v := range params {
		payload[k] = v
	}
	for k, v := range resp.Payload {
		payload[k] = v
	}

	if !resp.OK() {
		msg := resp.Message
		if msg == "" {
			msg = "Request rejected by " + c.cfg.Name
		}
		payload["action"] = op.failure
		payload["error"] = msg
		return &Outcome{Action: op.failure, Message: msg, Payload: payload}, nil
	}

	payload["action"] = op.success
	return &Outcome{Action: op.success, Succeeded: true, Payload: payload, Message: resp.Message}, nil
}
