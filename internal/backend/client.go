// Package backend talks to the remote service registry that owns users'
// services and the chat transport.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

// ErrNoRegistry is returned by lookups when no remote registry is configured.
var ErrNoRegistry = errors.New("no service registry configured")

// TransportError reports a request that never produced a usable answer.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request could succeed.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIPrefix      string
	Token          string
	RequestTimeout time.Duration
	RetryAttempts  int
}

// Client is the HTTP client for the service registry.
type Client struct {
	baseURL string
	prefix  string
	token   string
	retries int
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a registry client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		prefix:  "/" + strings.Trim(cfg.APIPrefix, "/"),
		token:   cfg.Token,
		retries: cfg.RetryAttempts,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Data    json.RawMessage `json:"data"`
	Payload json.RawMessage `json:"payload"`
}

// Invoke executes a service request. It is never retried: executions are not
// assumed to be idempotent.
func (c *Client) Invoke(ctx context.Context, req connector.Request) (*connector.Response, error) {
	target := c.serviceURL(req)
	body := map[string]any{
		"intent":       req.Intent,
		"parameters":   req.Parameters,
		"service_id":   req.ServiceID,
		"service_type": req.ServiceType,
		"user_id":      req.UserID,
	}

	var env envelope
	status, err := c.do(ctx, http.MethodPost, target, body, &env, req.CredentialsRef)
	if err != nil {
		var terr *TransportError
		if errors.As(err, &terr) && terr.StatusCode >= 400 && terr.StatusCode < 500 {
			return &connector.Response{Status: "error", Message: http.StatusText(terr.StatusCode)}, nil
		}
		return nil, err
	}

	resp := &connector.Response{Status: env.Status, Message: firstNonEmpty(env.Message, env.Detail)}
	if status >= 300 && resp.OK() {
		resp.Status = "error"
	}
	raw := env.Data
	if len(raw) == 0 {
		raw = env.Payload
	}
	if len(raw) > 0 && string(raw) != "null" {
		payload := map[string]any{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload["result"] = string(raw)
		}
		resp.Payload = payload
	}
	return resp, nil
}

func (c *Client) serviceURL(req connector.Request) string {
	switch {
	case strings.HasPrefix(req.Endpoint, "http://"), strings.HasPrefix(req.Endpoint, "https://"):
		return req.Endpoint
	case req.Endpoint != "":
		return c.baseURL + c.prefix + "/" + strings.TrimLeft(req.Endpoint, "/")
	default:
		return c.baseURL + c.prefix + "/services/" + url.PathEscape(req.ServiceID) + "/execute"
	}
}

type remoteService struct {
	ID           any      `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Keywords     []string `json:"keywords"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

// ListUserServices returns the services the registry authorizes for userID.
func (c *Client) ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error) {
	var body struct {
		Data struct {
			Services []remoteService `json:"services"`
		} `json:"data"`
		Services []remoteService `json:"services"`
	}
	target := c.baseURL + c.prefix + "/services/user/agent/services?user_id=" + url.QueryEscape(userID)
	if err := c.getJSON(ctx, target, &body); err != nil {
		return nil, fmt.Errorf("list services for %s: %w", userID, err)
	}

	remote := body.Data.Services
	if len(remote) == 0 {
		remote = body.Services
	}
	services := make([]domain.ServiceConfig, 0, len(remote))
	for _, s := range remote {
		services = append(services, domain.ServiceConfig{
			ID:           fmt.Sprint(s.ID),
			UserID:       userID,
			Name:         s.Name,
			Type:         strings.ToLower(s.Type),
			Keywords:     s.Keywords,
			Endpoint:     s.Endpoint,
			Capabilities: s.Capabilities,
		})
	}
	return services, nil
}

// SendMessage delivers a chat message through the registry's chat endpoint.
func (c *Client) SendMessage(ctx context.Context, msg domain.ChatMessage) error {
	var env envelope
	_, err := c.do(ctx, http.MethodPost, c.baseURL+c.prefix+"/chat/send", map[string]any{
		"receiver_id": msg.ReceiverID,
		"sender_id":   msg.SenderID,
		"content":     msg.Content,
	}, &env, "")
	if err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	if env.Status != "" && env.Status != "success" {
		return fmt.Errorf("send chat message: rejected: %s", firstNonEmpty(env.Message, env.Status))
	}
	return nil
}

// ChatHistory fetches the conversation between userID and otherID.
func (c *Client) ChatHistory(ctx context.Context, userID, otherID string) ([]domain.ChatMessage, error) {
	var body struct {
		Data struct {
			Messages []domain.ChatMessage `json:"messages"`
		} `json:"data"`
		Messages []domain.ChatMessage `json:"messages"`
	}
	target := c.baseURL + c.prefix + "/chat/history/" + url.PathEscape(otherID) + "?user_id=" + url.QueryEscape(userID)
	if err := c.getJSON(ctx, target, &body); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	if len(body.Data.Messages) > 0 {
		return body.Data.Messages, nil
	}
	return body.Messages, nil
}

// Ping checks that the registry answers at all.
func (c *Client) Ping(ctx context.Context) error {
	var err error
	for _, path := range []string{"/health", "/"} {
		if _, err = c.do(ctx, http.MethodGet, c.baseURL+path, nil, nil, ""); err == nil {
			return nil
		}
	}
	return err
}

// getJSON performs an idempotent GET with exponential backoff.
func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := c.do(ctx, http.MethodGet, target, nil, out, "")
		if err == nil {
			return struct{}{}, nil
		}
		var terr *TransportError
		if errors.As(err, &terr) && terr.Retryable() {
			c.logger.Debug("registry request failed, retrying", "url", target, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.retries)))
	return err
}

func (c *Client) do(ctx context.Context, method, target string, in, out any, credentialsRef string) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if credentialsRef != "" {
		req.Header.Set("X-Credentials-Ref", credentialsRef)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &TransportError{Method: method, URL: target, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, &TransportError{Method: method, URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 {
		// A JSON error envelope is an answer from the service, not a transport failure.
		if env, ok := out.(*envelope); ok && len(data) > 0 && json.Unmarshal(data, env) == nil && (env.Status != "" || env.Message != "" || env.Detail != "") {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, &TransportError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(data))),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response from %s: %w", target, err)
		}
	}
	return resp.StatusCode, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
