// Package reasoner provides optional AI intent extraction and response
// generation. Analyze and GenerateResponse degrade to a Disabled result on
// any failure. Prompt and Stream pass a raw prompt to the provider and return
// its errors.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

// Completion is a single prompt sent to a provider.
type Completion struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	JSON        bool
}

// Provider is a language model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, c Completion) (string, error)
}

// Streamer is implemented by providers that can deliver a completion
// incrementally. emit is called once per non-empty chunk, in order; an error
// from emit stops the stream and is returned.
type Streamer interface {
	Stream(ctx context.Context, c Completion, emit func(chunk string) error) error
}

// ErrDisabled is returned by Prompt and Stream when no provider is configured.
var ErrDisabled = errors.New("ai provider not configured")

// Observer receives one observation per provider call.
type Observer interface {
	ObserveAI(provider, operation, outcome string, elapsed time.Duration)
}

// Availability tells whether a reasoning step produced a usable value.
type Availability string

const (
	Available Availability = "available"
	Disabled  Availability = "disabled"
)

// Intent is the structured reading of a command.
type Intent struct {
	Action      string         `json:"action"`
	ServiceType string         `json:"service_type,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
}

// Analysis is the result of Analyze.
type Analysis struct {
	Status Availability
	Intent Intent
	Reason string
}

// OK reports whether an intent was extracted.
func (a Analysis) OK() bool { return a.Status == Available }

// Reply is the result of GenerateResponse.
type Reply struct {
	Status Availability
	Text   string
	Reason string
}

// OK reports whether a reply was generated.
func (r Reply) OK() bool { return r.Status == Available }

// Options tunes a Reasoner.
type Options struct {
	Timeout time.Duration
	// PromptTimeout bounds Prompt and Stream, which produce long outputs.
	PromptTimeout time.Duration
	MinConfidence float64
	HistoryWindow int
	Logger        *slog.Logger
	Observer      Observer
}

// Reasoner wraps a Provider with timeouts and degrade-to-disabled semantics.
// It holds no per-call state and is shared by every agent.
type Reasoner struct {
	provider Provider
	opts     Options
}

// New creates a reasoner. A nil provider yields a permanently disabled reasoner.
func New(provider Provider, opts Options) *Reasoner {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 2 * time.Minute
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reasoner{provider: provider, opts: opts}
}

// Off returns a reasoner that never calls a model.
func Off() *Reasoner { return New(nil, Options{}) }

// Enabled reports whether a provider is configured.
func (r *Reasoner) Enabled() bool {
	return r != nil && r.provider != nil
}

// ProviderName returns the configured provider name, or "none".
func (r *Reasoner) ProviderName() string {
	if !r.Enabled() {
		return "none"
	}
	return r.provider.Name()
}

// HistoryWindow is the number of recent history entries Analyze uses.
func (r *Reasoner) HistoryWindow() int {
	if r == nil {
		return 0
	}
	return r.opts.HistoryWindow
}

// Close releases provider resources when the provider holds any.
func (r *Reasoner) Close() error {
	if !r.Enabled() {
		return nil
	}
	if c, ok := r.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

const analyzeSystemPrompt = `You analyze user commands for a service dispatch agent.
Available services:
%s
Reply with a single JSON object and nothing else:
{"action": "<short keyword naming the operation, e.g. pay, refund, send message, call>",
 "service_type": "<payment|communication|other>",
 "parameters": {"amount": <number>, "currency": "<code>", "to": "<recipient>", "message": "<text>"},
 "confidence": <0..1>}
Omit parameters you cannot find.`

const respondSystemPrompt = `Write a short, friendly reply to the user describing the outcome of their request.
Be concise but include the relevant details from the result. Do not invent details.`

// Analyze asks the model for a structured intent. The history window bounds how
// much prior conversation is sent.
func (r *Reasoner) Analyze(ctx context.Context, text string, history []domain.HistoryEntry, services []connector.Descriptor) Analysis {
	if !r.Enabled() {
		return Analysis{Status: Disabled, Reason: "no provider"}
	}

	var svc strings.Builder
	for _, d := range services {
		fmt.Fprintf(&svc, "- %s (%s): %s\n", d.Name, d.Type, strings.Join(d.Capabilities, ", "))
	}
	if svc.Len() == 0 {
		svc.WriteString("- none\n")
	}

	var prompt strings.Builder
	if n := len(history); n > 0 {
		if n > r.opts.HistoryWindow {
			history = history[n-r.opts.HistoryWindow:]
		}
		prompt.WriteString("Recent conversation:\n")
		for _, e := range history {
			if line := e.Summary(); line != "" {
				prompt.WriteString(line)
				prompt.WriteString("\n")
			}
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Command: ")
	prompt.WriteString(text)

	raw, err := r.call(ctx, "analyze", r.opts.Timeout, Completion{
		System:      fmt.Sprintf(analyzeSystemPrompt, svc.String()),
		Prompt:      prompt.String(),
		MaxTokens:   200,
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return Analysis{Status: Disabled, Reason: err.Error()}
	}

	intent, err := parseIntent(raw)
	if err != nil {
		r.opts.Logger.Debug("discarding unparsable intent", "provider", r.provider.Name(), "error", err)
		return Analysis{Status: Disabled, Reason: err.Error()}
	}
	if intent.Confidence != nil && *intent.Confidence < r.opts.MinConfidence {
		return Analysis{Status: Disabled, Reason: fmt.Sprintf("confidence %.2f below threshold", *intent.Confidence)}
	}
	return Analysis{Status: Available, Intent: intent}
}

// GenerateResponse asks the model to phrase the outcome of a command.
func (r *Reasoner) GenerateResponse(ctx context.Context, text string, result *domain.CommandResult) Reply {
	if !r.Enabled() {
		return Reply{Status: Disabled, Reason: "no provider"}
	}
	if result == nil {
		return Reply{Status: Disabled, Reason: "no result"}
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		output = []byte("{}")
	}
	prompt := fmt.Sprintf("Command: %s\nService: %s\nAction: %s\nStatus: %s\nResult: %s\nDefault reply: %s",
		text, result.ServiceName(), result.ActionName(), result.Status, output, result.Message)

	raw, err := r.call(ctx, "respond", r.opts.Timeout, Completion{
		System:      respondSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   100,
		Temperature: 0.7,
	})
	if err != nil {
		return Reply{Status: Disabled, Reason: err.Error()}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reply{Status: Disabled, Reason: "empty reply"}
	}
	return Reply{Status: Available, Text: raw}
}

type callResult struct {
	text string
	err  error
}

var errProviderPanic = errors.New("provider panicked")

// Prompt sends c to the provider as is and returns the full completion.
func (r *Reasoner) Prompt(ctx context.Context, c Completion) (string, error) {
	if !r.Enabled() {
		return "", ErrDisabled
	}
	return r.call(ctx, "prompt", r.opts.PromptTimeout, c)
}

// Stream sends c to the provider and passes the completion to emit as it
// arrives. Providers without streaming support deliver a single chunk.
func (r *Reasoner) Stream(ctx context.Context, c Completion, emit func(chunk string) error) error {
	if !r.Enabled() {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.PromptTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if s, ok := r.provider.(Streamer); ok {
		err = s.Stream(ctx, c, emit)
	} else {
		var text string
		if text, err = r.provider.Complete(ctx, c); err == nil && text != "" {
			err = emit(text)
		}
	}
	r.observe("stream", err, start)
	if err != nil {
		r.opts.Logger.Warn("AI stream failed",
			"provider", r.provider.Name(),
			"error", err,
		)
	}
	return err
}

func (r *Reasoner) observe(op string, err error, start time.Time) string {
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveAI(r.provider.Name(), op, outcome, time.Since(start))
	}
	return outcome
}

// call runs one provider request under timeout. The result of a call that
// outlives its deadline is discarded.
func (r *Reasoner) call(ctx context.Context, op string, timeout time.Duration, c Completion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("%w: %v", errProviderPanic, p)}
			}
		}()
		text, err := r.provider.Complete(ctx, c)
		done <- callResult{text: text, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = callResult{err: ctx.Err()}
	}

	outcome := r.observe(op, res.err, start)
	if res.err != nil {
		r.opts.Logger.Warn("AI call failed",
			"provider", r.provider.Name(),
			"operation", op,
			"outcome", outcome,
			"error", res.err,
		)
		return "", res.err
	}
	return res.text, nil
}

var errNoJSON = errors.New("no JSON object in model output")

// parseIntent extracts the first JSON object from raw model output. Code
// fences and surrounding prose are tolerated.
func parseIntent(raw string) (Intent, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Intent{}, errNoJSON
	}

	var body struct {
		Action      string         `json:"action"`
		Intent      string         `json:"intent"`
		ServiceType string         `json:"service_type"`
		Parameters  map[string]any `json:"parameters"`
		Confidence  *float64       `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &body); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	var action string
	for _, candidate := range []string{body.Action, body.Intent, body.ServiceType} {
		if action = strings.ToLower(strings.TrimSpace(candidate)); action != "" {
			break
		}
	}
	if action == "" {
		return Intent{}, errors.New("intent has no action")
	}
	return Intent{
		Action:      action,
		ServiceType: strings.ToLower(body.ServiceType),
		Parameters:  body.Parameters,
		Confidence:  body.Confidence,
	}, nil
}
