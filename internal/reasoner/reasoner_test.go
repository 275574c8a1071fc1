package reasoner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	prompts []Completion
	panics  bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, c Completion) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, c)
	p.mu.Unlock()

	if p.panics {
		panic("boom")
	}
	if p.delay > 0 {
		// Deliberately ignores ctx to prove the reasoner abandons the call.
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveAI(_, op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, op+":"+outcome)
}

var services = []connector.Descriptor{{Name: "Stripe", Type: "payment", Capabilities: []string{"Process payments"}}}

func TestOffReasonerIsDisabled(t *testing.T) {
	r := Off()
	assert.False(t, r.Enabled())
	assert.Equal(t, "none", r.ProviderName())
	assert.False(t, r.Analyze(context.Background(), "pay", nil, services).OK())
	assert.False(t, r.GenerateResponse(context.Background(), "pay", &domain.CommandResult{}).OK())

	var nilReasoner *Reasoner
	assert.False(t, nilReasoner.Enabled())
}

func TestAnalyzeParsesIntent(t *testing.T) {
	p := &scriptedProvider{replies: []string{"```json\n{\"action\":\"Pay\",\"parameters\":{\"amount\":25.5,\"to\":\"x@example.com\"}}\n```"}}
	r := New(p, Options{Timeout: time.Second})

	a := r.Analyze(context.Background(), "send 25.50 bucks to x@example.com please", nil, services)
	require.True(t, a.OK())
	assert.Equal(t, "pay", a.Intent.Action)
	assert.Equal(t, 25.5, a.Intent.Parameters["amount"])
	assert.Equal(t, "x@example.com", a.Intent.Parameters["to"])

	require.Len(t, p.prompts, 1)
	assert.True(t, p.prompts[0].JSON)
	assert.Contains(t, p.prompts[0].System, "Stripe (payment)")
}

func TestAnalyzeDegradesOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider *scriptedProvider
		opts     Options
	}{
		{name: "provider error", provider: &scriptedProvider{err: errors.New("rate limited")}},
		{name: "not json", provider: &scriptedProvider{replies: []string{"I think you want to pay"}}},
		{name: "no action", provider: &scriptedProvider{replies: []string{`{"parameters":{}}`}}},
		{name: "low confidence", provider: &scriptedProvider{replies: []string{`{"action":"pay","confidence":0.2}`}}, opts: Options{MinConfidence: 0.5}},
		{name: "panic", provider: &scriptedProvider{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Timeout = time.Second
			r := New(tt.provider, tt.opts)
			a := r.Analyze(context.Background(), "pay $10", nil, services)
			assert.False(t, a.OK())
			assert.Equal(t, Disabled, a.Status)
			assert.NotEmpty(t, a.Reason)
		})
	}
}

func TestCallIsAbandonedAfterTimeout(t *testing.T) {
	obs := &recordingObserver{}
	p := &scriptedProvider{delay: 500 * time.Millisecond, replies: []string{`{"action":"pay"}`}}
	r := New(p, Options{Timeout: 30 * time.Millisecond, Observer: obs})

	start := time.Now()
	a := r.Analyze(context.Background(), "pay $10", nil, services)
	elapsed := time.Since(start)

	assert.False(t, a.OK())
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, []string{"analyze:timeout"}, obs.outcomes)
}

func TestAnalyzeSendsBoundedHistoryWindow(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"action":"pay"}`}}
	r := New(p, Options{Timeout: time.Second, HistoryWindow: 2})

	var history []domain.HistoryEntry
	for _, text := range []string{"first", "second", "third"} {
		history = append(history, domain.HistoryEntry{
			Kind:    domain.HistoryCommand,
			Command: &domain.Command{Text: text},
		})
	}

	require.True(t, r.Analyze(context.Background(), "pay", history, services).OK())
	prompt := p.prompts[0].Prompt
	assert.NotContains(t, prompt, "user: first")
	assert.Contains(t, prompt, "user: second")
	assert.Contains(t, prompt, "user: third")
}

func TestGenerateResponse(t *testing.T) {
	p := &scriptedProvider{replies: []string{"  Done! Paid $10.  "}}
	r := New(p, Options{Timeout: time.Second})

	reply := r.GenerateResponse(context.Background(), "pay $10", &domain.CommandResult{
		Status:  domain.StatusSuccess,
		Action:  &domain.Action{Connector: "Stripe", Name: "payment_processed"},
		Message: "✅ Payment of $10.00 USD has been processed successfully.",
	})
	require.True(t, reply.OK())
	assert.Equal(t, "Done! Paid $10.", reply.Text)
	assert.True(t, strings.Contains(p.prompts[0].Prompt, "payment_processed"))

	empty := New(&scriptedProvider{replies: []string{"   "}}, Options{Timeout: time.Second})
	assert.False(t, empty.GenerateResponse(context.Background(), "pay", &domain.CommandResult{}).OK())
}

func TestParseIntentFallsBackToServiceType(t *testing.T) {
	intent, err := parseIntent(`Sure: {"service_type":"Payment","confidence":0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "payment", intent.Action)
	require.NotNil(t, intent.Confidence)
	assert.InDelta(t, 0.9, *intent.Confidence, 1e-9)
}

type streamingProvider struct {
	scriptedProvider
	chunks []string
	err    error
}

func (p *streamingProvider) Stream(_ context.Context, c Completion, emit func(string) error) error {
	p.mu.Lock()
	p.prompts = append(p.prompts, c)
	p.mu.Unlock()
	for _, chunk := range p.chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return p.err
}

func collect(chunks *[]string) func(string) error {
	return func(s string) error {
		*chunks = append(*chunks, s)
		return nil
	}
}

func TestPromptAndStreamRequireProvider(t *testing.T) {
	r := Off()
	_, err := r.Prompt(context.Background(), Completion{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, r.Stream(context.Background(), Completion{Prompt: "hi"}, collect(new([]string))), ErrDisabled)
}

func TestPromptPassesCompletionThrough(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Paris"}}
	obs := &recordingObserver{}
	r := New(p, Options{Observer: obs})

	c := Completion{Prompt: "capital of France?", MaxTokens: 4096, Temperature: 0.7, TopP: 0.9}
	out, err := r.Prompt(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	require.Len(t, p.prompts, 1)
	assert.Equal(t, c, p.prompts[0])
	assert.Equal(t, []string{"prompt:ok"}, obs.outcomes)
}

func TestPromptReturnsProviderError(t *testing.T) {
	r := New(&scriptedProvider{err: errors.New("quota exceeded")}, Options{})
	_, err := r.Prompt(context.Background(), Completion{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestStreamUsesProviderStreaming(t *testing.T) {
	p := &streamingProvider{chunks: []string{"Hel", "lo"}}
	obs := &recordingObserver{}
	r := New(p, Options{Observer: obs})

	var chunks []string
	require.NoError(t, r.Stream(context.Background(), Completion{Prompt: "greet"}, collect(&chunks)))
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, []string{"stream:ok"}, obs.outcomes)
}

func TestStreamFallsBackToSingleChunk(t *testing.T) {
	p := &scriptedProvider{replies: []string{"whole reply"}}
	r := New(p, Options{})

	var chunks []string
	require.NoError(t, r.Stream(context.Background(), Completion{Prompt: "greet"}, collect(&chunks)))
	assert.Equal(t, []string{"whole reply"}, chunks)
}

func TestStreamReportsProviderError(t *testing.T) {
	p := &streamingProvider{chunks: []string{"partial"}, err: errors.New("connection reset")}
	obs := &recordingObserver{}
	r := New(p, Options{Observer: obs})

	var chunks []string
	err := r.Stream(context.Background(), Completion{Prompt: "greet"}, collect(&chunks))
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, chunks)
	assert.Equal(t, []string{"stream:error"}, obs.outcomes)
}
