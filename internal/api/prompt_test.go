package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/echolabs/echo-agent/internal/identity"
	"github.com/echolabs/echo-agent/internal/reasoner"
)

type fakePrompter struct {
	enabled bool
	reply   string
	chunks  []string
	err     error
	got     reasoner.Completion
}

func (f *fakePrompter) Enabled() bool { return f.enabled }

func (f *fakePrompter) Prompt(_ context.Context, c reasoner.Completion) (string, error) {
	f.got = c
	return f.reply, f.err
}

func (f *fakePrompter) Stream(_ context.Context, c reasoner.Completion, emit func(string) error) error {
	f.got = c
	for _, chunk := range f.chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return f.err
}

func newPromptRouter(p Prompter) http.Handler {
	h := NewAgentHandler(NewHandler(nil, nil, nil), nil)
	if p != nil {
		h.WithPrompter(p)
	}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(newFakeRepo(), identity.Options{IsDev: true, TrustUserHeader: true}))
		h.RegisterRoutes(r)
	})
	return r
}

func postPrompt(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(identity.UserHeaderName, "u1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPromptUnavailableWithoutProvider(t *testing.T) {
	for _, p := range []Prompter{nil, &fakePrompter{}} {
		h := newPromptRouter(p)
		for _, path := range []string{"/api/agent/prompt", "/api/agent/stream"} {
			rr := postPrompt(t, h, path, `{"prompt":"hello"}`)
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("%s: expected 503, got %d", path, rr.Code)
			}
		}
	}
}

func TestPromptReturnsProviderReply(t *testing.T) {
	p := &fakePrompter{enabled: true, reply: "Paris"}
	rr := postPrompt(t, newPromptRouter(p), "/api/agent/prompt", `{"prompt":"capital of France?","max_tokens":64}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[promptResponse](t, rr)
	if resp.Response != "Paris" || !resp.Success || resp.Message != "Prompt processed successfully" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if p.got.MaxTokens != 64 || p.got.Temperature != 0.7 || p.got.TopP != 0.9 {
		t.Fatalf("expected defaults with max_tokens override, got %+v", p.got)
	}
}

func TestPromptValidatesRequest(t *testing.T) {
	h := newPromptRouter(&fakePrompter{enabled: true})
	for _, body := range []string{
		`{"prompt":"  "}`,
		`{"prompt":"hi","temperature":3}`,
		`{"prompt":"hi","max_tokens":0}`,
		`{"prompt":"hi","top_p":0}`,
		`not json`,
	} {
		if rr := postPrompt(t, h, "/api/agent/prompt", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestPromptProviderFailure(t *testing.T) {
	p := &fakePrompter{enabled: true, err: errors.New("quota exceeded")}
	rr := postPrompt(t, newPromptRouter(p), "/api/agent/prompt", `{"prompt":"hi"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr)["error"]; got != "Error processing prompt: quota exceeded" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestStreamRelaysChunks(t *testing.T) {
	p := &fakePrompter{enabled: true, chunks: []string{"Hel", "", "lo"}}
	rr := postPrompt(t, newPromptRouter(p), "/api/agent/stream", `{"prompt":"greet","temperature":0.2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("unexpected cache control %q", cc)
	}
	want := "event: chunk\ndata: {\"chunk\":\"Hel\"}\n\n" +
		"event: chunk\ndata: {\"chunk\":\"lo\"}\n\n" +
		"event: done\ndata: {\"done\":true}\n\n"
	if rr.Body.String() != want {
		t.Fatalf("unexpected stream body:\n%s", rr.Body.String())
	}
	if p.got.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", p.got.Temperature)
	}
}

func TestStreamReportsErrorEvent(t *testing.T) {
	p := &fakePrompter{enabled: true, chunks: []string{"partial"}, err: errors.New("connection reset")}
	rr := postPrompt(t, newPromptRouter(p), "/api/agent/stream", `{"prompt":"greet"}`)
	body := rr.Body.String()
	if !strings.Contains(body, `data: {"chunk":"partial"}`) {
		t.Fatalf("expected partial chunk, got %q", body)
	}
	if !strings.HasSuffix(body, "event: error\ndata: {\"error\":\"connection reset\"}\n\n") {
		t.Fatalf("expected trailing error event, got %q", body)
	}
	if strings.Contains(body, `"done"`) {
		t.Fatal("expected no done event after an error")
	}
}
