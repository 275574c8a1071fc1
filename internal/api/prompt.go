package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/echolabs/echo-agent/internal/identity"
	"github.com/echolabs/echo-agent/internal/reasoner"
)

const (
	defaultPromptTemperature = 0.7
	defaultPromptMaxTokens   = 4096
	defaultPromptTopP        = 0.9
)

// Prompter sends raw prompts to the configured AI provider.
type Prompter interface {
	Enabled() bool
	Prompt(ctx context.Context, c reasoner.Completion) (string, error)
	Stream(ctx context.Context, c reasoner.Completion, emit func(chunk string) error) error
}

// promptRequest carries optional sampling settings. Omitted fields take the
// package defaults.
type promptRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type promptResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// WithPrompter enables the raw prompt endpoints.
func (h *AgentHandler) WithPrompter(p Prompter) *AgentHandler {
	h.ai = p
	return h
}

// completion validates req and applies defaults.
func (req promptRequest) completion() (reasoner.Completion, error) {
	c := reasoner.Completion{
		Prompt:      strings.TrimSpace(req.Prompt),
		Temperature: defaultPromptTemperature,
		MaxTokens:   defaultPromptMaxTokens,
		TopP:        defaultPromptTopP,
	}
	if c.Prompt == "" {
		return c, errors.New("prompt is required")
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return c, errors.New("temperature must be between 0 and 2")
		}
		c.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			return c, errors.New("max_tokens must be positive")
		}
		c.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		if *req.TopP <= 0 || *req.TopP > 1 {
			return c, errors.New("top_p must be in (0, 1]")
		}
		c.TopP = *req.TopP
	}
	return c, nil
}

// readPrompt decodes and validates a prompt request. It writes the error
// response itself, including 503 when no provider is configured.
func (h *AgentHandler) readPrompt(w http.ResponseWriter, r *http.Request) (reasoner.Completion, bool) {
	if h.ai == nil || !h.ai.Enabled() {
		Error(w, http.StatusServiceUnavailable, "AI provider not configured")
		return reasoner.Completion{}, false
	}
	var req promptRequest
	if !decodeBody(w, r, &req) {
		return reasoner.Completion{}, false
	}
	c, err := req.completion()
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return reasoner.Completion{}, false
	}
	return c, true
}

// Prompt sends a raw prompt to the AI provider and returns the full reply.
func (h *AgentHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readPrompt(w, r)
	if !ok {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("AI prompt request", "user_id", userID, "prompt_length", len(c.Prompt))

	text, err := h.ai.Prompt(r.Context(), c)
	switch {
	case errors.Is(err, reasoner.ErrDisabled):
		Error(w, http.StatusServiceUnavailable, "AI provider not configured")
		return
	case err != nil:
		h.logger.Error("AI prompt failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "Error processing prompt: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, promptResponse{
		Response: text,
		Success:  true,
		Message:  "Prompt processed successfully",
	})
}

// Stream sends a raw prompt to the AI provider and relays the reply as
// server-sent events: one chunk event per fragment, then done or error.
func (h *AgentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readPrompt(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("AI stream request", "user_id", userID, "prompt_length", len(c.Prompt))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks := 0
	err := h.ai.Stream(r.Context(), c, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		chunks++
		if err := writeSSE(w, "chunk", map[string]string{"chunk": chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Warn("AI stream failed", "user_id", userID, "chunks", chunks, "error", err)
		if writeErr := writeSSE(w, "error", map[string]string{"error": err.Error()}); writeErr != nil {
			h.logger.Debug("Failed to write SSE error event", "error", writeErr)
			return
		}
		flusher.Flush()
		return
	}
	if err := writeSSE(w, "done", map[string]bool{"done": true}); err != nil {
		h.logger.Debug("Failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
