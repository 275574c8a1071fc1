package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/echolabs/echo-agent/internal/config"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"action\":\"pay\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", srv.URL+"/v1")
	out, err := p.Complete(context.Background(), Completion{System: "sys", Prompt: "pay $10", MaxTokens: 200, Temperature: 0.3, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"pay"}`, out)
	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 200, got["max_tokens"])
	assert.NotNil(t, got["response_format"])
}

func TestOpenAIProviderErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	r := New(NewOpenAIProvider("sk-bad", "", srv.URL+"/v1"), Options{Timeout: 2 * time.Second})
	assert.False(t, r.Analyze(context.Background(), "pay $10", nil, nil).OK())
}

func startSidecar(t *testing.T, reply map[string]any) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "echo.reasoner.v1.Reasoner",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Complete",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				out := map[string]any{"echo_prompt": in.GetFields()["prompt"].GetStringValue()}
				for k, v := range reply {
					out[k] = v
				}
				return structpb.NewStruct(out)
			},
		}},
	}, struct{}{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGrpcProviderComplete(t *testing.T) {
	addr := startSidecar(t, map[string]any{"content": "hello"})

	p, err := NewGrpcProvider(DefaultGrpcConfig(addr), nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	require.NoError(t, p.Health(context.Background()))
	out, err := p.Complete(context.Background(), Completion{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestGrpcProviderSurfacesSidecarError(t *testing.T) {
	addr := startSidecar(t, map[string]any{"error": "model overloaded"})

	p, err := NewGrpcProvider(DefaultGrpcConfig(addr), nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	_, err = p.Complete(context.Background(), Completion{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestSelectProvider(t *testing.T) {
	p, err := SelectProvider(context.Background(), config.AIConfig{Provider: "auto"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p, "no credentials means AI is off")

	p, err = SelectProvider(context.Background(), config.AIConfig{Provider: "auto", OpenAIKey: "sk", AnthropicKey: "ak"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = SelectProvider(context.Background(), config.AIConfig{Provider: "anthropic", AnthropicKey: "ak"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = SelectProvider(context.Background(), config.AIConfig{Provider: "anthropic"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestOpenAIProviderStream(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, content := range []string{"Hel", "", "lo"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-3.5-turbo\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", srv.URL+"/v1")
	var chunks []string
	err := p.Stream(context.Background(), Completion{Prompt: "greet", MaxTokens: 20, Temperature: 0.7, TopP: 0.9}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, true, got["stream"])
	assert.InDelta(t, 0.9, got["top_p"], 1e-6)
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 1, "empty system prompt should be omitted")
}
