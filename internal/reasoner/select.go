package reasoner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/echolabs/echo-agent/internal/config"
)

// SelectProvider builds the provider named by cfg.Provider. In "auto" mode the
// first provider with credentials wins, in the order openai, anthropic,
// bedrock, grpc. A nil provider with a nil error means AI is off.
func SelectProvider(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Provider
	if name == "auto" {
		switch {
		case cfg.OpenAIKey != "":
			name = "openai"
		case cfg.AnthropicKey != "":
			name = "anthropic"
		case cfg.AWSAccessKeyID != "" && cfg.AWSSecretKey != "":
			name = "bedrock"
		case cfg.GrpcAddr != "":
			name = "grpc"
		default:
			name = "none"
		}
	}

	switch name {
	case "none":
		return nil, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			logger.Warn("AI_PROVIDER=openai but OPENAI_API_KEY is empty, AI disabled")
			return nil, nil
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			logger.Warn("AI_PROVIDER=anthropic but ANTHROPIC_API_KEY is empty, AI disabled")
			return nil, nil
		}
		return NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel), nil
	case "bedrock":
		p, err := NewBedrockProvider(ctx, BedrockConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
			SessionToken:    cfg.AWSSessionToken,
			ModelID:         cfg.BedrockModelID,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "grpc":
		if cfg.GrpcAddr == "" {
			logger.Warn("AI_PROVIDER=grpc but REASONER_GRPC_ADDR is empty, AI disabled")
			return nil, nil
		}
		p, err := NewGrpcProvider(DefaultGrpcConfig(cfg.GrpcAddr), logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", name)
}
