package reasoner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ModelID         string
}

// converser is the subset of the Bedrock runtime client we use.
type converser interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// streamOpener starts a ConverseStream call and returns its event reader.
type streamOpener func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (bedrockruntime.ConverseStreamOutputReader, error)

// BedrockProvider calls a Bedrock model through the Converse and
// ConverseStream APIs.
type BedrockProvider struct {
	client     converser
	openStream streamOpener
	modelID    string
}

// NewBedrockProvider loads AWS configuration and creates a provider. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "amazon.nova-pro-v1:0"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg)
	return &BedrockProvider{
		client: client,
		openStream: func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (bedrockruntime.ConverseStreamOutputReader, error) {
			out, err := client.ConverseStream(ctx, in)
			if err != nil {
				return nil, err
			}
			return out.GetStream(), nil
		},
		modelID: cfg.ModelID,
	}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string { return "bedrock" }

func inferenceConfig(c Completion) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{Temperature: aws.Float32(float32(c.Temperature))}
	if c.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		cfg.MaxTokens = aws.Int32(int32(min(c.MaxTokens, math.MaxInt32)))
	}
	if c.TopP > 0 {
		cfg.TopP = aws.Float32(float32(c.TopP))
	}
	return cfg
}

func userTurn(prompt string) []types.Message {
	return []types.Message{{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
	}}
}

func systemBlocks(system string) []types.SystemContentBlock {
	if system == "" {
		return nil
	}
	return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
}

// Complete sends one user turn through Converse.
func (p *BedrockProvider) Complete(ctx context.Context, c Completion) (string, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.modelID),
		Messages:        userTurn(c.Prompt),
		System:          systemBlocks(c.System),
		InferenceConfig: inferenceConfig(c),
	}

	out, err := p.client.Converse(ctx, in)
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: unexpected output type")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("bedrock: no text content")
	}
	return b.String(), nil
}

// Stream sends one user turn through ConverseStream and emits text deltas.
func (p *BedrockProvider) Stream(ctx context.Context, c Completion, emit func(string) error) error {
	if p.openStream == nil {
		return errors.New("bedrock: streaming not configured")
	}
	stream, err := p.openStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(p.modelID),
		Messages:        userTurn(c.Prompt),
		System:          systemBlocks(c.System),
		InferenceConfig: inferenceConfig(c),
	})
	if err != nil {
		return fmt.Errorf("bedrock: %w", err)
	}
	defer stream.Close()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return fmt.Errorf("bedrock stream: %w", err)
				}
				return nil
			}
			delta, ok := ev.(*types.ConverseStreamOutputMemberContentBlockDelta)
			if !ok {
				continue
			}
			text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
			if !ok || text.Value == "" {
				continue
			}
			if err := emit(text.Value); err != nil {
				return err
			}
		}
	}
}
