package reasoner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompleteMethod is the unary method a reasoning sidecar must serve. Requests
// and replies are google.protobuf.Struct messages.
const CompleteMethod = "/echo.reasoner.v1.Reasoner/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyCompletion          = errors.New("sidecar returned empty content")
)

// GrpcConfig holds configuration for the sidecar client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcProvider delegates completions to a reasoning sidecar over gRPC.
type GrpcProvider struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGrpcProvider connects to the sidecar and fails fast when it is not ready.
func NewGrpcProvider(cfg GrpcConfig, logger *slog.Logger) (*GrpcProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to reasoner at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("reasoner at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to reasoning sidecar", "address", cfg.Address)
	return &GrpcProvider{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name returns the provider identifier.
func (p *GrpcProvider) Name() string { return "grpc" }

// Health checks the sidecar's standard health service.
func (p *GrpcProvider) Health(ctx context.Context) error {
	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("reasoner not serving: %s", resp.GetStatus())
	}
	return nil
}

// Complete calls the sidecar's Complete method.
func (p *GrpcProvider) Complete(ctx context.Context, c Completion) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"system":      c.System,
		"prompt":      c.Prompt,
		"max_tokens":  c.MaxTokens,
		"temperature": c.Temperature,
		"top_p":       c.TopP,
		"json":        c.JSON,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion: %w", err)
	}

	reply := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, CompleteMethod, req, reply); err != nil {
		return "", fmt.Errorf("grpc complete: %w", err)
	}

	fields := reply.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return "", fmt.Errorf("grpc complete: %s", msg)
	}
	content := fields["content"].GetStringValue()
	if content == "" {
		return "", errEmptyCompletion
	}
	return content, nil
}

// Close closes the gRPC connection.
func (p *GrpcProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}
