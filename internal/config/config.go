// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	DBPath          string
	AgentName       string
	SessionTTL      time.Duration
	ServicesFile    string
	// TrustUserHeader lets X-Echo-User-ID select the caller. Off unless a
	// trusted front end sets the header.
	TrustUserHeader bool
	Log             LogConfig
	Agent           AgentConfig
	Registry        RegistryConfig
	AI              AIConfig
	RateLimit       RateLimitConfig
	Timeout         TimeoutConfig
	ConversationLog ConversationLogConfig
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string
	File  string
}

// AgentConfig controls per-user agent behaviour.
type AgentConfig struct {
	HistoryCap       int
	ConnectorTimeout time.Duration
	ChatSendTimeout  time.Duration
	// HistoryRetention bounds how long persisted history is kept.
	HistoryRetention time.Duration
}

// RegistryConfig points at the remote service registry. An empty URL runs
// against the built-in simulated backend.
type RegistryConfig struct {
	URL            string
	APIPrefix      string
	Token          string
	RequestTimeout time.Duration
	RetryAttempts  int
}

// AIConfig selects and tunes the optional reasoning provider.
type AIConfig struct {
	Provider      string
	Timeout       time.Duration
	PromptTimeout time.Duration
	MinConfidence float64
	HistoryWindow int

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicKey   string
	AnthropicModel string

	AWSRegion       string
	AWSAccessKeyID  string
	AWSSecretKey    string
	AWSSessionToken string
	BedrockModelID  string

	GrpcAddr string
}

// RateLimitConfig bounds how many commands a user may issue per window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TimeoutConfig holds HTTP-facing timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8002"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		DBPath:          getEnv("DB_PATH", "./data/echo-agent.db"),
		AgentName:       getEnv("AGENT_NAME", "Echo"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 60*time.Minute),
		ServicesFile:    getEnv("SERVICES_FILE", ""),
		TrustUserHeader: getEnvBool("TRUST_USER_HEADER", false),
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Agent: AgentConfig{
			HistoryCap:       getEnvInt("HISTORY_CAP", 50),
			ConnectorTimeout: getEnvDuration("CONNECTOR_TIMEOUT", 15*time.Second),
			ChatSendTimeout:  getEnvDuration("CHAT_SEND_TIMEOUT", 5*time.Second),
			HistoryRetention: getEnvDuration("HISTORY_RETENTION", 30*24*time.Hour),
		},
		Registry: RegistryConfig{
			URL:            strings.TrimRight(getEnv("REGISTRY_URL", ""), "/"),
			APIPrefix:      getEnv("REGISTRY_API_PREFIX", "/api/v1"),
			Token:          getEnv("JWT_TOKEN", ""),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		},
		AI: AIConfig{
			Provider:        strings.ToLower(getEnv("AI_PROVIDER", "auto")),
			Timeout:         getEnvDuration("AI_TIMEOUT", 10*time.Second),
			PromptTimeout:   getEnvDuration("AI_PROMPT_TIMEOUT", 2*time.Minute),
			MinConfidence:   getEnvFloat("AI_MIN_CONFIDENCE", 0.5),
			HistoryWindow:   getEnvInt("AI_HISTORY_WINDOW", 5),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			AWSAccessKeyID:  getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AWSSessionToken: getEnv("AWS_SESSION_TOKEN", ""),
			BedrockModelID:  getEnv("BEDROCK_MODEL_ID", "amazon.nova-pro-v1:0"),
			GrpcAddr:        getEnv("REASONER_GRPC_ADDR", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Agent.HistoryCap <= 0 {
		return fmt.Errorf("HISTORY_CAP must be > 0")
	}
	if c.Agent.ConnectorTimeout <= 0 {
		return fmt.Errorf("CONNECTOR_TIMEOUT must be > 0")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}
	if c.AI.PromptTimeout <= 0 {
		return fmt.Errorf("AI_PROMPT_TIMEOUT must be > 0")
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("AI_MIN_CONFIDENCE must be within [0, 1]")
	}
	if c.Registry.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be >= 1")
	}
	switch c.AI.Provider {
	case "auto", "none", "openai", "anthropic", "bedrock", "grpc":
	default:
		return fmt.Errorf("AI_PROVIDER %q is not supported", c.AI.Provider)
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}

// SimulatedBackend reports whether commands run against the in-process
// simulated backend instead of a remote registry.
func (c *Config) SimulatedBackend() bool {
	return c.Registry.URL == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("15s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
