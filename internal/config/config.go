package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	// APIToken, when set, is required as a bearer token on /api/v1 routes.
	APIToken string

	// StoreBackend selects the durable session store: memory, sqlite, postgres or redis.
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string

	NatsURL   string
	NatsToken string

	SlackBotToken string
	SlackChannel  string

	AnthropicAPIKey string
	AnthropicModel  string
	ToolsBaseURL    string

	EscalationThreshold int
	SessionTTL          time.Duration
	CompletedRetention  time.Duration
	SweepSchedule       string

	WarningDelay  time.Duration
	FinalDelay    time.Duration
	RecoveryDelay time.Duration
	MaxNudges     int

	ResponseTimeout        time.Duration
	InitialResponseTimeout time.Duration
	ToolResponseTimeout    time.Duration

	MaxConversations    int
	ConversationIdleTTL time.Duration

	SupportPhone string
	SupportEmail string
}

func Load() Config {
	return Config{
		Port:     envInt("MAYA_PORT", 8760),
		LogLevel: envStr("LOG_LEVEL", "info"),
		APIToken: envStr("MAYA_API_TOKEN", ""),

		StoreBackend: envStr("MAYA_STORE", "sqlite"),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		SQLitePath:   envStr("MAYA_SQLITE_PATH", "maya.db"),
		RedisURL:     envStr("REDIS_URL", ""),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ESCALATION_CHANNEL", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("MAYA_MODEL", "claude-sonnet-4-20250514"),
		ToolsBaseURL:    envStr("MAYA_TOOLS_URL", ""),

		EscalationThreshold: envInt("MAYA_ESCALATION_THRESHOLD", 3),
		SessionTTL:          envDuration("MAYA_SESSION_TTL", 24*time.Hour),
		CompletedRetention:  envDuration("MAYA_COMPLETED_RETENTION", 72*time.Hour),
		SweepSchedule:       envStr("MAYA_SWEEP_SCHEDULE", "@every 5m"),

		WarningDelay:  envDuration("MAYA_NUDGE_WARNING", 90*time.Second),
		FinalDelay:    envDuration("MAYA_NUDGE_FINAL", 3*time.Minute),
		RecoveryDelay: envDuration("MAYA_NUDGE_RECOVERY", 10*time.Minute),
		MaxNudges:     envInt("MAYA_MAX_NUDGES", 3),

		ResponseTimeout:        envDuration("MAYA_RESPONSE_TIMEOUT", 30*time.Second),
		InitialResponseTimeout: envDuration("MAYA_INITIAL_RESPONSE_TIMEOUT", 45*time.Second),
		ToolResponseTimeout:    envDuration("MAYA_TOOL_RESPONSE_TIMEOUT", 60*time.Second),

		MaxConversations:    envInt("MAYA_MAX_CONVERSATIONS", 1000),
		ConversationIdleTTL: envDuration("MAYA_CONVERSATION_IDLE_TTL", 30*time.Minute),

		SupportPhone: envStr("MAYA_SUPPORT_PHONE", "1300 000 000"),
		SupportEmail: envStr("MAYA_SUPPORT_EMAIL", "bookings@m2mmoving.au"),
	}
}

// Validate reports the first setting that cannot work together with the others.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("MAYA_SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.EscalationThreshold < 1 {
		return fmt.Errorf("escalation threshold must be at least 1, got %d", c.EscalationThreshold)
	}
	if c.MaxNudges < 0 {
		return fmt.Errorf("max nudges cannot be negative, got %d", c.MaxNudges)
	}
	if c.WarningDelay >= c.FinalDelay || c.FinalDelay >= c.RecoveryDelay {
		return fmt.Errorf("nudge delays must increase: warning %s, final %s, recovery %s",
			c.WarningDelay, c.FinalDelay, c.RecoveryDelay)
	}
	if (c.SlackBotToken == "") != (c.SlackChannel == "") {
		return fmt.Errorf("SLACK_BOT_TOKEN and SLACK_ESCALATION_CHANNEL must be set together")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
