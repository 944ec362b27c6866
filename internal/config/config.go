package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string

	JWTSecret    string
	JWTIssuer    string
	JWTClockSkew time.Duration

	// POSDeviceKeys maps a POS device id to the argon2id hash of its API key.
	POSDeviceKeys map[string]string

	DefaultProvider string
	CurrencyCode    string
	KhipuAPIKey     string
	KhipuSecret     string
	KhipuBaseURL    string
	DummyEnabled    bool

	WebhookReplayTTL time.Duration
	WebhookBodyLimit int64
	WebhookRateLimit string
	IdempotencyTTL   time.Duration

	ReconcileInterval  time.Duration
	ReconcileMinAge    time.Duration
	ReconcileBatchSize int32

	OutboundTimeout    time.Duration
	RetryMaxAttempts   int
	RetryBase          time.Duration
	RetryJitterPercent float64
	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	NotifyMaxRetry     int
	NotifyQueue        string

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string

	LogFormat string
	LogLevel  string

	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64

	MetricsNamespace string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		JWTSecret:    k.String("JWT_SECRET"),
		JWTIssuer:    valueOrDefault(k.String("JWT_ISSUER"), "casino-api"),
		JWTClockSkew: parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),

		POSDeviceKeys: parseKeyValues(k.String("POS_DEVICE_KEYS")),

		DefaultProvider: valueOrDefault(k.String("PAYMENT_DEFAULT_PROVIDER"), "cafeteria"),
		CurrencyCode:    valueOrDefault(k.String("CURRENCY_CODE"), "CLP"),
		KhipuAPIKey:     k.String("KHIPU_API_KEY"),
		KhipuSecret:     k.String("KHIPU_SECRET"),
		KhipuBaseURL:    k.String("KHIPU_BASE_URL"),
		DummyEnabled:    parseBool(k.String("PAYMENT_DUMMY_ENABLED")),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookBodyLimit: parseInt64(k.String("WEBHOOK_BODY_LIMIT_BYTES"), 64*1024),
		WebhookRateLimit: valueOrDefault(k.String("WEBHOOK_RATE_LIMIT"), "120-M"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		ReconcileInterval:  parseDuration(k.String("RECONCILE_INTERVAL"), "5m"),
		ReconcileMinAge:    parseDuration(k.String("RECONCILE_MIN_AGE"), "10m"),
		ReconcileBatchSize: int32(parseInt64(k.String("RECONCILE_BATCH_SIZE"), 50)),

		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryMaxAttempts:   int(parseInt64(k.String("RETRY_MAX_ATTEMPTS"), 3)),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitterPercent: parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests: int(parseInt64(k.String("CIRCUIT_MIN_REQUESTS"), 10)),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "1m"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		NotifyEmailEnabled: parseBool(valueOrDefault(k.String("NOTIFY_EMAIL_ENABLED"), "true")),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "casino@sabormirandiano.cl"),
		NotifyMaxRetry:     int(parseInt64(k.String("NOTIFY_MAX_RETRY"), 6)),
		NotifyQueue:        valueOrDefault(k.String("NOTIFY_QUEUE"), "notify"),

		SMTPAddr:     k.String("SMTP_ADDR"),
		SMTPUsername: k.String("SMTP_USERNAME"),
		SMTPPassword: k.String("SMTP_PASSWORD"),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),

		TracingEnabled:  parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint: k.String("TRACING_OTLP_ENDPOINT"),
		TracingSampling: parseFloat(k.String("TRACING_SAMPLING_RATIO"), 1),

		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "casino"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseKeyValues parses "id:value,id:value" pairs.
func parseKeyValues(value string) map[string]string {
	pairs := splitAndTrim(value)
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		v = strings.TrimSpace(v)
		if id != "" && v != "" {
			out[id] = v
		}
	}
	return out
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int64
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed float64
	if _, err := fmt.Sscanf(trimmed, "%g", &parsed); err != nil {
		return fallback
	}
	return parsed
}
