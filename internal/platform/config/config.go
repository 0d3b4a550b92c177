package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from its environment so main
// stays lean. Fields are grouped per backing dependency.
type Config struct {
	Addr     string
	Redis    Redis
	Postgres Postgres
	Kafka    Kafka
	Reset    Reset
}

// Redis holds key-value store settings. Both the limiter and the credential
// store depend on it; an empty URL means the server refuses to start.
type Redis struct {
	URL string
}

// Postgres holds system-of-record settings. An empty URL switches the server
// to in-memory stores for local development.
type Postgres struct {
	URL string
}

// Kafka holds audit relay settings. Empty brokers disable the relay worker;
// audit records still land in the durable outbox.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Reset collects the protocol tuning knobs.
type Reset struct {
	MACKey                  string
	CredentialTTL           time.Duration
	CallerLimit             int
	CallerWindow            time.Duration
	AccountLimit            int
	AccountWindow           time.Duration
	CredentialLimit         int
	CredentialWindow        time.Duration
	ResponseFloor           time.Duration
	RateLimitFailClosed     bool
	FilterExpectedMembers   int
	FilterFalsePositiveRate float64
	FilterRefreshInterval   time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset. Defaults mirror the deployed values: 20 requests per caller
// address per hour, 5 per account per hour, 10 redemption attempts per
// credential per 5 minutes, 15 minute credentials.
func FromEnv() Config {
	macKey := os.Getenv("RESET_MAC_KEY")
	if macKey == "" {
		// Use a default for development - must be overridden in production.
		macKey = "dev-mac-key-change-in-production"
	}

	return Config{
		Addr: envString("RESETGATE_ADDR", ":8080"),
		Redis: Redis{
			URL: os.Getenv("REDIS_URL"),
		},
		Postgres: Postgres{
			URL: os.Getenv("POSTGRES_URL"),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   envString("KAFKA_AUDIT_TOPIC", "resetgate.audit"),
		},
		Reset: Reset{
			MACKey:                  macKey,
			CredentialTTL:           envDuration("RESET_CREDENTIAL_TTL", 15*time.Minute),
			CallerLimit:             envInt("RESET_CALLER_LIMIT", 20),
			CallerWindow:            envDuration("RESET_CALLER_WINDOW", time.Hour),
			AccountLimit:            envInt("RESET_ACCOUNT_LIMIT", 5),
			AccountWindow:           envDuration("RESET_ACCOUNT_WINDOW", time.Hour),
			CredentialLimit:         envInt("RESET_CREDENTIAL_LIMIT", 10),
			CredentialWindow:        envDuration("RESET_CREDENTIAL_WINDOW", 5*time.Minute),
			ResponseFloor:           envDuration("RESET_RESPONSE_FLOOR", 120*time.Millisecond),
			RateLimitFailClosed:     os.Getenv("RATE_LIMIT_FAIL_CLOSED") == "true",
			FilterExpectedMembers:   envInt("FILTER_EXPECTED_MEMBERS", 100000),
			FilterFalsePositiveRate: envFloat("FILTER_FALSE_POSITIVE_RATE", 0.01),
			FilterRefreshInterval:   envDuration("FILTER_REFRESH_INTERVAL", time.Hour),
		},
	}
}

func envString(key, fallback string) string {
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
