package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configurable settings for the linker.  Each field
// corresponds to an environment variable.  Defaults are applied where
// reasonable so the service can run locally with minimal setup.
type Config struct {
	// HTTPAddr is the host:port on which to expose the HTTP API and
	// health checks.  The default is ":8080" which listens on all
	// interfaces.
	HTTPAddr string
	// SessionStore is the directory on disk where the WhatsApp session
	// database and metadata files are persisted.
	SessionStore string
	// DefaultCountryPrefix is prepended to phone numbers entered in
	// national format with a leading zero.  Example: "+254".
	DefaultCountryPrefix string
	// CodeExpiry is how long an issued pairing code stays pending
	// before it expires.
	CodeExpiry time.Duration
	// SweepInterval is the period of the registry cleanup sweep.
	SweepInterval time.Duration
	// MaxSessions caps the number of records held by the registry.
	// When exceeded the oldest records are evicted first.
	MaxSessions int
	// MaxQRAttempts is how many QR refreshes are treated as actionable
	// before the mirror flags that manual intervention is required.
	MaxQRAttempts int
	// RateLimitPerMin bounds code-generation requests per client IP
	// per minute.
	RateLimitPerMin int
	// AdminToken guards the /admin/codes listing.  When empty the
	// endpoint is disabled.
	AdminToken string
	// RedisURL enables the external status mirror when non-empty.
	RedisURL string
	// AMQPURL is the connection string used to connect to the RabbitMQ
	// broker.  When empty, lifecycle events are not published.
	AMQPURL string
	// AMQPExchange is the name of the topic exchange receiving
	// pairing lifecycle events.
	AMQPExchange string
}

// NewConfig reads configuration from the environment and returns a
// populated Config instance.  Missing variables fall back to sensible
// defaults as documented on the struct fields.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.SessionStore = getEnv("SESSION_STORE", "./state/whatsmeow")
	cfg.DefaultCountryPrefix = getEnv("DEFAULT_COUNTRY_PREFIX", "+254")
	cfg.CodeExpiry = time.Duration(getEnvInt("CODE_EXPIRY_MINUTES", 10)) * time.Minute
	cfg.SweepInterval = time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second
	cfg.MaxSessions = getEnvInt("MAX_SESSIONS", 1000)
	cfg.MaxQRAttempts = getEnvInt("MAX_QR_ATTEMPTS", 5)
	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", 10)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", "")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.AMQPURL = getEnv("AMQP_URL", "")
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", "linker.events")
	return cfg
}

// getEnv returns the value of the environment variable named by key.  If
// the variable is not present or empty then defaultVal is returned.
func getEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt behaves like getEnv but parses the value as an integer.
// Unparseable values fall back to defaultVal.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
