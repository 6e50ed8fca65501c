package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AuthJWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string
	Currency            string

	// DefaultConsultationFee is the per-session charge (in minor units) used
	// when a doctor has no rate configured for the requested session type.
	DefaultConsultationFee int64

	// SlotDurationMinutes is the granularity of the availability grid.
	SlotDurationMinutes int

	// PendingBookingTTL is how long an unpaid one-time booking may hold a
	// slot before the sweeper expires it.
	PendingBookingTTL time.Duration
	// SweepInterval is how often the sweeper scans for stale bookings.
	SweepInterval time.Duration

	// PlanIntervalEnforced gates the minimum-interval rule between two
	// plan-funded bookings under the same grant.
	PlanIntervalEnforced bool

	// PresenceTTL bounds how long a doctor counts as online without a
	// heartbeat.
	PresenceTTL time.Duration

	EmailProvider  string
	SendGridAPIKey string
	FromEmail      string
	FromName       string

	// StripeDryRun short-circuits intent creation for local development.
	StripeDryRun bool

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	NotifyQueueURL       string
	UseMemoryNotifyQueue bool

	CORSAllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		Currency:            getEnv("CURRENCY", "inr"),

		DefaultConsultationFee: int64(getEnvAsInt("DEFAULT_CONSULTATION_FEE_CENTS", 5000)),

		SlotDurationMinutes: getEnvAsInt("SLOT_DURATION_MINUTES", 30),

		PendingBookingTTL: getEnvAsDuration("PENDING_BOOKING_TTL", 10*time.Minute),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),

		PlanIntervalEnforced: getEnvAsBool("PLAN_INTERVAL_ENFORCED", false),

		PresenceTTL: getEnvAsDuration("PRESENCE_TTL", 90*time.Second),

		EmailProvider:  getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		FromEmail:      getEnv("FROM_EMAIL", "no-reply@careline.health"),
		FromName:       getEnv("FROM_NAME", "Careline"),

		StripeDryRun: getEnvAsBool("STRIPE_DRY_RUN", false),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotifyQueueURL:       getEnv("NOTIFY_QUEUE_URL", ""),
		UseMemoryNotifyQueue: getEnvAsBool("USE_MEMORY_NOTIFY_QUEUE", true),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
