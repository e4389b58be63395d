package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	SessionTTL        time.Duration
	CustomerJWTSecret string
	AdminJWTSecret    string

	// Gateway handoff
	PaymentGateway         string
	AllowFakePayments      bool
	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeBaseURL          string
	PaymentAttemptsPerHour int

	// Reconciliation tiers
	ConfirmMaxAttempts int
	ConfirmBaseDelay   time.Duration
	PollMaxAttempts    int
	PollInterval       time.Duration
	VerifyTimeout      time.Duration

	// Remote storefront backend (optional; orders are served in-process when empty)
	StorefrontAPIURL     string
	StorefrontAPITimeout time.Duration
	StorefrontAPIKey     string

	// Notifications
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	NotificationsQueueURL string
	EmailProvider         string
	SendGridAPIKey        string
	EmailFrom             string
	EmailFromName         string
	ReceiptsBucket        string
	OutboxInterval        time.Duration

	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionTTL:        getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		CustomerJWTSecret: getEnv("CUSTOMER_JWT_SECRET", ""),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),

		PaymentGateway:         strings.ToLower(strings.TrimSpace(getEnv("PAYMENT_GATEWAY", "stripe"))),
		AllowFakePayments:      getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),
		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBaseURL:          getEnv("STRIPE_BASE_URL", ""),
		PaymentAttemptsPerHour: getEnvAsInt("PAYMENT_ATTEMPTS_PER_HOUR", 5),

		ConfirmMaxAttempts: getEnvAsInt("CONFIRM_MAX_ATTEMPTS", 3),
		ConfirmBaseDelay:   getEnvAsDuration("CONFIRM_BASE_DELAY", time.Second),
		PollMaxAttempts:    getEnvAsInt("POLL_MAX_ATTEMPTS", 3),
		PollInterval:       getEnvAsDuration("POLL_INTERVAL", time.Second),
		VerifyTimeout:      getEnvAsDuration("VERIFY_TIMEOUT", 5*time.Second),

		StorefrontAPIURL:     strings.TrimRight(getEnv("STOREFRONT_API_URL", ""), "/"),
		StorefrontAPITimeout: getEnvAsDuration("STOREFRONT_API_TIMEOUT", 10*time.Second),
		StorefrontAPIKey:     getEnv("STOREFRONT_API_KEY", ""),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotificationsQueueURL: getEnv("NOTIFICATIONS_QUEUE_URL", ""),
		EmailProvider:         strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:             getEnv("EMAIL_FROM", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Storefront Bookings"),
		ReceiptsBucket:        getEnv("RECEIPTS_BUCKET", ""),
		OutboxInterval:        getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
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

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
