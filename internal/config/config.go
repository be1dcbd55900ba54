package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string
	SQLitePath  string

	// Redis configuration (optional, enables the distributed sweep lock)
	RedisURL string

	// Internal API key for the query surface consumed by other subsystems
	InternalAPIKey string

	// Apple App Store
	AppleVerifyURL        string
	AppleSandboxVerifyURL string
	AppleSharedSecret     string
	AppleBundleID         string
	AppleRootCAPath       string

	// Google Play
	GooglePackageName     string
	GoogleCredentialsFile string
	GooglePubSubAudience  string

	// Outbound verification
	VerifyTimeout time.Duration

	// Persistence
	PersistMaxRetries int

	// Expiry sweeper
	SweepEnabled  bool
	SweepSchedule string
	SweepLockTTL  time.Duration

	// Commission
	DefaultCommissionRate decimal.Decimal

	// Order number generator node (0-1023)
	NodeID int64

	// Downstream subscription change callback
	CallbackURL    string
	CallbackSecret string

	// Brevo email alerts for the remediation queue
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
	AlertEmail     string

	ServiceName string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                  getEnv("PORT", "8080"),
		Mode:                  getEnv("GIN_MODE", "debug"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		SQLitePath:            getEnv("SQLITE_PATH", "subscription-api.db"),
		RedisURL:              getEnv("REDIS_URL", ""),
		InternalAPIKey:        getEnv("INTERNAL_API_KEY", ""),
		AppleVerifyURL:        getEnv("APPLE_VERIFY_URL", "https://buy.itunes.apple.com/verifyReceipt"),
		AppleSandboxVerifyURL: getEnv("APPLE_SANDBOX_VERIFY_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		AppleSharedSecret:     getEnv("APPLE_SHARED_SECRET", ""),
		AppleBundleID:         getEnv("APPLE_BUNDLE_ID", ""),
		AppleRootCAPath:       getEnv("APPLE_ROOT_CA_PATH", ""),
		GooglePackageName:     getEnv("GOOGLE_PACKAGE_NAME", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GooglePubSubAudience:  getEnv("GOOGLE_PUBSUB_AUDIENCE", ""),
		VerifyTimeout:         time.Duration(getEnvInt("VERIFY_TIMEOUT_SECONDS", 10)) * time.Second,
		PersistMaxRetries:     getEnvInt("PERSIST_MAX_RETRIES", 3),
		SweepEnabled:          getEnvBool("SWEEP_ENABLED", true),
		SweepSchedule:         getEnv("SWEEP_SCHEDULE", "@hourly"),
		SweepLockTTL:          time.Duration(getEnvInt("SWEEP_LOCK_TTL_MINUTES", 30)) * time.Minute,
		DefaultCommissionRate: getEnvDecimal("DEFAULT_COMMISSION_RATE", decimal.NewFromInt(30)),
		NodeID:                int64(getEnvInt("NODE_ID", 1)),
		CallbackURL:           getEnv("SUBSCRIPTION_CALLBACK_URL", ""),
		CallbackSecret:        getEnv("SUBSCRIPTION_CALLBACK_SECRET", ""),
		BrevoAPIKey:           getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:        getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:         getEnv("BREVO_FROM_NAME", "Subscription Service"),
		AlertEmail:            getEnv("ALERT_EMAIL", ""),
		ServiceName:           getEnv("SERVICE_NAME", "Subscription Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
