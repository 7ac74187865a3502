package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type NoShowPolicy string

const (
	NoShowManual NoShowPolicy = "manual"
	NoShowAuto   NoShowPolicy = "auto"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Assignment configuration
	MaxClaimRetries int
	ClaimBackoff    time.Duration

	// Priority configuration
	DefaultBasePriority int
	WaitPointsPerMinute int
	MaxWaitBonus        int
	NoShowBoost         int
	MaxNoShowBoost      int

	// Maintenance configuration
	AgingInterval      time.Duration
	NoShowPolicy       NoShowPolicy
	NoShowRequeueDelay time.Duration
	MaxNoShowRequeues  int

	// Event dispatch
	EventBuffer int
	NotifyRate  float64

	// Intake
	IntakeRateLimit int
	KioskKeyHash    string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Assignment
		MaxClaimRetries: getEnvAsInt("MAX_CLAIM_RETRIES", 5),
		ClaimBackoff:    getEnvAsDuration("CLAIM_BACKOFF", "10ms"),

		// Priority
		DefaultBasePriority: getEnvAsInt("DEFAULT_BASE_PRIORITY", 100),
		WaitPointsPerMinute: getEnvAsInt("WAIT_POINTS_PER_MINUTE", 2),
		MaxWaitBonus:        getEnvAsInt("MAX_WAIT_BONUS", 200),
		NoShowBoost:         getEnvAsInt("NO_SHOW_BOOST", 50),
		MaxNoShowBoost:      getEnvAsInt("MAX_NO_SHOW_BOOST", 150),

		// Maintenance
		AgingInterval:      getEnvAsDuration("AGING_INTERVAL", "1m"),
		NoShowPolicy:       NoShowPolicy(getEnv("NO_SHOW_POLICY", string(NoShowManual))),
		NoShowRequeueDelay: getEnvAsDuration("NO_SHOW_REQUEUE_DELAY", "5m"),
		MaxNoShowRequeues:  getEnvAsInt("MAX_NO_SHOW_REQUEUES", 2),

		// Events
		EventBuffer: getEnvAsInt("EVENT_BUFFER", 256),
		NotifyRate:  getEnvAsFloat("NOTIFY_RATE", 20),

		// Intake
		IntakeRateLimit: getEnvAsInt("INTAKE_RATE_LIMIT", 30),
		KioskKeyHash:    getEnv("KIOSK_KEY_HASH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
