package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	DatabaseDriver   string
	SQLitePath       string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	PendingCountTTL time.Duration

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	JourneyEventTopic string
	EventsEnabled     bool

	// Blob store
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3UsePathStyle     bool
	UploadURLTTL       time.Duration
	BlobRequestTimeout time.Duration

	// Identity provider tokens
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Workflow
	RolePolicyPath       string
	PaymentWebhookSecret string

	// Gateway
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		DatabaseDriver:   strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		SQLitePath:       getEnv("SQLITE_PATH", "data/nourishpath.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "nourishpath"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "nourishpath"),
		PostgresDB:       getEnv("POSTGRES_DB", "nourishpath"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getIntEnv("REDIS_DB", 0),
		PendingCountTTL: getDuration("PENDING_COUNT_TTL", 2*time.Minute),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "nourishpath-reminders"),
		JourneyEventTopic: getEnv("JOURNEY_EVENT_TOPIC", "journey-events"),
		EventsEnabled:     getBoolEnv("EVENTS_ENABLED", true),

		S3Bucket:           getEnv("S3_BUCKET", "nourishpath-documents"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle:     getBoolEnv("S3_USE_PATH_STYLE", false),
		UploadURLTTL:       getDuration("UPLOAD_URL_TTL", 15*time.Minute),
		BlobRequestTimeout: getDuration("BLOB_REQUEST_TIMEOUT", 20*time.Second),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "nourishpath-idp"),
		JWTAudience: getEnv("JWT_AUDIENCE", "nourishpath-api"),

		RolePolicyPath:       getEnv("ROLE_POLICY_PATH", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
