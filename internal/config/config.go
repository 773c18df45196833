package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	TransportName string
	Concurrency   int
	SessionTTL    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	UseMemoryQueue      bool
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	InboundQueueURL     string
	EventQueueURL       string
	OutboundQueueURL    string
	AnswerQueueURL      string

	AnswerAPIURL     string
	AnswerAPIToken   string
	AnswerResourceID string
	AnswerBatchSize  int
	AnswerBatchTime  time.Duration

	DatabaseURL string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TransportName: getEnv("TRANSPORT_NAME", "whatsapp"),
		Concurrency:   getEnvAsInt("CONCURRENCY", 20),
		SessionTTL:    time.Duration(getEnvAsInt("TTL", 3600)) * time.Second,

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),
		EventQueueURL:       getEnv("EVENT_QUEUE_URL", ""),
		OutboundQueueURL:    getEnv("OUTBOUND_QUEUE_URL", ""),
		AnswerQueueURL:      getEnv("ANSWER_QUEUE_URL", ""),

		AnswerAPIURL:     getEnv("ANSWER_API_URL", ""),
		AnswerAPIToken:   getEnv("ANSWER_API_TOKEN", ""),
		AnswerResourceID: getEnv("ANSWER_RESOURCE_ID", ""),
		AnswerBatchSize:  getEnvAsInt("ANSWER_BATCH_SIZE", 500),
		AnswerBatchTime:  getEnvAsDuration("ANSWER_BATCH_TIME", 5*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

// AnswersEnabled reports whether the answer batching pipeline is configured.
// All three aggregation API settings are required; absence of any one
// disables answer batching entirely.
func (c *Config) AnswersEnabled() bool {
	return c.AnswerAPIURL != "" && c.AnswerAPIToken != "" && c.AnswerResourceID != ""
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
