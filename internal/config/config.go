// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	MaxUploadBytes     int64
	Timezone           string

	// Database settings
	DatabaseDriver string
	DatabaseDSN    string

	// Blob storage settings
	StorageBackend   string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	StorageDomain    string
	StorageLocalDir  string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Chat context settings
	ContextBackend   string
	ContextMaxRounds int
	ContextReplay    int
	ContextTTL       time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int

	// Background extraction
	WorkerCount       int
	WorkerQueueSize   int
	WorkerTaskTimeout time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory or its parent is loaded first; real environment values win.
func Load() *Config {
	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		MaxUploadBytes:     int64(getIntEnv("MAX_UPLOAD_BYTES", 10<<20)),
		Timezone:           getEnv("TIMEZONE", "Asia/Shanghai"),

		// Database
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:bill-assistant.db?_foreign_keys=on"),

		// Blob storage
		StorageBackend:   getEnv("STORAGE_BACKEND", "local"),
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", "invoices"),
		StorageUseSSL:    getBoolEnv("STORAGE_USE_SSL", false),
		StorageDomain:    getEnv("STORAGE_DOMAIN", "http://localhost:8080/files"),
		StorageLocalDir:  getEnv("STORAGE_LOCAL_DIR", "./data/uploads"),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Chat context
		ContextBackend:   getEnv("CHAT_CONTEXT_BACKEND", "memory"),
		ContextMaxRounds: getIntEnv("CHAT_CONTEXT_MAX_ROUNDS", 10),
		ContextReplay:    getIntEnv("CHAT_CONTEXT_REPLAY_ROUNDS", 5),
		ContextTTL:       getDurationEnv("CHAT_CONTEXT_TTL", time.Hour),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o"),
		LLMTemperature:  getFloatEnv("LLM_TEMPERATURE", 0.3),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 2048),

		// Background extraction
		WorkerCount:       getIntEnv("EXTRACTION_WORKERS", 4),
		WorkerQueueSize:   getIntEnv("EXTRACTION_QUEUE_SIZE", 100),
		WorkerTaskTimeout: getDurationEnv("EXTRACTION_TIMEOUT", 2*time.Minute),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
