package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port string

	JWTSecret string

	DBDriver    string
	DatabaseURL string
	RedisURL    string

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleProjectID     string
	GooglePubSubTopic   string
	GooglePubSubSub     string
	GoogleCredentials   string
	FirebaseCredentials string

	EncryptionKey          string
	WebhookToken           string
	ClassifierKeywordsFile string
	CORSOrigins            []string

	SyncWindow       time.Duration
	SyncFetchTimeout time.Duration
	SyncConcurrency  int
	SyncMaxMessages  int
	SyncQueueWorkers int
	SyncJobTimeout   time.Duration
	PollInterval     time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=skillspring port=5432 sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", ""),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-updates"),
		GooglePubSubSub:     getEnv("GOOGLE_PUBSUB_SUBSCRIPTION", "gmail-updates-sub"),
		GoogleCredentials:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		EncryptionKey:          getEnv("ENCRYPTION_KEY", ""),
		WebhookToken:           getEnv("GMAIL_WEBHOOK_TOKEN", ""),
		ClassifierKeywordsFile: getEnv("CLASSIFIER_KEYWORDS_FILE", ""),
		CORSOrigins:            getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		SyncWindow:       getEnvDuration("SYNC_WINDOW", 30*24*time.Hour),
		SyncFetchTimeout: getEnvDuration("SYNC_FETCH_TIMEOUT", 15*time.Second),
		SyncConcurrency:  getEnvInt("SYNC_CONCURRENCY", 10),
		SyncMaxMessages:  getEnvInt("SYNC_MAX_MESSAGES", 100),
		SyncQueueWorkers: getEnvInt("SYNC_QUEUE_WORKERS", 3),
		SyncJobTimeout:   getEnvDuration("SYNC_JOB_TIMEOUT", 2*time.Minute),
		PollInterval:     getEnvDuration("SYNC_POLL_INTERVAL", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
