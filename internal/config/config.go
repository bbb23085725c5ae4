package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// It is built once at startup and passed to constructors; nothing below the
// command layer reads the environment.
type Config struct {
	AppPort   string
	AppEnv    string
	LogLevel  string
	LogFormat string // "text" | "json"

	StoreDriver string // "sqlite" | "postgres" | "dynamo"
	DatabaseURL string // sqlite file path or postgres DSN

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string // empty disables payload archiving

	Broadcaster     string // "bluesky" | "sns" | "telegram"
	DryRun          bool
	BskyService     string
	BskyHandle      string
	BskyPassword    string
	SNSTopicARN     string
	TelegramToken   string
	TelegramChannel string

	FDAURL           string
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchRetryBase   time.Duration

	PublishTimeout     time.Duration
	PublishMaxAttempts int
	PublishRetryBase   time.Duration
	PublishRate        float64 // publishes per second, 0 = unlimited

	Schedule         string // cron expression or Go duration; empty disables the scheduler
	ScheduleTimezone string
	SourcesFile      string
	RunMaxAttempts   int
	StaleRunAfter    time.Duration // a running run untouched this long is resumed by the scheduler

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	AlertEmail   string // empty disables failure alerts

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Sources   string
	Recalls   string
	RecallIDs string // recall id -> natural key
	Posts     string
	Runs      string
	Intents   string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	appEnv := getEnv("APP_ENV", "development")
	return &Config{
		AppPort:   getEnv("APP_PORT", "3000"),
		AppEnv:    appEnv,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DatabaseURL: getEnv("DATABASE_URL", "./data/recallbot.db"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Sources:   getEnv("DYNAMO_TABLE_SOURCES", "sources"),
			Recalls:   getEnv("DYNAMO_TABLE_RECALLS", "recalls"),
			RecallIDs: getEnv("DYNAMO_TABLE_RECALL_IDS", "recall_ids"),
			Posts:     getEnv("DYNAMO_TABLE_POSTS", "posts"),
			Runs:      getEnv("DYNAMO_TABLE_RUNS", "runs"),
			Intents:   getEnv("DYNAMO_TABLE_INTENTS", "publication_intents"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", ""),

		Broadcaster:     strings.ToLower(getEnv("BROADCASTER", "bluesky")),
		DryRun:          getEnvBool("DRY_RUN", appEnv != "production"),
		BskyService:     getEnv("BSKY_SERVICE", "https://bsky.social"),
		BskyHandle:      getEnv("BSKY_HANDLE", ""),
		BskyPassword:    getEnv("BSKY_PASSWORD", ""),
		SNSTopicARN:     getEnv("SNS_TOPIC_ARN", ""),
		TelegramToken:   getEnv("TELEGRAM_TOKEN", ""),
		TelegramChannel: getEnv("TELEGRAM_CHANNEL", ""),

		FDAURL:           getEnv("FDA_URL", "https://www.fda.gov/datatables/views/ajax"),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 5),
		FetchRetryBase:   getEnvDuration("FETCH_RETRY_BASE", time.Minute),

		PublishTimeout:     getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second),
		PublishMaxAttempts: getEnvInt("PUBLISH_MAX_ATTEMPTS", 3),
		PublishRetryBase:   getEnvDuration("PUBLISH_RETRY_BASE", 10*time.Second),
		PublishRate:        getEnvFloat("PUBLISH_RATE", 1),

		Schedule:         getEnv("SCHEDULE", "@every 1h"),
		ScheduleTimezone: getEnv("SCHEDULE_TIMEZONE", "UTC"),
		SourcesFile:      getEnv("SOURCES_FILE", ""),
		RunMaxAttempts:   getEnvInt("RUN_MAX_ATTEMPTS", 5),
		StaleRunAfter:    getEnvDuration("STALE_RUN_AFTER", 15*time.Minute),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "recallbot@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		AlertEmail:   getEnv("ALERT_EMAIL", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
