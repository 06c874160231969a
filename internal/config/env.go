package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// HTTPConfig configures the job API.
type HTTPConfig struct {
	Port         string
	APITokenHash string // bcrypt hash; empty disables auth
	MaxUploadMB  int64
}

// StorageConfig defines where inputs and results live.
type StorageConfig struct {
	UploadDir   string
	ResultDir   string
	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Enabled           bool // RUN_DISPATCHER; serve can run API-only
	Concurrency       int
	ConversionTimeout time.Duration
	FetchTimeout      time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	ResultTTL         time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	HTTP    HTTPConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Queue   QueueConfig
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the existing environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/debooklet.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_debooklet",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:         getEnv("PORT", "8080"),
		APITokenHash: getEnv("API_TOKEN_HASH", ""),
		MaxUploadMB:  int64(parseInt(getEnv("MAX_UPLOAD_MB", "200"), 200)),
	}

	cfg.Storage = StorageConfig{
		UploadDir:   getEnv("UPLOAD_DIR", "data/uploads"),
		ResultDir:   getEnv("RESULT_DIR", "data/results"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Prefix:    strings.Trim(getEnv("S3_RESULT_PREFIX", "debooklet"), "/"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Enabled:           parseBool(getEnv("RUN_DISPATCHER", "true")),
		Concurrency:       parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		ConversionTimeout: parseDuration(getEnv("CONVERSION_TIMEOUT", "5m"), 5*time.Minute),
		FetchTimeout:      parseDuration(getEnv("FETCH_TIMEOUT", "60s"), 60*time.Second),
		MaxAttempts:       parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:    parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		ResultTTL:         parseDuration(getEnv("RESULT_TTL", "72h"), 72*time.Hour),
	}
	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:debooklet"),
		Group:        getEnv("QUEUE_GROUP", "workers:debooklet"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
