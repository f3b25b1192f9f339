package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Search   SearchConfig
	Worker   WorkerConfig
	Trigger  TriggerConfig
	LogLevel slog.Level
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Command        string // executable producing grounding markdown for one image
	Args           []string
	OutputDir      string
	UseGPU         bool
	CleanMarkdown  bool
	Pdftoppm       string
	Soffice        string
	DPI            int
	LogPreviewSize int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// StorageConfig holds S3-compatible blob storage configuration
type StorageConfig struct {
	Backend         string // "s3" or "dir"
	Dir             string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
}

// SearchConfig holds vector index configuration
type SearchConfig struct {
	Backend            string // "pgvector" or "bleve"
	BlevePath          string
	EmbeddingsProvider string
	EmbeddingsURL      string
	EmbeddingsModel    string
	Dimensions         int
	Candidates         int
}

// WorkerConfig holds task orchestrator configuration
type WorkerConfig struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	HardTimeout  time.Duration
	SoftTimeout  time.Duration
	OCRReentrant bool
}

// TriggerConfig holds folder trigger scanner configuration
type TriggerConfig struct {
	Interval    time.Duration
	Watch       bool
	Concurrency int
}

// LoadConfig loads configuration from environment variables, reading .env first when present.
func LoadConfig() *Config {
	if os.Getenv("GO_ENVIRONMENT") != "test" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("config.dotenv.load_failed", "error", err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		OCR: OCRConfig{
			Command:        getEnv("OCR_COMMAND", "deepseek-ocr"),
			Args:           strings.Fields(getEnv("OCR_ARGS", "")),
			OutputDir:      getEnv("OCR_OUTPUT_DIR", "./tmp/ocr"),
			UseGPU:         getEnvAsBool("USE_GPU", false),
			CleanMarkdown:  getEnvAsBool("DEEPSEEK_CLEAN_MARKDOWN", true),
			Pdftoppm:       getEnv("PDFTOPPM", "pdftoppm"),
			Soffice:        getEnv("SOFFICE", "soffice"),
			DPI:            getEnvAsInt("OCR_DPI", 200),
			LogPreviewSize: getEnvAsInt("OCR_LOG_PREVIEW_CHARS", 0),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("OPENROUTER_API_KEY", ""),
			BaseURL:     getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnv("OPENROUTER_MODEL", "google/gemma-3-4b-it:free"),
			Temperature: getEnvAsFloat32("OPENROUTER_TEMPERATURE", 0.1),
			Timeout:     getEnvAsDuration("OPENROUTER_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Backend:         getEnv("STORAGE_BACKEND", "s3"),
			Dir:             getEnv("STORAGE_DIR", "./data/blobs"),
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "docflow"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			UseSSL:          getEnvAsBool("S3_USE_SSL", false),
		},
		Search: SearchConfig{
			Backend:            getEnv("SEARCH_BACKEND", "pgvector"),
			BlevePath:          getEnv("BLEVE_INDEX_PATH", "./data/docflow.bleve"),
			EmbeddingsProvider: getEnv("EMBEDDINGS_PROVIDER", "ollama"),
			EmbeddingsURL:      getEnv("EMBEDDINGS_URL", "http://localhost:11434"),
			EmbeddingsModel:    getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimensions:         getEnvAsInt("EMBEDDINGS_DIMENSIONS", 768),
			Candidates:         getEnvAsInt("SEARCH_CANDIDATES", 20),
		},
		Worker: WorkerConfig{
			Workers:      getEnvAsInt("WORKERS", 4),
			QueueSize:    getEnvAsInt("QUEUE_SIZE", 256),
			MaxAttempts:  getEnvAsInt("TASK_MAX_ATTEMPTS", 3),
			BackoffBase:  getEnvAsDuration("TASK_BACKOFF_BASE", 60*time.Second),
			HardTimeout:  getEnvAsDuration("TASK_TIME_LIMIT", 600*time.Second),
			SoftTimeout:  getEnvAsDuration("TASK_SOFT_TIME_LIMIT", 540*time.Second),
			OCRReentrant: getEnvAsBool("OCR_REENTRANT", false),
		},
		Trigger: TriggerConfig{
			Interval:    getEnvAsDuration("TRIGGER_SCAN_INTERVAL", 30*time.Second),
			Watch:       getEnvAsBool("TRIGGER_WATCH", false),
			Concurrency: getEnvAsInt("TRIGGER_SCAN_CONCURRENCY", 2),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError(CodeConfig, "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Worker.MaxAttempts < 1 {
		return NewAppError(CodeConfig, "TASK_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Worker.SoftTimeout <= 0 || c.Worker.SoftTimeout >= c.Worker.HardTimeout {
		return NewAppError(CodeConfig, "TASK_SOFT_TIME_LIMIT must be positive and below TASK_TIME_LIMIT", ErrInvalidInput)
	}
	switch c.Search.Backend {
	case "pgvector":
		if c.Database.Driver != "postgres" {
			return NewAppError(CodeConfig, "SEARCH_BACKEND=pgvector requires DB_DRIVER=postgres", ErrInvalidInput)
		}
	case "bleve":
		if c.Search.BlevePath == "" {
			return NewAppError(CodeConfig, "BLEVE_INDEX_PATH is required", ErrInvalidInput)
		}
	default:
		return NewAppError(CodeConfig, "SEARCH_BACKEND must be pgvector or bleve", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return NewAppError(CodeConfig, "S3_BUCKET is required", ErrInvalidInput)
		}
	case "dir":
		if c.Storage.Dir == "" {
			return NewAppError(CodeConfig, "STORAGE_DIR is required", ErrInvalidInput)
		}
	default:
		return NewAppError(CodeConfig, "STORAGE_BACKEND must be s3 or dir", ErrInvalidInput)
	}
	if c.Trigger.Interval <= 0 {
		return NewAppError(CodeConfig, "TRIGGER_SCAN_INTERVAL must be positive", ErrInvalidInput)
	}
	return nil
}
