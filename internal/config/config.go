/**
 * Configuration for the chapter vocabulary worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (job queue, recognition cache, status events)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration (optional term index)
	QdrantURL        string
	QdrantCollection string

	// API Keys
	VoyageAPIKey     string
	OpenRouterAPIKey string
	OCRAPIKey        string

	// Recognition service
	OCRBackend  string // "ocrspace" or "tesseract"
	OCRAPIURL   string
	OCRLanguage string
	OCREngine   int
	OCRScale    bool

	// Language model service
	LLMAPIURL string
	LLMModel  string

	// Pipeline tuning
	TileFileSizeThreshold  int64
	TileOverlapPercentage  float64
	UpscaleEnabled         bool
	UpscaleScale           float64
	RecognitionConcurrency int
	RecognitionTimeoutMs   int
	OCRCacheTTLHours       int

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int

	// Health endpoint listen address; empty disables it
	HealthAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables and validates
// everything the worker needs
func LoadConfig() (*Config, error) {
	cfg := Load()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadPipelineConfig loads configuration for running the pipeline without
// the worker's stores (vocabctl run)
func LoadPipelineConfig() (*Config, error) {
	cfg := Load()

	if err := cfg.ValidatePipeline(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads environment variables without validating them
func Load() *Config {
	return &Config{
		RedisURL:               getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:              getEnvOrDefault("QUEUE_NAME", "vocab:pages"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		QdrantURL:              getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:       getEnvOrDefault("QDRANT_COLLECTION", "chapter_terms"),
		VoyageAPIKey:           getEnvOrDefault("VOYAGE_API_KEY", ""),
		OpenRouterAPIKey:       os.Getenv("OPENROUTER_API_KEY"),
		OCRAPIKey:              getEnvOrDefault("OCR_API_KEY", ""),
		OCRBackend:             getEnvOrDefault("OCR_BACKEND", "ocrspace"),
		OCRAPIURL:              getEnvOrDefault("OCR_API_URL", "https://api.ocr.space/parse/image"),
		OCRLanguage:            getEnvOrDefault("OCR_LANGUAGE", "kor"),
		OCREngine:              getEnvAsIntOrDefault("OCR_ENGINE", 2),
		OCRScale:               getEnvAsBoolOrDefault("OCR_SCALE", true),
		LLMAPIURL:              getEnvOrDefault("LLM_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		LLMModel:               getEnvOrDefault("LLM_MODEL", "openai/gpt-4o-mini"),
		TileFileSizeThreshold:  getEnvAsInt64OrDefault("TILE_FILE_SIZE_THRESHOLD", 1000000),
		TileOverlapPercentage:  getEnvAsFloatOrDefault("TILE_OVERLAP_PERCENTAGE", 0.10),
		UpscaleEnabled:         getEnvAsBoolOrDefault("UPSCALE_ENABLED", true),
		UpscaleScale:           getEnvAsFloatOrDefault("UPSCALE_SCALE", 2.0),
		RecognitionConcurrency: getEnvAsIntOrDefault("RECOGNITION_CONCURRENCY", 4),
		RecognitionTimeoutMs:   getEnvAsIntOrDefault("RECOGNITION_TIMEOUT_MS", 30000),
		OCRCacheTTLHours:       getEnvAsIntOrDefault("OCR_CACHE_TTL_HOURS", 168),
		WorkerConcurrency:      getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		MaxFileSize:            getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout:      getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		HealthAddr:             getEnvOrDefault("HEALTH_ADDR", ":8098"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:              getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QdrantURL != "" && c.VoyageAPIKey == "" {
		return fmt.Errorf("VOYAGE_API_KEY is required when QDRANT_URL is set")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.OCRCacheTTLHours < 1 {
		return fmt.Errorf("OCR_CACHE_TTL_HOURS must be at least 1, got %d", c.OCRCacheTTLHours)
	}

	return c.ValidatePipeline()
}

// ValidatePipeline checks the settings used by the page pipeline
func (c *Config) ValidatePipeline() error {
	if c.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}

	switch c.OCRBackend {
	case "ocrspace":
		if c.OCRAPIKey == "" {
			return fmt.Errorf("OCR_API_KEY is required when OCR_BACKEND=ocrspace")
		}
	case "tesseract":
	default:
		return fmt.Errorf("OCR_BACKEND must be ocrspace or tesseract, got %q", c.OCRBackend)
	}

	if c.TileFileSizeThreshold <= 0 {
		return fmt.Errorf("TILE_FILE_SIZE_THRESHOLD must be positive, got %d", c.TileFileSizeThreshold)
	}

	if c.TileOverlapPercentage < 0 || c.TileOverlapPercentage >= 1.0 {
		return fmt.Errorf("TILE_OVERLAP_PERCENTAGE must be in [0, 1), got %v", c.TileOverlapPercentage)
	}

	if c.UpscaleEnabled && c.UpscaleScale <= 1.0 {
		return fmt.Errorf("UPSCALE_SCALE must be greater than 1.0, got %v", c.UpscaleScale)
	}

	if c.RecognitionConcurrency < 1 || c.RecognitionConcurrency > 32 {
		return fmt.Errorf("RECOGNITION_CONCURRENCY must be between 1 and 32, got %d", c.RecognitionConcurrency)
	}

	if c.RecognitionTimeoutMs < 1000 {
		return fmt.Errorf("RECOGNITION_TIMEOUT_MS must be at least 1000, got %d", c.RecognitionTimeoutMs)
	}

	return nil
}

// RecognitionTimeout returns the per-tile recognition call timeout.
func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeoutMs) * time.Millisecond
}

// ProcessingTimeoutDuration returns the per-job processing timeout.
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// OCRCacheTTL returns how long recognition results stay cached.
func (c *Config) OCRCacheTTL() time.Duration {
	return time.Duration(c.OCRCacheTTLHours) * time.Hour
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
