package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the media index service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"media-index"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8285"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database (required, no default)
	DatabaseDSN    string        `env:"DATABASE_DSN,notEmpty"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Redis (task queue + processing leases)
	RedisURL  string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	QueueName string `env:"QUEUE_NAME" envDefault:"media:process"`

	// Storage Backend Selection
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"s3"` // Options: "s3" or "local"

	// Local Storage Configuration
	LocalStoragePath    string `env:"LOCAL_STORAGE_PATH"`
	LocalStorageBaseURL string `env:"LOCAL_STORAGE_BASE_URL"`

	// S3 Storage Configuration
	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3Region       string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket       string        `env:"S3_BUCKET" envDefault:"media-storage"`
	S3AccessKeyID  string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool          `env:"S3_USE_PATH_STYLE" envDefault:"true"`
	S3PresignTTL   time.Duration `env:"S3_PRESIGN_TTL" envDefault:"1h"`

	// Vector Index (Qdrant)
	QdrantURL        string `env:"QDRANT_URL" envDefault:"http://localhost:6333"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"media_embeddings"`
	// CLIP ViT-B/32 dimension; the collection is created with this size and the
	// embedding sidecar must return vectors of the same length.
	VectorDim int `env:"VECTOR_DIM" envDefault:"512"`

	// Embedding/Captioning sidecar
	AIServiceURL     string        `env:"AI_SERVICE_URL" envDefault:"http://localhost:8501"`
	AIServiceTimeout time.Duration `env:"AI_SERVICE_TIMEOUT" envDefault:"60s"`

	// Upload Settings
	MaxUploadBytes    int64    `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"` // 100MB
	AllowedExtensions []string `env:"ALLOWED_EXTENSIONS" envDefault:"jpg,jpeg,png,gif,webp,mp4,mov,avi,webm"`
	MaxBulkFiles      int      `env:"MAX_BULK_FILES" envDefault:"10"`

	// Processing
	WorkerCount      int           `env:"WORKER_COUNT" envDefault:"4"`
	MaxAttempts      int           `env:"PROCESSING_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"PROCESSING_RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay    time.Duration `env:"PROCESSING_RETRY_MAX_DELAY" envDefault:"5m"`
	TaskSoftTimeout  time.Duration `env:"PROCESSING_SOFT_TIMEOUT" envDefault:"25m"`
	QueueLeaseTTL    time.Duration `env:"QUEUE_LEASE_TTL" envDefault:"30m"`
	ThumbnailMaxEdge int           `env:"THUMBNAIL_MAX_EDGE" envDefault:"300"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.QdrantURL = strings.TrimSpace(cfg.QdrantURL)
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 * 1024 * 1024
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive")
	}
	for i, ext := range cfg.AllowedExtensions {
		cfg.AllowedExtensions[i] = strings.ToLower(strings.TrimSpace(ext))
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsLocalStorage returns true if local storage backend is configured.
func (c *Config) IsLocalStorage() bool {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend)) == "local"
}

// IsS3Storage returns true if S3 storage backend is configured.
func (c *Config) IsS3Storage() bool {
	backend := strings.ToLower(strings.TrimSpace(c.StorageBackend))
	return backend == "" || backend == "s3"
}

// ExtensionAllowed reports whether the (lowercased, dot-less) extension is accepted.
func (c *Config) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
