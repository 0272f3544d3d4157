// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Item store kinds.
const (
	ItemStoreMemory   = "memory"
	ItemStoreMongo    = "mongo"
	ItemStorePostgres = "postgres"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `mapstructure:"LISTEN_ADDR"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Item persistence
	ItemStore     string `mapstructure:"ITEM_STORE"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	// Short links
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Storage backend kind used for new blobs ("minio", "s3" or "local")
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`

	// Additional kinds to register so items stored on them stay readable
	StorageBackends  []string `mapstructure:"STORAGE_BACKENDS"`
	LocalStoragePath string   `mapstructure:"LOCAL_STORAGE_PATH"`
	ItemBucket       string   `mapstructure:"ITEM_BUCKET"`
	ThumbBucket      string   `mapstructure:"THUMB_BUCKET"`

	// S3 storage
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3Region    string `mapstructure:"S3_REGION"`

	// MinIO storage
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioRegion    string `mapstructure:"MINIO_REGION"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	// Thumbnails
	ThumbCacheSize      int           `mapstructure:"THUMB_CACHE_SIZE"`
	ThumbCaptureTimeout time.Duration `mapstructure:"THUMB_CAPTURE_TIMEOUT"`
	ChromePath          string        `mapstructure:"CHROME_PATH"`

	// Virus scanning (results are written by an external scanner)
	ClamAVEnabled bool `mapstructure:"CLAMAV_ENABLED"`
	ClamAVWarn    bool `mapstructure:"CLAMAV_WARN"`

	// Auth
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// Uploads
	MaxUploadSize int64 `mapstructure:"MAX_UPLOAD_SIZE"`

	// Uploads and shortens per minute per caller; 0 disables the limit
	WriteRateLimit int `mapstructure:"WRITE_RATE_LIMIT"`
}

var defaults = map[string]any{
	"LISTEN_ADDR":           ":8080",
	"METRICS_ADDR":          ":9090",
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "json",
	"ITEM_STORE":            ItemStoreMemory,
	"MONGO_URI":             "mongodb://localhost:27017",
	"MONGO_DATABASE":        "femtoserve",
	"DATABASE_URL":          "",
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"STORAGE_BACKEND":       "local",
	"STORAGE_BACKENDS":      []string{},
	"LOCAL_STORAGE_PATH":    "/data/storage",
	"ITEM_BUCKET":           "femto-items",
	"THUMB_BUCKET":          "femto-items",
	"S3_ENDPOINT":           "http://localhost:9000",
	"S3_ACCESS_KEY":         "minioadmin",
	"S3_SECRET_KEY":         "minioadmin",
	"S3_REGION":             "us-east-1",
	"MINIO_ENDPOINT":        "localhost:9000",
	"MINIO_ACCESS_KEY":      "minioadmin",
	"MINIO_SECRET_KEY":      "minioadmin",
	"MINIO_REGION":          "us-east-1",
	"MINIO_USE_SSL":         false,
	"THUMB_CACHE_SIZE":      4096,
	"THUMB_CAPTURE_TIMEOUT": 30 * time.Second,
	"CHROME_PATH":           "",
	"CLAMAV_ENABLED":        false,
	"CLAMAV_WARN":           false,
	"JWT_SECRET":            "",
	"MAX_UPLOAD_SIZE":       int64(100 * 1024 * 1024), // 100MB
	"WRITE_RATE_LIMIT":      30,
}

// Load reads configuration from a local .env file (if any) and environment
// variables, with defaults.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.ItemStore {
	case ItemStoreMemory:
	case ItemStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for ITEM_STORE=mongo")
		}
	case ItemStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for ITEM_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown ITEM_STORE %q", c.ItemStore)
	}
	if c.ThumbCaptureTimeout <= 0 {
		return fmt.Errorf("THUMB_CAPTURE_TIMEOUT must be positive")
	}
	c.StorageBackend = strings.ToLower(c.StorageBackend)
	for i, kind := range c.StorageBackends {
		c.StorageBackends[i] = strings.ToLower(strings.TrimSpace(kind))
	}
	return nil
}

// StorageKinds returns the default backend kind followed by any extra
// kinds, without duplicates.
func (c *Config) StorageKinds() []string {
	kinds := []string{c.StorageBackend}
	seen := map[string]bool{c.StorageBackend: true}
	for _, kind := range c.StorageBackends {
		if kind == "" || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds
}

// VirusWarnMode reports whether unscanned items get the interstitial warning.
func (c *Config) VirusWarnMode() bool {
	return c.ClamAVEnabled && c.ClamAVWarn
}
