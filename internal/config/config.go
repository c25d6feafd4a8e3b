package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Render   RenderConfig   `mapstructure:"render"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Bulk     BulkConfig     `mapstructure:"bulk"`
	Log      LogConfig      `mapstructure:"log"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains the address of the redis instance shared by asynq and the job store.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
// An empty endpoint disables uploads; archives then stay on local disk.
type MinIOConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	PublicEndpoint   string        `mapstructure:"public_endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	UseSSL           bool          `mapstructure:"use_ssl"`
	Region           string        `mapstructure:"region"`
	BucketLookup     string        `mapstructure:"bucket_lookup"`
	Bucket           string        `mapstructure:"bucket"`
	AutoCreateBucket bool          `mapstructure:"auto_create_bucket"`
	PresignTTL       time.Duration `mapstructure:"presign_ttl"`
}

// Enabled reports whether archives should be uploaded to object storage.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// RenderConfig holds the layout engine settings a deployment may tune.
type RenderConfig struct {
	ExportScale   int           `mapstructure:"export_scale"`
	OutputDir     string        `mapstructure:"output_dir"`
	FontCacheDir  string        `mapstructure:"font_cache_dir"`
	EmojiCacheDir string        `mapstructure:"emoji_cache_dir"`
	AssetDir      string        `mapstructure:"asset_dir"`
	AssetBaseURL  string        `mapstructure:"asset_base_url"`
	AssetHosts    []string      `mapstructure:"asset_hosts"`
	FontCSSURL    string        `mapstructure:"font_css_url"`
	EmojiCDNURL   string        `mapstructure:"emoji_cdn_url"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	DrawGuides    bool          `mapstructure:"draw_guides"`
}

// JobsConfig controls how long progress and bulk job state survive.
type JobsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// WorkerConfig contains asynq server settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// BulkConfig holds the caller-facing limits for multi-order batches.
type BulkConfig struct {
	MaxOrders int `mapstructure:"max_orders"`
}

// LogConfig selects level and optional rotating file output.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "printgrid")
	v.SetDefault("database.user", "printgrid")
	v.SetDefault("database.password", "printgrid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "print-sheets")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("minio.presign_ttl", 24*time.Hour)
	v.SetDefault("render.export_scale", 4)
	v.SetDefault("render.output_dir", "var/outputs")
	v.SetDefault("render.font_cache_dir", "var/cache/fonts")
	v.SetDefault("render.emoji_cache_dir", "var/cache/emoji")
	v.SetDefault("render.asset_dir", "assets")
	v.SetDefault("render.asset_base_url", "")
	v.SetDefault("render.asset_hosts", []string{})
	v.SetDefault("render.font_css_url", "https://fonts.googleapis.com/css")
	v.SetDefault("render.emoji_cdn_url", "https://cdn.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/72x72/")
	v.SetDefault("render.fetch_timeout", 30*time.Second)
	v.SetDefault("render.draw_guides", false)
	v.SetDefault("jobs.ttl", 2*time.Hour)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("bulk.max_orders", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.region":             "MINIO_REGION",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"minio.presign_ttl":        "MINIO_PRESIGN_TTL",
		"render.export_scale":      "RENDER_EXPORT_SCALE",
		"render.output_dir":        "RENDER_OUTPUT_DIR",
		"render.font_cache_dir":    "RENDER_FONT_CACHE_DIR",
		"render.emoji_cache_dir":   "RENDER_EMOJI_CACHE_DIR",
		"render.asset_dir":         "RENDER_ASSET_DIR",
		"render.asset_base_url":    "RENDER_ASSET_BASE_URL",
		"render.asset_hosts":       "RENDER_ASSET_HOSTS",
		"render.font_css_url":      "RENDER_FONT_CSS_URL",
		"render.emoji_cdn_url":     "RENDER_EMOJI_CDN_URL",
		"render.fetch_timeout":     "RENDER_FETCH_TIMEOUT",
		"render.draw_guides":       "RENDER_DRAW_GUIDES",
		"jobs.ttl":                 "JOBS_TTL",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"bulk.max_orders":          "BULK_MAX_ORDERS",
		"log.level":                "LOG_LEVEL",
		"log.file":                 "LOG_FILE",
		"log.max_size_mb":          "LOG_MAX_SIZE_MB",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Enabled() {
		if cfg.MinIO.AccessKeyID == "" {
			return errors.New("minio access key id is required")
		}
		if cfg.MinIO.SecretAccessKey == "" {
			return errors.New("minio secret access key is required")
		}
		if cfg.MinIO.Bucket == "" {
			return errors.New("minio bucket is required")
		}
	}
	if cfg.Render.ExportScale <= 0 {
		return errors.New("render export scale must be positive")
	}
	if cfg.Render.OutputDir == "" {
		return errors.New("render output dir is required")
	}
	if cfg.Render.FontCacheDir == "" || cfg.Render.EmojiCacheDir == "" {
		return errors.New("render cache dirs are required")
	}
	if cfg.Jobs.TTL <= 0 {
		return errors.New("jobs ttl must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	if cfg.Bulk.MaxOrders <= 0 {
		return errors.New("bulk max orders must be positive")
	}
	return nil
}
