package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend identifies a blob storage backend.
type Backend string

const (
	// BackendDisk stores blobs as plain files under the upload directory.
	BackendDisk Backend = "disk"
	// BackendMinIO stores blobs as objects in a MinIO bucket.
	BackendMinIO Backend = "minio"
)

// Config aggregates runtime configuration for the filedrop API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Storage  StorageConfig
	Limits   LimitsConfig
	Sweep    SweepConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Backend   Backend
	UploadDir string
	MinIO     MinIOConfig
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// LimitsConfig groups payload, quota and access-policy ceilings.
type LimitsConfig struct {
	MaxUploadBytes     int64
	MaxQuotaBytes      int64
	MaxQuotaFiles      int64
	DefaultExpiry      time.Duration
	MaxExpiry          time.Duration
	DefaultAccessLimit int
	MaxAccessLimit     int
}

// SweepConfig parameterizes the background reclamation task.
type SweepConfig struct {
	Interval time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("FILEDROP_API_HOST", "0.0.0.0"),
			Port:         getInt("FILEDROP_API_PORT", 8080),
			PublicURL:    strings.TrimRight(getString("FILEDROP_PUBLIC_URL", "http://localhost:8080"), "/"),
			ReadTimeout:  getDuration("FILEDROP_API_READ_TIMEOUT", 15*time.Minute),
			WriteTimeout: getDuration("FILEDROP_API_WRITE_TIMEOUT", 15*time.Minute),
			IdleTimeout:  getDuration("FILEDROP_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "filedrop_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "filedrop"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		Storage: StorageConfig{
			Backend:   Backend(strings.ToLower(getString("FILEDROP_STORAGE_BACKEND", string(BackendDisk)))),
			UploadDir: getString("FILEDROP_UPLOAD_DIR", "uploads"),
			MinIO: MinIOConfig{
				Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getString("MINIO_ROOT_USER", "filedrop"),
				SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
				Bucket:          getString("MINIO_BUCKET", "filedrop"),
				UseSSL:          getBool("MINIO_USE_SSL", false),
				Region:          getString("MINIO_REGION", ""),
			},
		},
		Limits: LimitsConfig{
			MaxUploadBytes:     getInt64("FILEDROP_MAX_UPLOAD_BYTES", 140*1024*1024),
			MaxQuotaBytes:      getInt64("FILEDROP_MAX_QUOTA_BYTES", 240*1024*1024),
			MaxQuotaFiles:      getInt64("FILEDROP_MAX_QUOTA_FILES", 100),
			DefaultExpiry:      getDuration("FILEDROP_DEFAULT_EXPIRY", 24*time.Hour),
			MaxExpiry:          getDuration("FILEDROP_MAX_EXPIRY", 72*time.Hour),
			DefaultAccessLimit: getInt("FILEDROP_DEFAULT_ACCESS_LIMIT", 1),
			MaxAccessLimit:     getInt("FILEDROP_MAX_ACCESS_LIMIT", 30),
		},
		Sweep: SweepConfig{
			Interval: getDuration("FILEDROP_SWEEP_INTERVAL", 15*time.Minute),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("FILEDROP_METRICS_PATH", "/metrics"),
		},
	}

	switch cfg.Storage.Backend {
	case BackendDisk, BackendMinIO:
	default:
		return Config{}, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// A bare hostname defaults to the MinIO API port.
	if !strings.Contains(cfg.Storage.MinIO.Endpoint, ":") {
		cfg.Storage.MinIO.Endpoint += ":9000"
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
