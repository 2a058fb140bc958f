// Package config loads configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Graph backends.
const (
	GraphMemory   = "memory"
	GraphBadger   = "badger"
	GraphPostgres = "postgres"
	GraphDrive    = "drive"
)

// Blob backends.
const (
	BlobLocal = "local"
	BlobS3    = "s3"
)

// Config holds all pathstore configuration.
type Config struct {
	// Core
	RootName   string `yaml:"root_name"`
	StagingDir string `yaml:"staging_dir"`

	// Graph store ("memory", "badger", "postgres" or "drive")
	GraphBackend string `yaml:"graph_backend"`
	DatabaseURL  string `yaml:"database_url"`
	BadgerDir    string `yaml:"badger_dir"`

	// Content store for the badger and postgres graph backends
	BlobBackend   string `yaml:"blob_backend"`
	LocalBlobPath string `yaml:"local_blob_path"`
	S3Endpoint    string `yaml:"s3_endpoint"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3AccessKey   string `yaml:"s3_access_key"`
	S3SecretKey   string `yaml:"s3_secret_key"`
	S3Region      string `yaml:"s3_region"`

	// Google Drive
	DriveClientID     string `yaml:"gdrive_client_id"`
	DriveClientSecret string `yaml:"gdrive_client_secret"`
	DriveRefreshToken string `yaml:"gdrive_refresh_token"`
	DriveEndpoint     string `yaml:"gdrive_endpoint"`
	DriveTokenURL     string `yaml:"gdrive_token_url"`

	// Server
	ListenAddr    string `yaml:"listen_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	JWTSecret     string `yaml:"jwt_secret"`
	MaxUploadSize int64  `yaml:"max_upload_size"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		RootName:      "root",
		StagingDir:    filepath.Join(os.TempDir(), "pathstore"),
		GraphBackend:  GraphMemory,
		BadgerDir:     "/data/badger",
		BlobBackend:   BlobLocal,
		LocalBlobPath: "/data/blobs",
		S3Endpoint:    "http://localhost:9000",
		S3Bucket:      "pathstore",
		S3AccessKey:   "minioadmin",
		S3SecretKey:   "minioadmin",
		S3Region:      "us-east-1",
		ListenAddr:    ":8080",
		MetricsAddr:   ":9090",
		MaxUploadSize: 100 * 1024 * 1024, // 100MB
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load applies CONFIG_FILE (if set) and then environment variables on top of
// the defaults, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	c.RootName = envOr("PATHSTORE_ROOT", c.RootName)
	c.StagingDir = envOr("STAGING_DIR", c.StagingDir)

	c.GraphBackend = envOr("GRAPH_BACKEND", c.GraphBackend)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.BadgerDir = envOr("BADGER_DIR", c.BadgerDir)

	c.BlobBackend = envOr("BLOB_BACKEND", c.BlobBackend)
	c.LocalBlobPath = envOr("LOCAL_BLOB_PATH", c.LocalBlobPath)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = envOr("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envOr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = envOr("S3_REGION", c.S3Region)

	c.DriveClientID = envOr("GDRIVE_CLIENT_ID", c.DriveClientID)
	c.DriveClientSecret = envOr("GDRIVE_CLIENT_SECRET", c.DriveClientSecret)
	c.DriveRefreshToken = envOr("GDRIVE_REFRESH_TOKEN", c.DriveRefreshToken)
	c.DriveEndpoint = envOr("GDRIVE_ENDPOINT", c.DriveEndpoint)
	c.DriveTokenURL = envOr("GDRIVE_TOKEN_URL", c.DriveTokenURL)

	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.JWTSecret = envOr("JWT_SECRET", c.JWTSecret)
	c.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)

	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
}

// Validate checks the settings each backend needs.
func (c *Config) Validate() error {
	if c.RootName == "" {
		return fmt.Errorf("PATHSTORE_ROOT must not be empty")
	}
	if c.StagingDir == "" {
		return fmt.Errorf("STAGING_DIR is required")
	}

	switch c.GraphBackend {
	case GraphMemory:
	case GraphBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR is required for the badger graph backend")
		}
	case GraphPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres graph backend")
		}
	case GraphDrive:
		if c.DriveClientID == "" || c.DriveClientSecret == "" || c.DriveRefreshToken == "" {
			return fmt.Errorf("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required for the drive graph backend")
		}
	default:
		return fmt.Errorf("unknown graph backend: %q (expected memory, badger, postgres or drive)", c.GraphBackend)
	}

	if c.UsesBlobs() {
		switch c.BlobBackend {
		case BlobLocal:
			if c.LocalBlobPath == "" {
				return fmt.Errorf("LOCAL_BLOB_PATH is required for the local blob backend")
			}
		case BlobS3:
			if c.S3Bucket == "" {
				return fmt.Errorf("S3_BUCKET is required for the s3 blob backend")
			}
		default:
			return fmt.Errorf("unknown blob backend: %q (expected local or s3)", c.BlobBackend)
		}
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}

// UsesBlobs reports whether the graph backend keeps content in a blob store.
func (c *Config) UsesBlobs() bool {
	return c.GraphBackend == GraphBadger || c.GraphBackend == GraphPostgres
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
