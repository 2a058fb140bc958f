package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PATHSTORE_ROOT", "STAGING_DIR", "GRAPH_BACKEND", "DATABASE_URL",
		"BADGER_DIR", "BLOB_BACKEND", "LOCAL_BLOB_PATH", "S3_BUCKET", "GDRIVE_CLIENT_ID",
		"GDRIVE_CLIENT_SECRET", "GDRIVE_REFRESH_TOKEN", "MAX_UPLOAD_SIZE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RootName != "root" || cfg.GraphBackend != GraphMemory {
		t.Errorf("unexpected defaults: root=%q backend=%q", cfg.RootName, cfg.GraphBackend)
	}
	if cfg.MaxUploadSize != 100*1024*1024 {
		t.Errorf("MaxUploadSize = %d", cfg.MaxUploadSize)
	}
}

func TestFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pathstore.yaml")
	content := `root_name: archive
graph_backend: postgres
database_url: postgres://file/db
log_level: debug
max_upload_size: 2048
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RootName != "archive" {
		t.Errorf("RootName = %q", cfg.RootName)
	}
	if cfg.DatabaseURL != "postgres://file/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("env should override file, LogLevel = %q", cfg.LogLevel)
	}
	if cfg.MaxUploadSize != 2048 {
		t.Errorf("MaxUploadSize = %d", cfg.MaxUploadSize)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("absent keys keep defaults, ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoadBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("root_name: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory ok", func(c *Config) {}, ""},
		{"postgres needs url", func(c *Config) { c.GraphBackend = GraphPostgres }, "DATABASE_URL"},
		{"postgres ok", func(c *Config) { c.GraphBackend = GraphPostgres; c.DatabaseURL = "postgres://x" }, ""},
		{"badger needs dir", func(c *Config) { c.GraphBackend = GraphBadger; c.BadgerDir = "" }, "BADGER_DIR"},
		{"drive needs creds", func(c *Config) { c.GraphBackend = GraphDrive; c.DriveClientID = "id" }, "GDRIVE_"},
		{"drive ok", func(c *Config) {
			c.GraphBackend = GraphDrive
			c.DriveClientID, c.DriveClientSecret, c.DriveRefreshToken = "id", "secret", "rt"
		}, ""},
		{"unknown graph", func(c *Config) { c.GraphBackend = "ftp" }, "unknown graph backend"},
		{"unknown blob", func(c *Config) { c.GraphBackend = GraphBadger; c.BlobBackend = "tape" }, "unknown blob backend"},
		{"blob ignored for memory", func(c *Config) { c.BlobBackend = "tape" }, ""},
		{"empty root", func(c *Config) { c.RootName = "" }, "PATHSTORE_ROOT"},
		{"bad upload size", func(c *Config) { c.MaxUploadSize = 0 }, "MAX_UPLOAD_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
