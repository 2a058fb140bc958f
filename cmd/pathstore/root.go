package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/pathstore/internal/app"
	"github.com/fruitsalade/pathstore/internal/config"
	"github.com/fruitsalade/pathstore/internal/logging"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pathstore",
	Short: "Path-addressed storage over a parent-linked graph store",
	Long: `pathstore maps slash-separated paths onto a store whose files and
folders are nodes linked by parent IDs, such as Google Drive.

Backends are selected with GRAPH_BACKEND (memory, badger, postgres, drive).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
}

// loadConfig reads configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	path := configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration and wires the storage for one command.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}
