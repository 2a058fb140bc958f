package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/api"
	"github.com/fruitsalade/pathstore/internal/app"
	"github.com/fruitsalade/pathstore/internal/auth"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API on LISTEN_ADDR and Prometheus metrics on METRICS_ADDR.

API routes require a bearer token when JWT_SECRET is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logging.Sync()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var jwt *auth.JWT
		if cfg.JWTSecret != "" {
			jwt = auth.NewJWT(cfg.JWTSecret)
		} else {
			logging.Warn("JWT_SECRET not set, API is unauthenticated")
		}

		srv := api.NewServer(a.Storage, a.Events, jwt, cfg.MaxUploadSize)
		httpServer := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: srv.Handler(),
		}

		var metricsServer *http.Server
		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				logging.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
				if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					logging.Error("metrics server error", zap.Error(err))
				}
			}()
		}

		// Graceful shutdown
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			logging.Info("shutting down...")
			cancel()

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
			if metricsServer != nil {
				metricsServer.Shutdown(shutdownCtx)
			}
		}()

		logging.Info("server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.String("graph", cfg.GraphBackend),
			zap.String("root", cfg.RootName),
			zap.Bool("auth", jwt != nil))

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
