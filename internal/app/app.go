// Package app assembles a Storage and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/pathstore/internal/auth"
	"github.com/fruitsalade/pathstore/internal/blob"
	"github.com/fruitsalade/pathstore/internal/config"
	"github.com/fruitsalade/pathstore/internal/events"
	"github.com/fruitsalade/pathstore/internal/graph"
	"github.com/fruitsalade/pathstore/internal/graph/badgergraph"
	"github.com/fruitsalade/pathstore/internal/graph/drivegraph"
	"github.com/fruitsalade/pathstore/internal/graph/memgraph"
	"github.com/fruitsalade/pathstore/internal/graph/pggraph"
	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/pathstore"
	"github.com/fruitsalade/pathstore/internal/staging"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Storage *pathstore.Storage
	Events  *events.Broadcaster
	Graph   graph.Client

	closers []func() error
	cancel  context.CancelFunc
}

// New opens the configured backends and builds the Storage.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Events: events.NewBroadcaster()}

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	client, err := a.openGraph(ctx, bg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Graph = graph.Instrument(client, cfg.GraphBackend)

	stage, err := staging.New(cfg.StagingDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("staging: %w", err)
	}

	a.Storage = pathstore.New(a.Graph, stage,
		pathstore.WithRootName(cfg.RootName),
		pathstore.WithNotifier(a.Events),
	)

	logging.Info("storage ready",
		zap.String("graph", cfg.GraphBackend),
		zap.String("root", cfg.RootName),
		zap.String("staging", stage.Root()))
	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of creation.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openBlobs(ctx context.Context) (blob.Backend, error) {
	b, err := blob.Open(ctx, a.Config)
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}
	a.onClose(b.Close)
	logging.Info("blob backend ready", zap.String("type", b.Type()))
	return b, nil
}

func (a *App) openGraph(ctx, bg context.Context) (graph.Client, error) {
	cfg := a.Config
	switch cfg.GraphBackend {
	case config.GraphMemory:
		s := memgraph.New()
		s.AddRoot(cfg.RootName)
		return s, nil

	case config.GraphBadger:
		blobs, err := a.openBlobs(ctx)
		if err != nil {
			return nil, err
		}
		s, err := badgergraph.Open(cfg.BadgerDir, blobs)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil

	case config.GraphPostgres:
		blobs, err := a.openBlobs(ctx)
		if err != nil {
			return nil, err
		}
		s, err := pggraph.New(cfg.DatabaseURL, blobs)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		go pollConnections(bg, s)
		return s, nil

	case config.GraphDrive:
		tokens := auth.NewTokenProvider(auth.NewGoogleRefresher(
			cfg.DriveClientID, cfg.DriveClientSecret, cfg.DriveRefreshToken, cfg.DriveTokenURL))
		return drivegraph.New(ctx, drivegraph.Config{
			TokenSource: tokens,
			Endpoint:    cfg.DriveEndpoint,
		})

	default:
		return nil, fmt.Errorf("unknown graph backend: %s", cfg.GraphBackend)
	}
}

func pollConnections(ctx context.Context, s *pggraph.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateConnectionMetrics()
		}
	}
}

// rootProvisioner is implemented by backends that can create their root.
type rootProvisioner interface {
	EnsureRoot(ctx context.Context, name string) (string, error)
}

// Provision prepares the configured backend for use: it applies schema
// migrations where needed and creates the root folder if it is missing.
// Drive roots are created in Drive itself.
func Provision(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.GraphBackend == config.GraphDrive {
		return "", fmt.Errorf("the drive backend uses an existing Drive folder named %q as its root", cfg.RootName)
	}

	a, err := New(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer a.Close()

	inner := a.Graph
	if in, ok := inner.(*graph.Instrumented); ok {
		inner = in.Client
	}
	p, ok := inner.(rootProvisioner)
	if !ok {
		// The memory backend creates its root on startup.
		return a.Storage.FolderID(ctx, "")
	}
	return p.EnsureRoot(ctx, cfg.RootName)
}
