// Command artifactd serves artifact ingestion and retrieval over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/artifacts/api"
	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/config"
	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/metrics"
	"github.com/GoCodeAlone/artifacts/observability/tracing"
	"github.com/GoCodeAlone/artifacts/signing"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

var configFile = flag.String("config", "", "Path to artifacts configuration YAML file (or set ARTIFACTS_CONFIG)")

func main() {
	flag.Parse()

	path := *configFile
	if path == "" {
		path = os.Getenv("ARTIFACTS_CONFIG")
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "artifactd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, path, logger); err != nil {
		logger.Error("artifactd exited", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    "artifacts",
		ServiceVersion: version,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(logger, "tracing", cfg.Server.ShutdownTimeout, tp.Shutdown)

	disks, err := disk.OpenAll(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	var collector *metrics.Collector
	if !cfg.Metrics.Disabled {
		collector = metrics.New(cfg.Metrics.Namespace)
	}

	svc := artifact.NewService(deps.store, disks, buildOwners(cfg.Owners),
		artifact.WithLocker(deps.locker, cfg.Lock.TTL),
		artifact.WithPublisher(deps.publisher),
		artifact.WithMetrics(collector),
		artifact.WithLogger(logger),
	)

	signer, err := signing.NewSigner([]byte(cfg.Signing.Key))
	if err != nil {
		return err
	}
	urls, err := artifact.NewURLBuilder(cfg.Server.BaseURL, signer, disks,
		artifact.WithDefaultTTL(cfg.Signing.DefaultTTL))
	if err != nil {
		return err
	}

	mw := api.NewMiddleware([]byte(cfg.Auth.JWTSecret), logger)
	defer mw.Stop()
	if err := mw.TrustProxies(cfg.Auth.TrustedProxies...); err != nil {
		return err
	}
	handler := api.NewRouter(
		api.NewHandler(svc, urls, disks, logger, cfg.Server.MaxUploadBytes),
		mw, collector,
		api.Config{StreamRateLimit: cfg.Auth.StreamRateLimit, ServiceName: "artifacts"},
	)

	if path != "" {
		watcher := config.NewConfigWatcher(config.NewFileSource(path), func(evt config.ConfigChangeEvent) {
			reloadSettings(disks, evt.Config.Storage, logger)
		}, config.WithWatchLogger(logger))
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("artifact server listening", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL,
			"default_disk", cfg.Storage.Default, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// reloadSettings swaps the visibility and base URL snapshot. Disks added or
// removed in the file need a restart.
func reloadSettings(disks *disk.Registry, next disk.Settings, logger *slog.Logger) {
	current := disks.Settings()
	for name := range next.Disks {
		if _, ok := current.Disks[name]; !ok {
			logger.Warn("config reload: new disk ignored until restart", "disk", name)
			delete(next.Disks, name)
		}
	}
	for name, cfg := range current.Disks {
		if _, ok := next.Disks[name]; !ok {
			logger.Warn("config reload: removed disk kept until restart", "disk", name)
			next.Disks[name] = cfg
		}
	}
	if _, ok := next.Disks[next.Default]; !ok {
		next.Default = current.Default
	}
	disks.UpdateSettings(next)
	logger.Info("storage settings reloaded", "default_disk", next.Default)
}

func shutdownWithTimeout(logger *slog.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "error", err)
	}
}
