// Command jolt-verifierd accepts chunked setup and proof uploads over HTTP,
// stores them per program and verifies proofs on request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flyq/jolt-verifier-canister/daemon/api/server"
	"github.com/flyq/jolt-verifier-canister/daemon/config"
	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/daemon/service"
	"github.com/flyq/jolt-verifier-canister/internal/observability"
	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

const (
	serviceName = "jolt-verifierd"
	version     = "0.1.0"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Jolt proof verifier daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", os.Getenv("JV_CONFIG"), "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(serviceName, version, os.Stdout).WithLevel(cfg.Log.Level)
	logger.Info("Jolt verifier daemon starting...")
	logger.Debug(fmt.Sprintf("Config: store=%s path=%s owner_db=%s max_chunk_size=%d pending_ttl=%s curve=%s",
		cfg.Store.Backend, cfg.Store.Path, cfg.OwnerDBPath, cfg.MaxChunkSize, cfg.PendingTTL, cfg.Curve))

	shutdownTracing, err := observability.InitTracing(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	curve, err := zk.ParseCurve(cfg.Curve)
	if err != nil {
		return err
	}
	backend := zk.NewGroth16(curve)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	objects, err := openObjectStore(cfg, backend)
	if err != nil {
		return err
	}
	defer objects.Close()
	logger.Info(fmt.Sprintf("Object store initialized (%s)", cfg.Store.Backend))

	if err := os.MkdirAll(filepath.Dir(cfg.OwnerDBPath), 0o755); err != nil {
		return fmt.Errorf("create owner db dir: %w", err)
	}
	configStore, err := manager.OpenConfigStore(cfg.OwnerDBPath)
	if err != nil {
		return err
	}
	defer configStore.Close()

	if cfg.InitOwner != "" {
		seeded, err := configStore.SeedOwner(cfg.InitOwner)
		if err != nil {
			return err
		}
		if seeded {
			logger.Info(fmt.Sprintf("Owner seeded as %s", cfg.InitOwner))
		}
	}

	metrics := observability.NewMetrics(nil)
	pending := manager.NewPendingBuffer(cfg.MaxChunkSize)

	svc, err := service.NewVerifierService(service.Options{
		Pending: pending,
		Objects: objects,
		Owners:  configStore,
		Audit:   configStore,
		Backend: backend,
		Events:  service.NewEventPublisher(cfg.EventBufferSize),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  observability.Tracer(),
	})
	if err != nil {
		return err
	}

	healthChecker := observability.NewHealthChecker(version)
	healthChecker.RegisterCheck("object_store", observability.PingCheck("object store", objects.Ping, 500*time.Millisecond))
	healthChecker.RegisterCheck("config_store", observability.PingCheck("config store", configStore.Ping, 500*time.Millisecond))
	healthChecker.RegisterCheck("pending", observability.PendingCheck(func() (int, int64) {
		st := svc.PendingStatus()
		return st.Chunks, st.Bytes
	}, 64*int64(cfg.MaxChunkSize)))

	api := server.NewAPI(svc, server.Options{
		MaxChunkSize:      cfg.MaxChunkSize,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
		Logger:            logger,
		Metrics:           metrics,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(fmt.Sprintf("REST API listening on %s", cfg.HTTPAddress))
		return server.ServeHTTP(ctx, cfg.HTTPAddress, api.Handler())
	})
	if cfg.GRPCAddress != "" {
		grpcServer, grpcHealth := server.NewGRPCServer(logger)
		g.Go(func() error {
			logger.Info(fmt.Sprintf("gRPC health listening on %s", cfg.GRPCAddress))
			return server.ServeGRPC(ctx, cfg.GRPCAddress, grpcServer, grpcHealth)
		})
	}
	if cfg.ObservabilityAddress != "" {
		g.Go(func() error {
			logger.Info(fmt.Sprintf("Metrics and health listening on %s", cfg.ObservabilityAddress))
			return server.ServeHTTP(ctx, cfg.ObservabilityAddress, server.ObservabilityHandler(metrics, healthChecker))
		})
	}
	if cfg.PendingTTL > 0 {
		g.Go(func() error {
			return svc.RunPendingSweeper(ctx, cfg.PendingTTL, cfg.PendingSweepInterval)
		})
	}

	logger.Info("Jolt verifier daemon ready")
	err = g.Wait()
	logger.Info("Shutting down...")
	return err
}

func openObjectStore(cfg *config.Config, codec zk.Codec) (manager.ObjectStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return manager.NewMemoryObjectStore(), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		return manager.OpenBoltObjectStore(cfg.Store.Path, codec)
	}
}
