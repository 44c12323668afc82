package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/config"
	"github.com/marmos91/dittodrop/pkg/content"
	"github.com/marmos91/dittodrop/pkg/eviction"
	"github.com/marmos91/dittodrop/pkg/gc"
	"github.com/marmos91/dittodrop/pkg/server"
	"github.com/spf13/cobra"
)

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the dittodrop server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Logging.Level != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("dittodrop %s starting", version)
	logger.Info("Expiration: %v, erase on read: %t", cfg.Content.Expiration, cfg.Content.EraseOnRead)

	m := config.InitializeMetrics(cfg)

	metaStore, err := config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		return err
	}
	defer func() {
		if err := metaStore.Close(); err != nil {
			logger.Warn("Error closing metadata store: %v", err)
		}
	}()

	blobStore, err := config.CreateBlobStore(ctx, &cfg.Blob)
	if err != nil {
		return err
	}
	defer func() {
		if err := blobStore.Close(); err != nil {
			logger.Warn("Error closing blob store: %v", err)
		}
	}()

	svc := content.New(metaStore, blobStore, cfg.Content, m.Content)
	coordinator := eviction.New(metaStore, blobStore, cfg.Eviction, m.Eviction)

	opts := server.Options{ShutdownTimeout: cfg.Server.ShutdownTimeout}
	if cfg.GC.Enabled {
		opts.Sweeper = gc.NewCollector(metaStore, blobStore, coordinator, cfg.GC, m.Eviction)
		logger.Info("Reconciliation sweep enabled: interval=%v, dry_run=%t", cfg.GC.Interval, cfg.GC.DryRun)
	}
	if m.Server != nil {
		opts.Metrics = m.Server
	}

	srv := server.New(svc, metaStore, coordinator, opts)

	adapters, err := config.CreateAdapters(cfg, m.HTTP)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	serveErr := srv.Serve(ctx)

	// Pending erase triggers need the metadata store, which closes on return.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svc.Drain(drainCtx); err != nil {
		logger.Warn("Erase triggers still pending at shutdown: %v", err)
	}

	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}
