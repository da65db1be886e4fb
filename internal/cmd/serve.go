package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Wikid82/warden/internal/api/routes"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/server"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/version"
)

const hydrateRetryInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context) error {
	logger.Log().WithField("version", version.Full()).Info("starting warden")

	c, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Log().WithError(err).Warn("close database")
		}
	}()

	// The gate answers 503 until this succeeds, so keep trying rather than
	// refusing to start when the store is briefly unreachable.
	go hydrateUntilReady(ctx, c.admin)

	reconciler := services.NewReconciler(c.admin, cfg.Security.ReconcileSchedule)
	if err := reconciler.Start(); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer reconciler.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	srv := server.New(routes.Deps{
		Config:     cfg,
		Cache:      c.cache,
		Admin:      c.admin,
		Ledger:     c.ledger,
		Guard:      c.guard,
		Privileges: c.privileges,
		Registry:   reg,
	})
	return srv.Run(ctx)
}

func hydrateUntilReady(ctx context.Context, admin *services.BlockAdmin) {
	for {
		n, err := admin.Hydrate(ctx)
		if err == nil {
			logger.Log().WithField("blocks", n).Info("block cache hydrated")
			return
		}
		logger.Log().WithError(err).Warn("block cache hydration failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(hydrateRetryInterval):
		}
	}
}
