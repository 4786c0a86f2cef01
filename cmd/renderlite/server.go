package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/renderlite/renderlite/pkg/api"
	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/events"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/manager"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/reconciler"
	"github.com/renderlite/renderlite/pkg/runtime"
)

// shutdownTimeout bounds the drain of open HTTP requests. SSE streams
// are cut at the deadline; everything else finishes normally.
const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the API server process",
	Long: `Run the control-plane process: the REST/SSE API, the realtime hub,
the metrics sampler, and the reconciliation sweeps.

Builds never run here. The server enqueues deployment jobs and at least
one "renderlite worker" process must be running to consume them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		fmt.Println("Starting RenderLite server...")
		fmt.Printf("  Listen Address: %s\n", cfg.ListenAddr)
		fmt.Printf("  Base Domain: %s\n", cfg.BaseDomain)
		fmt.Printf("  Database: %s\n", cfg.DatabasePath)
		fmt.Println()

		return runServer(cfg)
	},
}

func runServer(cfg *config.Config) error {
	logger := log.WithComponent("server")

	c, err := openCore(cfg)
	if err != nil {
		return err
	}
	defer c.close()
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("redis", true, "")

	// The API can serve reads without Docker, so an unreachable daemon
	// degrades readiness instead of aborting startup.
	rt, err := runtime.NewDockerRuntime(cfg.DockerNetwork)
	if err != nil {
		return fmt.Errorf("failed to create docker runtime: %v", err)
	}
	defer rt.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rt.Ping(pingCtx); err != nil {
		metrics.RegisterComponent("docker", false, err.Error())
		logger.Warn().Err(err).Msg("Docker daemon unreachable, stats and reconciliation degraded")
	} else {
		metrics.RegisterComponent("docker", true, "")
	}
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(c.rdb)
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %v", err)
	}

	sampler := events.NewSampler(hub, c.bus, c.st, rt, cfg.MetricsInterval)
	sampler.Start()

	collector := metrics.NewCollector(c.st, c.q, queue.QueueBuild, queue.QueueRollback)
	collector.Start()

	rec := reconciler.New(c.st, rt, c.bus, cfg)
	rec.Start()

	mgr := manager.New(c.st, c.q, c.sec, c.bus)
	srv := api.NewServer(mgr, hub, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		// Stop the hub first: Shutdown waits for in-flight requests, and
		// open SSE streams only end once their subscriptions close.
		hub.Stop()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("base_domain", cfg.BaseDomain).
		Str("version", Version).
		Msg("Server started")

	err = g.Wait()

	fmt.Println("\nShutting down server...")

	rec.Stop()
	collector.Stop()
	sampler.Stop()
	hub.Stop() // no-op unless Start failed before the drain ran
	return err
}
