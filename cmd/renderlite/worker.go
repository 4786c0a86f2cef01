package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/pipeline"
	"github.com/renderlite/renderlite/pkg/runtime"
	"github.com/renderlite/renderlite/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a deployment worker process",
	Long: `Run a worker process that consumes the build and rollback queues
and drives deployments through the pipeline: clone, detect, build,
run, health check, traffic swap.

Workers hold no state of their own. Run several against the same
Redis to raise deployment throughput; each job is claimed by exactly
one of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		fmt.Println("Starting RenderLite worker...")
		fmt.Printf("  Concurrency: %d\n", cfg.QueueConcurrency)
		fmt.Printf("  Work Directory: %s\n", cfg.WorkDir)
		fmt.Printf("  Ops Address: %s\n", cfg.WorkerListenAddr)
		fmt.Println()

		return runWorker(cfg)
	},
}

func runWorker(cfg *config.Config) error {
	logger := log.WithComponent("worker")

	c, err := openCore(cfg)
	if err != nil {
		return err
	}
	defer c.close()
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("redis", true, "")

	// Unlike the server, a worker is useless without Docker.
	rt, err := runtime.NewDockerRuntime(cfg.DockerNetwork)
	if err != nil {
		return fmt.Errorf("failed to create docker runtime: %v", err)
	}
	defer rt.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rt.Ping(pingCtx); err != nil {
		cancel()
		return fmt.Errorf("docker daemon unreachable: %v", err)
	}
	cancel()
	metrics.RegisterComponent("docker", true, "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(c.st, rt, c.bus, cfg)
	w := worker.New(c.q, p, c.st, c.bus, c.sec, cfg)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %v", err)
	}

	// Deployment timings are observed in this process, not the API server,
	// so the worker exposes its own scrape and health endpoints.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	ops := &http.Server{
		Addr:              cfg.WorkerListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Ops listener failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.QueueConcurrency).
		Str("ops_addr", cfg.WorkerListenAddr).
		Str("version", Version).
		Msg("Worker started")

	<-ctx.Done()

	fmt.Println("\nShutting down worker...")

	// Stop blocks until in-flight deployments finish or fail; jobs still
	// queued stay in Redis for the next worker.
	w.Stop()

	drainCtx, drain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drain()
	return ops.Shutdown(drainCtx)
}
