package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/types"
)

// Store is the persistence slice the reconciler sweeps.
type Store interface {
	ListServices(ctx context.Context) ([]*types.Service, error)
	ListServicesWithContainer(ctx context.Context) ([]*types.Service, error)
	ListFailedServicesBefore(ctx context.Context, cutoff time.Time) ([]*types.Service, error)
	SetServiceContainer(ctx context.Context, id string, status types.ServiceStatus, containerID *string) error
	TrimDeployments(ctx context.Context, serviceID string, keep int) (int64, error)
}

// Runtime is the container-runtime slice the reconciler inspects.
type Runtime interface {
	IsRunning(ctx context.Context, id string) (bool, error)
	RemoveContainer(ctx context.Context, id string) error
	ReapExited(ctx context.Context) (int, error)
}

// Publisher announces repairs to event subscribers.
type Publisher interface {
	ServiceStatus(ctx context.Context, serviceID string, status types.ServiceStatus)
}

// Reconciler converges recorded state with what the runtime actually
// holds. It is advisory: container names are owned deterministically by
// the pipeline, and the reconciler only demotes rows or removes
// containers in terminal runtime states, so it never races an active
// deployment into a broken state.
type Reconciler struct {
	store   Store
	runtime Runtime
	bus     Publisher
	logger  zerolog.Logger

	interval   time.Duration
	startDelay time.Duration
	retention  int
	failedTTL  time.Duration

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New builds a reconciler with the sweep policy from cfg.
func New(st Store, rt Runtime, bus Publisher, cfg *config.Config) *Reconciler {
	return &Reconciler{
		store:      st,
		runtime:    rt,
		bus:        bus,
		logger:     log.WithComponent("reconciler"),
		interval:   cfg.ReconcileInterval,
		startDelay: cfg.ReconcileStartDelay,
		retention:  cfg.DeploymentRetention,
		failedTTL:  cfg.FailedContainerTTL,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop: one pass shortly after startup, then one
// per interval.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	select {
	case <-time.After(r.startDelay):
	case <-r.stopCh:
		return
	}
	r.reconcile(context.Background())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one full sweep. Each phase logs and continues on
// per-item errors; a second pass with no external change performs no
// writes.
func (r *Reconciler) reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.repairDrift(ctx)
	r.reapExited(ctx)
	r.trimHistory(ctx)
	r.reapFailed(ctx)
}

// repairDrift demotes RUNNING services whose container is gone or no
// longer running. Services in other states are left to their owners: a
// DEPLOYING row belongs to an active pipeline.
func (r *Reconciler) repairDrift(ctx context.Context) {
	services, err := r.store.ListServicesWithContainer(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list services for drift check")
		return
	}

	for _, svc := range services {
		if svc.Status != types.ServiceStatusRunning {
			continue
		}
		running, err := r.runtime.IsRunning(ctx, *svc.ContainerID)
		if err != nil {
			// Runtime trouble is not drift; never demote on it.
			r.logger.Warn().Err(err).
				Str("service_id", svc.ID).
				Msg("Could not inspect container during drift check")
			continue
		}
		if running {
			continue
		}

		if err := r.store.SetServiceContainer(ctx, svc.ID, types.ServiceStatusStopped, nil); err != nil {
			r.logger.Error().Err(err).
				Str("service_id", svc.ID).
				Msg("Failed to record drift")
			continue
		}
		r.bus.ServiceStatus(ctx, svc.ID, types.ServiceStatusStopped)
		metrics.ReconcileRepairsTotal.WithLabelValues("drift").Inc()
		r.logger.Info().
			Str("service_id", svc.ID).
			Str("subdomain", svc.Subdomain).
			Msg("Service container vanished, marked STOPPED")
	}
}

func (r *Reconciler) reapExited(ctx context.Context) {
	n, err := r.runtime.ReapExited(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to reap exited containers")
		return
	}
	if n > 0 {
		metrics.ReconcileRepairsTotal.WithLabelValues("reap_exited").Add(float64(n))
		r.logger.Info().Int("count", n).Msg("Reaped exited containers")
	}
}

// trimHistory keeps the most recent deployment rows per service. Images
// are not untagged here.
func (r *Reconciler) trimHistory(ctx context.Context) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list services for history trim")
		return
	}

	for _, svc := range services {
		n, err := r.store.TrimDeployments(ctx, svc.ID, r.retention)
		if err != nil {
			r.logger.Error().Err(err).
				Str("service_id", svc.ID).
				Msg("Failed to trim deployment history")
			continue
		}
		if n > 0 {
			metrics.ReconcileRepairsTotal.WithLabelValues("trim").Add(float64(n))
			r.logger.Debug().
				Str("service_id", svc.ID).
				Int64("removed", n).
				Msg("Trimmed deployment history")
		}
	}
}

// reapFailed removes containers still held by services that have sat in
// FAILED longer than the TTL. The row stays FAILED; only the container
// pointer is cleared.
func (r *Reconciler) reapFailed(ctx context.Context) {
	cutoff := time.Now().Add(-r.failedTTL)
	services, err := r.store.ListFailedServicesBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list stale failed services")
		return
	}

	for _, svc := range services {
		if err := r.runtime.RemoveContainer(ctx, *svc.ContainerID); err != nil {
			r.logger.Warn().Err(err).
				Str("service_id", svc.ID).
				Msg("Failed to remove container of failed service")
			continue
		}
		if err := r.store.SetServiceContainer(ctx, svc.ID, types.ServiceStatusFailed, nil); err != nil {
			r.logger.Error().Err(err).
				Str("service_id", svc.ID).
				Msg("Failed to clear container pointer")
			continue
		}
		metrics.ReconcileRepairsTotal.WithLabelValues("reap_failed").Inc()
		r.logger.Info().
			Str("service_id", svc.ID).
			Str("subdomain", svc.Subdomain).
			Msg("Reaped container of stale failed service")
	}
}
