package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/types"
)

// DefaultSampleInterval is how often subscribed services are sampled.
const DefaultSampleInterval = 5 * time.Second

// ServiceStore is the slice of persistence the sampler needs.
type ServiceStore interface {
	GetService(ctx context.Context, id string) (*types.Service, error)
	SetServiceContainer(ctx context.Context, id string, status types.ServiceStatus, containerID *string) error
}

// StatsSource reports one-shot resource usage for a container.
type StatsSource interface {
	Stats(ctx context.Context, containerID string) (*types.ContainerStats, error)
}

// Sampler periodically samples container stats for every service that has
// a live subscriber and publishes them as service metrics events. A sample
// that hits a vanished container demotes the service to STOPPED, clears
// its container pointer, and announces the transition; the cleared pointer
// keeps later ticks from re-sampling until a new deploy sets one.
type Sampler struct {
	hub      *Hub
	bus      *Bus
	store    ServiceStore
	source   StatsSource
	interval time.Duration
	logger   zerolog.Logger

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewSampler wires a sampler to the hub's subscriber set. A non-positive
// interval falls back to DefaultSampleInterval.
func NewSampler(hub *Hub, bus *Bus, store ServiceStore, source StatsSource, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		hub:      hub,
		bus:      bus,
		store:    store,
		source:   source,
		interval: interval,
		logger:   log.WithComponent("sampler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sampling loop.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Dur("interval", s.interval).Msg("Metrics sampler started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Sampler) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info().Msg("Metrics sampler stopped")
	})
}

func (s *Sampler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sample(context.Background())
		}
	}
}

// sample takes one pass over the subscribed services.
func (s *Sampler) sample(ctx context.Context) {
	for _, id := range s.hub.SubscribedServiceIDs() {
		s.sampleService(ctx, id)
	}
}

func (s *Sampler) sampleService(ctx context.Context, id string) {
	svc, err := s.store.GetService(ctx, id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			s.logger.Warn().Err(err).Str("service_id", id).Msg("Failed to load service for sampling")
		}
		return
	}
	if svc.ContainerID == nil {
		return
	}

	stats, err := s.source.Stats(ctx, *svc.ContainerID)
	if err != nil {
		if errdefs.IsIntegrity(err) {
			s.markStopped(ctx, id)
			return
		}
		s.logger.Warn().Err(err).Str("service_id", id).Msg("Failed to sample container stats")
		return
	}

	s.bus.ServiceMetrics(ctx, id, *stats)
}

// markStopped records that the service's container is gone and announces
// the new status.
func (s *Sampler) markStopped(ctx context.Context, id string) {
	if err := s.store.SetServiceContainer(ctx, id, types.ServiceStatusStopped, nil); err != nil {
		s.logger.Error().Err(err).Str("service_id", id).Msg("Failed to mark service stopped")
		return
	}
	s.logger.Info().Str("service_id", id).Msg("Container vanished, service marked stopped")
	s.bus.ServiceStatus(ctx, id, types.ServiceStatusStopped)
}
