package metrics

import (
	"context"
	"time"

	"github.com/renderlite/renderlite/pkg/types"
)

// collectInterval is how often the collector samples platform state.
const collectInterval = 15 * time.Second

// ServiceLister is the store slice the collector reads.
type ServiceLister interface {
	ListServices(ctx context.Context) ([]*types.Service, error)
}

// DepthReader reports pending jobs per queue.
type DepthReader interface {
	Depth(ctx context.Context, queueName string) (int64, error)
}

// Collector periodically samples service counts and queue depths into the
// platform gauges.
type Collector struct {
	store  ServiceLister
	q      DepthReader
	queues []string
	stopCh chan struct{}
}

// NewCollector creates a collector over the given queues.
func NewCollector(store ServiceLister, q DepthReader, queues ...string) *Collector {
	return &Collector{
		store:  store,
		q:      q,
		queues: queues,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectServiceMetrics(ctx)
	c.collectQueueMetrics(ctx)
}

func (c *Collector) collectServiceMetrics(ctx context.Context) {
	services, err := c.store.ListServices(ctx)
	if err != nil {
		return
	}

	counts := map[types.ServiceStatus]int{
		types.ServiceStatusCreated:   0,
		types.ServiceStatusDeploying: 0,
		types.ServiceStatusRunning:   0,
		types.ServiceStatusStopped:   0,
		types.ServiceStatusFailed:    0,
	}
	for _, svc := range services {
		counts[svc.Status]++
	}
	for status, count := range counts {
		ServicesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	for _, name := range c.queues {
		depth, err := c.q.Depth(ctx, name)
		if err != nil {
			continue
		}
		QueueDepth.WithLabelValues(name).Set(float64(depth))
	}
}
