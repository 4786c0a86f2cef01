/*
Package events carries realtime deployment and service telemetry from the
worker process to API subscribers.

Workers and the API server share no memory, so every event crosses a single
Redis pub/sub channel. The hub holds the one subscription per API process
and re-emits envelopes into local topic rooms; REST/SSE handlers attach to
rooms and stream to clients.

# Architecture

	┌─────────────────── WORKER PROCESS ───────────────────┐
	│                                                       │
	│  pipeline ──► Bus.DeploymentLog / DeploymentStatus    │
	│  sampler  ──► Bus.ServiceMetrics / ServiceStatus      │
	│                        │                              │
	└────────────────────────┼──────────────────────────────┘
	                         ▼
	          Redis channel renderlite:realtime:events
	                         │
	┌────────────────────────┼──────────────────────────────┐
	│                        ▼                              │
	│  Hub (single subscriber)                              │
	│    ├── room "deployment:<id>" ──► SSE log stream      │
	│    ├── room "service:<id>"    ──► SSE status/metrics  │
	│    └── room "user:<id>"       ──► notifications       │
	│                                                       │
	└─────────────────── API PROCESS ───────────────────────┘

# Core Components

Bus wraps typed payloads in an Event envelope and publishes them. The
emitter helpers are fire-and-forget: the store is authoritative for
outcomes, so a publish failure is logged and dropped rather than failing
the deployment that produced it.

Hub fans incoming envelopes out to per-topic rooms. Within one topic,
subscribers observe events in publication order. Each subscription buffers
64 events; a consumer that falls further behind loses events instead of
stalling the loop. Clients recover missed deployment logs from the
persisted row.

Sampler polls the hub's subscriber set every 5 seconds and samples
container stats for each subscribed service. When the runtime reports the
container gone, the sampler demotes the service to STOPPED, clears its
container pointer, and emits the transition.

# Usage

	bus := events.NewBus(rdb)
	bus.DeploymentStatus(ctx, depID, types.DeploymentStatusBuilding, nil)

	hub := events.NewHub(rdb)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	sub := hub.Subscribe(events.DeploymentTopic(depID))
	defer hub.Unsubscribe(sub)
	for ev := range sub.C {
		// forward to the client
	}
*/
package events
