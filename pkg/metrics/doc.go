/*
Package metrics exposes Prometheus instrumentation and process health.

All metrics carry the renderlite_ prefix and are registered at init, so
importing the package is enough to make them scrapeable through Handler.

# Metrics

Platform state (sampled by the Collector every 15s):
  - renderlite_services_total{status}: services by lifecycle status
  - renderlite_queue_depth{queue}: jobs waiting or delayed per queue

Pipeline:
  - renderlite_deployments_total{outcome}: finished deployments
  - renderlite_deployment_duration_seconds: dequeue-to-outcome wall time
  - renderlite_build_duration_seconds: image build time

API:
  - renderlite_api_requests_total{method,status}
  - renderlite_api_request_duration_seconds{method}
  - renderlite_webhooks_total{result}

Reconciler:
  - renderlite_reconcile_cycles_total
  - renderlite_reconcile_duration_seconds
  - renderlite_reconcile_repairs_total{action}

Event bus:
  - renderlite_events_dropped_total: events lost to slow SSE subscribers

# Health

RegisterComponent/UpdateComponent feed a process-wide component registry.
HealthHandler serves liveness (/healthz); ReadyHandler serves readiness
(/readyz) and requires the critical components store, redis, and docker
to be healthy.

# Usage

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeploymentDuration)

	metrics.RegisterComponent("redis", true, "")
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
*/
package metrics
