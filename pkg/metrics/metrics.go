package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Platform state
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "renderlite_services_total",
			Help: "Number of services by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "renderlite_queue_depth",
			Help: "Jobs waiting or delayed per queue",
		},
		[]string{"queue"},
	)

	// Pipeline metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderlite_deployments_total",
			Help: "Finished deployments by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renderlite_deployment_duration_seconds",
			Help:    "Wall time of a deployment from dequeue to outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renderlite_build_duration_seconds",
			Help:    "Image build duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderlite_api_requests_total",
			Help: "API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderlite_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderlite_webhooks_total",
			Help: "Webhook deliveries by result",
		},
		[]string{"result"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "renderlite_reconcile_cycles_total",
			Help: "Completed reconciliation cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renderlite_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderlite_reconcile_repairs_total",
			Help: "Reconciler repairs by action",
		},
		[]string{"action"},
	)

	// Event bus metrics
	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "renderlite_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(WebhooksTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileRepairsTotal)
	prometheus.MustRegister(EventsDroppedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
