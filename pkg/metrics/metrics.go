package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SSH pool metrics
	SSHPoolClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firecrest_ssh_pool_clients",
			Help: "Live SSH connections per cluster",
		},
		[]string{"cluster"},
	)

	SSHCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_ssh_commands_total",
			Help: "Commands executed over SSH by cluster and outcome",
		},
		[]string{"cluster", "outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_api_requests_total",
			Help: "Total number of API requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firecrest_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Scheduler backend metrics
	SchedulerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_scheduler_calls_total",
			Help: "Scheduler backend calls by cluster, operation and outcome",
		},
		[]string{"cluster", "operation", "outcome"},
	)

	// Health probing metrics
	HealthCheckHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firecrest_health_check_healthy",
			Help: "Latest health check result (1 = healthy, 0 = unhealthy)",
		},
		[]string{"target", "check"},
	)

	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firecrest_health_check_duration_seconds",
			Help:    "Health check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target", "check"},
	)

	// Transfer metrics
	TransferJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_transfer_jobs_total",
			Help: "Submitted transfer jobs by cluster, method and direction",
		},
		[]string{"cluster", "method", "direction"},
	)
)

func init() {
	prometheus.MustRegister(
		SSHPoolClients,
		SSHCommandsTotal,
		APIRequestsTotal,
		APIRequestDuration,
		SchedulerCallsTotal,
		HealthCheckHealthy,
		HealthCheckDuration,
		TransferJobsTotal,
	)
}

// SetSSHPoolSize records the number of live clients in one cluster's pool.
func SetSSHPoolSize(cluster string, size int) {
	SSHPoolClients.WithLabelValues(cluster).Set(float64(size))
}

// ObserveHealthCheck records the outcome and duration of one probe.
func ObserveHealthCheck(target, check string, healthy bool, seconds float64) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	HealthCheckHealthy.WithLabelValues(target, check).Set(value)
	HealthCheckDuration.WithLabelValues(target, check).Observe(seconds)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
