package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Monitoring metrics
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_monitor_checks_total",
			Help: "Total number of health checks by service type and result",
		},
		[]string{"service_type", "result"},
	)

	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dynadns_monitor_check_duration_seconds",
			Help:    "Health check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service_type"},
	)

	CheckTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_monitor_check_timeouts_total",
			Help: "Checks abandoned by the engine after exceeding their timeout",
		},
		[]string{"service_type"},
	)

	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_monitor_transitions_total",
			Help: "Published endpoint state changes by service type and new state",
		},
		[]string{"service_type", "state"},
	)

	EndpointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynadns_endpoints",
			Help: "Monitored endpoints by service type and published state",
		},
		[]string{"service_type", "state"},
	)

	// Resolution metrics
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_resolve_total",
			Help: "Dynamic resolutions by plugin and resulting state",
		},
		[]string{"plugin", "state"},
	)

	ResolveFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_resolve_fallbacks_total",
			Help: "Resolutions that failed internally and answered sentinel data",
		},
		[]string{"plugin"},
	)

	MapErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_map_errors_total",
			Help: "Failed resource mappings by plugin",
		},
		[]string{"plugin"},
	)

	// DNS metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_queries_total",
			Help: "DNS queries by query type and response code",
		},
		[]string{"qtype", "rcode"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynadns_query_duration_seconds",
			Help:    "Time to answer a DNS query in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	ZoneReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynadns_zone_reloads_total",
			Help: "Zone load attempts by result",
		},
		[]string{"result"},
	)

	ZoneReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dynadns_zone_reconcile_duration_seconds",
			Help:    "Time spent checking and reloading zone files in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(CheckDuration)
	prometheus.MustRegister(CheckTimeouts)
	prometheus.MustRegister(StateTransitions)
	prometheus.MustRegister(EndpointsTotal)
	prometheus.MustRegister(ResolveTotal)
	prometheus.MustRegister(ResolveFallbacks)
	prometheus.MustRegister(MapErrors)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(ZoneReloads)
	prometheus.MustRegister(ZoneReconcileDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
