package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dataset_engine"

// Metrics holds the process collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	staleClaims    *prometheus.CounterVec
	transactions   *prometheus.CounterVec
	extensionCalls *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	ttlDeleted     prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_runs_total", Help: "Pipeline stage runs by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds", Help: "Pipeline stage run duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		staleClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_claims_total", Help: "Working statuses reclaimed by the sweeper.",
		}, []string{"outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "row_transactions_total", Help: "REST row transactions applied.",
		}, []string{"outcome"}),
		extensionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "extension_calls_total", Help: "Remote service batch calls.",
		}, []string{"service", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total", Help: "Query cache lookups.",
		}, []string{"result"}),
		ttlDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ttl_deleted_rows_total", Help: "Rows removed by the TTL sweep.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency, m.stageRuns, m.stageDuration, m.staleClaims,
		m.transactions, m.extensionCalls, m.cacheLookups, m.ttlDeleted,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome(err)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StaleClaim counts a sweeper decision: "rewound" or "failed".
func (m *Metrics) StaleClaim(result string) {
	if m == nil {
		return
	}
	m.staleClaims.WithLabelValues(result).Inc()
}

func (m *Metrics) Transactions(ok, failed int) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues("ok").Add(float64(ok))
	m.transactions.WithLabelValues("error").Add(float64(failed))
}

func (m *Metrics) ExtensionCall(service string, err error) {
	if m == nil {
		return
	}
	m.extensionCalls.WithLabelValues(service, outcome(err)).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) TTLDeleted(n int) {
	if m == nil {
		return
	}
	m.ttlDeleted.Add(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
