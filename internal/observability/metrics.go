package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total number of HTTP requests processed by the API server.",
		},
		[]string{"method", "route", "status"},
	)
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_operations_total",
			Help: "Total number of query and mutation invocations.",
		},
		[]string{"name", "kind", "code"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_operation_duration_seconds",
			Help:    "Query and mutation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)
	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_live_connections",
			Help: "Number of open live subscription connections.",
		},
	)
	livePushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_live_pushes_total",
			Help: "Total number of subscription results pushed to clients.",
		},
	)
	liveEvaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_live_evaluations_total",
			Help: "Total number of subscription query evaluations.",
		},
	)
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_webhook_events_total",
			Help: "Total number of identity webhook deliveries.",
		},
		[]string{"type", "outcome"},
	)
	sweepRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_sweep_removed_total",
			Help: "Total number of records changed by background sweeps.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		operationsTotal,
		operationDuration,
		liveConnections,
		livePushesTotal,
		liveEvaluationsTotal,
		webhookEventsTotal,
		sweepRemovedTotal,
	)
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMetrics counts requests served by next under the route label.
// Upgraded websocket requests are not wrapped since the hijacker must stay
// reachable.
func HTTPMetrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

func ObserveOperation(name, kind, code string, elapsed time.Duration) {
	if code == "" {
		code = "OK"
	}
	operationsTotal.WithLabelValues(name, kind, code).Inc()
	operationDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func IncLiveConnections() {
	liveConnections.Inc()
}

func DecLiveConnections() {
	liveConnections.Dec()
}

func IncLivePush() {
	livePushesTotal.Inc()
}

func IncLiveEvaluation() {
	liveEvaluationsTotal.Inc()
}

func WebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func AddSweepRemoved(kind string, n int) {
	if n <= 0 {
		return
	}
	sweepRemovedTotal.WithLabelValues(kind).Add(float64(n))
}
