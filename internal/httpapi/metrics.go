package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsSet is the process's prometheus instrumentation, grounded on the
// teacher's internal/interfaces/http metrics wiring: a handful of counters
// and histograms registered once at server construction, exposed on
// /metrics. When disabled, handler serves an empty 200 rather than nil.
type metricsSet struct {
	enabled       bool
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec
	ingestTotal   prometheus.Counter
	wsConnections prometheus.Gauge
}

func newMetricsSet(enabled bool) *metricsSet {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metricsSet{
		enabled:  enabled,
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_http_requests_total",
			Help: "Total HTTP requests by path and status class.",
		}, []string{"path", "status"}),
		requestDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spreadwatch_http_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		ingestTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spreadwatch_ingest_total",
			Help: "Total samples accepted through /api/ingest/spread.",
		}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spreadwatch_ws_connections",
			Help: "Current WebSocket subscriber count across all pairs.",
		}),
	}
}

func (m *metricsSet) handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// metricsMiddleware records per-path request counts and latency. It runs
// first in the chain so it also sees responses short-circuited by later
// middleware (e.g. CORS preflight).
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.metrics.enabled {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		statusClass := statusClassOf(rw.statusCode)
		s.metrics.requestsTotal.WithLabelValues(r.URL.Path, statusClass).Inc()
		s.metrics.requestDur.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func statusClassOf(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
