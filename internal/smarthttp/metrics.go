package smarthttp

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// wireMetrics instruments the protocol endpoints. Labels use the git
// service name where one applies ("upload-pack", "receive-pack") so
// fetch and push traffic can be told apart on a dashboard.
type wireMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	inflight  prometheus.Gauge
}

var (
	wireMetricsOnce sync.Once
	wireMetricsInst *wireMetrics
)

func defaultWireMetrics() *wireMetrics {
	wireMetricsOnce.Do(func() {
		wireMetricsInst = newWireMetrics(prometheus.DefaultRegisterer)
	})
	return wireMetricsInst
}

func newWireMetrics(reg prometheus.Registerer) *wireMetrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "gitforge", Subsystem: "http", Name: name, Help: help}
	}
	m := &wireMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("requests_total", "HTTP requests handled, by route and status class.")),
			[]string{"route", "status_class"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gitforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request latency. Pack transfers stream, so upload/receive buckets run long.",
			Buckets:   []float64{.01, .05, .25, 1, 5, 15, 60, 300},
		}, []string{"route", "status_class"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts(
			opts("requests_in_flight", "Requests currently being served."))),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.durations, m.inflight)
	}
	return m
}

func requestMetricsMiddleware(m *wireMetrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The scrape itself stays out of the numbers.
		if r.URL != nil && r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route, class := routeLabel(r), statusClass(rec.status)
		m.requests.WithLabelValues(route, class).Inc()
		m.durations.WithLabelValues(route, class).Observe(time.Since(start).Seconds())
	})
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// routeLabel keeps label cardinality bounded: the registered mux
// pattern when the request matched one, a coarse bucket otherwise.
func routeLabel(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "unknown"
	}
	if pat := strings.TrimSpace(r.Pattern); pat != "" {
		if _, route, ok := strings.Cut(pat, " "); ok {
			return strings.TrimSpace(route)
		}
		return pat
	}
	if strings.HasPrefix(r.URL.Path, "/git/") {
		return "/git/*"
	}
	return "unmatched"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
