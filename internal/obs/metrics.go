package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Workflow metrics.
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Workflow transition attempts by family, event and outcome.",
		},
		[]string{"family", "event", "outcome"},
	)

	notificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Notifications created by the dispatcher.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		readyGauge,
		transitionsTotal,
		notificationsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects readiness into the service_ready gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveTransition counts one workflow apply attempt.
// Outcome is "ok" or the error kind (forbidden, illegal_transition, ...).
func ObserveTransition(family, event, outcome string) {
	transitionsTotal.WithLabelValues(family, event, outcome).Inc()
}

// ObserveNotification counts one created notification row.
func ObserveNotification() {
	notificationsTotal.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays
// bounded. Unknown paths pass through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "items":
		// /v1/items/:family[/:id[/events]]
		out := []string{"v1", "items", parts[2]}
		if len(parts) >= 4 {
			out = append(out, ":id")
		}
		if len(parts) >= 5 {
			out = append(out, parts[4:]...)
		}
		return "/" + strings.Join(out, "/")
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "notifications":
		out := []string{"v1", "notifications", ":id"}
		out = append(out, parts[3:]...)
		return "/" + strings.Join(out, "/")
	case len(parts) >= 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "actors":
		out := []string{"v1", "admin", "actors", ":id"}
		if len(parts) >= 5 {
			out = append(out, parts[4])
		}
		if len(parts) >= 6 {
			out = append(out, ":key")
		}
		return "/" + strings.Join(out, "/")
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "bindings":
		return "/v1/admin/bindings/:area"
	}
	return p
}

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
