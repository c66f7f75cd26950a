package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ga4u/internal/pubsub"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ga4u",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ga4u",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 5},
		},
		[]string{"method", "route"},
	)

	// Bus events by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ga4u",
			Subsystem: "chat",
			Name:      "events_total",
			Help:      "Messaging events published on the bus",
		},
		[]string{"kind"},
	)

	OnlineClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ga4u",
			Subsystem: "chat",
			Name:      "websocket_clients",
			Help:      "Websocket clients connected to this instance",
		},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ga4u",
			Subsystem: "worker",
			Name:      "reconcile_total",
			Help:      "Legacy reconcile task runs",
		},
		[]string{"status"},
	)

	ReconciledMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ga4u",
			Subsystem: "worker",
			Name:      "reconciled_messages_total",
			Help:      "Legacy messages copied into the unified tables",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ga4u",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveEvent is a bus subscriber counting events by kind.
func ObserveEvent(_ context.Context, e pubsub.Event) {
	EventsTotal.WithLabelValues(string(e.Kind)).Inc()
}

func SetOnlineClients(n int) {
	OnlineClients.Set(float64(n))
}

// RecordReconcile records one reconcile run and the messages it copied.
func RecordReconcile(copied int, err error) {
	if err != nil {
		ReconcileTotal.WithLabelValues("error").Inc()
		return
	}
	ReconcileTotal.WithLabelValues("ok").Inc()
	ReconciledMessages.Add(float64(copied))
}

func RecordCacheHit(cache string, n int) {
	CacheLookups.WithLabelValues(cache, "hit").Add(float64(n))
}

func RecordCacheMiss(cache string, n int) {
	CacheLookups.WithLabelValues(cache, "miss").Add(float64(n))
}
