package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tableside",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tableside",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tableside",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pointsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tableside",
			Subsystem: "loyalty",
			Name:      "points_total",
			Help:      "Total points moved through the ledger, by operation.",
		},
		[]string{"operation"},
	)

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tableside",
			Subsystem: "loyalty",
			Name:      "transactions_total",
			Help:      "Total ledger transactions written, by type.",
		},
		[]string{"type"},
	)

	tierUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tableside",
			Subsystem: "loyalty",
			Name:      "tier_upgrades_total",
			Help:      "Total tier promotions, by destination tier.",
		},
		[]string{"tier"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pointsMoved,
		ledgerEntries,
		tierUpgrades,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLedgerEntry records a written ledger transaction and the absolute
// number of points it moved.
func RecordLedgerEntry(txType string, points int64) {
	if points < 0 {
		points = -points
	}
	ledgerEntries.WithLabelValues(txType).Inc()
	pointsMoved.WithLabelValues(txType).Add(float64(points))
}

// RecordTierUpgrade records a customer promotion into a tier.
func RecordTierUpgrade(tier string) {
	tierUpgrades.WithLabelValues(tier).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "customers":
		if len(parts) == 1 {
			return "/customers"
		}
		if len(parts) == 2 {
			return "/customers/:customer"
		}
		return "/customers/:customer/" + strings.Join(parts[2:], "/")
	case "orders":
		if len(parts) < 3 {
			return "/orders"
		}
		return "/orders/:order/" + parts[2]
	case "rules":
		if len(parts) == 1 {
			return "/rules"
		}
		return "/rules/:rule"
	default:
		return "/" + parts[0]
	}
}
