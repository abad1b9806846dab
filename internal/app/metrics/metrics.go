package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "git_city",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "git_city",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	raidsLaunched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "raids",
			Name:      "launched_total",
			Help:      "Total number of raids resolved.",
		},
		[]string{"outcome"},
	)

	purchasesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "shop",
			Name:      "purchases_total",
			Help:      "Total number of purchases reaching a terminal status.",
		},
		[]string{"provider", "status"},
	)

	githubSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "github",
			Name:      "profile_syncs_total",
			Help:      "Total number of GitHub profile stat syncs.",
		},
		[]string{"status"},
	)

	githubSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "git_city",
			Subsystem: "github",
			Name:      "profile_sync_duration_seconds",
			Help:      "Duration of GitHub profile stat syncs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		},
	)

	presenceVisitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "git_city",
			Subsystem: "presence",
			Name:      "connected_visitors",
			Help:      "Current number of websocket visitors in the city.",
		},
	)

	snapshotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "city",
			Name:      "snapshot_cache_total",
			Help:      "City snapshot cache lookups by result.",
		},
		[]string{"result"},
	)

	buildingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "git_city",
			Subsystem: "city",
			Name:      "buildings",
			Help:      "Number of buildings in the city.",
		},
	)

	buildingsClaimed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "git_city",
			Subsystem: "city",
			Name:      "buildings_claimed",
			Help:      "Number of claimed buildings in the city.",
		},
	)

	achievementsUnlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "git_city",
			Subsystem: "achievements",
			Name:      "unlocked_total",
			Help:      "Total number of achievements unlocked.",
		},
		[]string{"metric"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raidsLaunched,
		purchasesFinalized,
		githubSyncs,
		githubSyncDuration,
		presenceVisitors,
		snapshotCache,
		buildingsTotal,
		buildingsClaimed,
		achievementsUnlocked,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Path labels use the chi route pattern so IDs do not explode cardinality.
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
		path := routePattern(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRaid counts a resolved raid by outcome (win or loss).
func RecordRaid(won bool) {
	outcome := "loss"
	if won {
		outcome = "win"
	}
	raidsLaunched.WithLabelValues(outcome).Inc()
}

// RecordPurchase counts a purchase reaching a terminal status.
func RecordPurchase(provider, status string) {
	if provider == "" {
		provider = "unknown"
	}
	purchasesFinalized.WithLabelValues(provider, status).Inc()
}

// RecordGitHubSync records one profile stat sync.
func RecordGitHubSync(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	githubSyncs.WithLabelValues(status).Inc()
	githubSyncDuration.Observe(duration.Seconds())
}

// SetConnectedVisitors publishes the current websocket visitor count.
func SetConnectedVisitors(n int) {
	presenceVisitors.Set(float64(n))
}

// RecordSnapshotCache counts a city snapshot cache lookup. Result is hit,
// miss, or bypass.
func RecordSnapshotCache(result string) {
	snapshotCache.WithLabelValues(result).Inc()
}

// SetBuildingCounts publishes the city building census.
func SetBuildingCounts(total, claimed int) {
	buildingsTotal.Set(float64(total))
	buildingsClaimed.Set(float64(claimed))
}

// RecordAchievementUnlock counts a newly unlocked achievement by metric.
func RecordAchievementUnlock(metric string) {
	achievementsUnlocked.WithLabelValues(metric).Inc()
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

// routePattern prefers the chi pattern filled in during routing; outside a
// chi router it falls back to the first path segment.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return "/"
	}
	if idx := strings.IndexByte(trimmed, '/'); idx > 0 {
		trimmed = trimmed[:idx]
	}
	return "/" + trimmed
}
