package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "karma_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	emissionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "runs_total",
			Help:      "Emission runs by outcome (emitted, noop, failed).",
		},
		[]string{"outcome"},
	)

	emissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "run_duration_seconds",
			Help:      "Duration of emission runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	emissionLastBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "last_block_id",
			Help:      "Identifier of the most recently emitted block.",
		},
	)

	emissionReward = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "last_reward_karma",
			Help:      "Reward total of the most recently emitted block.",
		},
	)

	emissionDeferred = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emission",
			Name:      "deferred_rewards_karma",
			Help:      "Reward accumulated above the per-block cap.",
		},
	)

	walletOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet operations by kind and result.",
		},
		[]string{"operation", "success"},
	)

	blockPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "block_publishes_total",
			Help:      "Emission block events delivered to the broker, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		emissionRuns,
		emissionDuration,
		emissionLastBlock,
		emissionReward,
		emissionDeferred,
		walletOperations,
		blockPublishes,
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordEmission records the outcome of one emission run. Block gauges are
// only moved when a block was written.
func RecordEmission(outcome string, duration time.Duration, blockID int64, reward, deferred float64) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	emissionRuns.WithLabelValues(outcome).Inc()
	emissionDuration.Observe(duration.Seconds())
	if outcome == "emitted" {
		emissionLastBlock.Set(float64(blockID))
		emissionReward.Set(reward)
	}
	if outcome != "failed" {
		emissionDeferred.Set(deferred)
	}
}

// RecordWalletOperation counts a wallet mutation attempt.
func RecordWalletOperation(operation string, success bool) {
	walletOperations.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

// RecordBlockPublish counts one block event delivery attempt.
func RecordBlockPublish(result string) {
	blockPublishes.WithLabelValues(result).Inc()
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

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /v1/accounts/alice/history becomes /v1/accounts/:handle/history.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "v1" {
		parts = parts[1:]
		if len(parts) == 0 {
			return "/v1"
		}
		return "/v1" + canonicalResource(parts)
	}
	return "/" + parts[0]
}

func canonicalResource(parts []string) string {
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:handle"
		}
		return "/accounts/:handle/" + parts[2]
	case "admin":
		if len(parts) >= 3 && parts[1] == "accounts" {
			return "/admin/accounts/:handle"
		}
	}
	return "/" + strings.Join(parts, "/")
}
