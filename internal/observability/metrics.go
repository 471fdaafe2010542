package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Protocol messages sent or received by client sessions.",
		},
		[]string{"direction", "method"},
	)
	sessionViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "session",
			Name:      "protocol_violations_total",
			Help:      "Inbound messages dropped as protocol violations.",
		},
		[]string{"kind"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state machine transitions by target state.",
		},
		[]string{"state"},
	)
	sessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a transport close.",
		},
	)
	sessionCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "collab",
			Subsystem: "session",
			Name:      "commit_roundtrip_seconds",
			Help:      "Time from commit send to commitCompleted.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	hubCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "hub",
			Name:      "commits_total",
			Help:      "Commits handled by the hub.",
		},
		[]string{"document", "deduped"},
	)
	hubClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "collab",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected hub clients per document.",
		},
		[]string{"document"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collab",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionMessages,
			sessionViolations,
			sessionTransitions,
			sessionReconnects,
			sessionCommitDuration,
			hubCommits,
			hubClients,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSessionMessage(direction, method string) {
	RegisterMetrics()
	sessionMessages.WithLabelValues(direction, method).Inc()
}

func RecordProtocolViolation(kind string) {
	RegisterMetrics()
	sessionViolations.WithLabelValues(kind).Inc()
}

func RecordStateTransition(state string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(state).Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	sessionReconnects.Inc()
}

func RecordCommitRoundTrip(d time.Duration) {
	RegisterMetrics()
	sessionCommitDuration.Observe(d.Seconds())
}

func RecordHubCommit(document string, deduped bool) {
	RegisterMetrics()
	hubCommits.WithLabelValues(document, strconv.FormatBool(deduped)).Inc()
}

func SetHubClients(document string, n int) {
	RegisterMetrics()
	hubClients.WithLabelValues(document).Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
