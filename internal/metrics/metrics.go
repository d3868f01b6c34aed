// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting tsmon runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Internal state (source of truth for the JSON snapshot)
var (
	joins           int64
	leaves          int64
	statusTicks     int64
	pollFailures    int64
	reconnects      int64
	notifySent      int64
	notifyFailed    int64
	notifyDropped   int64
	monitorsRunning int64
	queueDepth      int64
	lastPoll        int64
)

// Prometheus collectors
var (
	promJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tsmon_client_joins_total",
			Help: "Total client join events detected",
		},
	)
	promLeaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tsmon_client_leaves_total",
			Help: "Total confirmed client leave events",
		},
	)
	promStatusTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tsmon_status_ticks_total",
			Help: "Total periodic status reports triggered",
		},
	)
	promPollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tsmon_poll_failures_total",
			Help: "Total failed poll cycles",
		},
	)
	promReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tsmon_reconnects_total",
			Help: "Total successful mid-run reconnects",
		},
	)
	promNotify = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsmon_notifications_total",
			Help: "Total notification delivery outcomes",
		},
		[]string{"status"},
	)
	promDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tsmon_delivery_duration_seconds",
			Help:    "Duration of successful notification deliveries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	promMonitorsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsmon_monitors_running",
			Help: "Number of monitors currently in the running state",
		},
	)
	promQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsmon_notification_queue_depth",
			Help: "Notifications parked on the fallback queue",
		},
	)
	promLastPoll = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsmon_last_poll_timestamp_seconds",
			Help: "Unix timestamp of the most recent completed poll cycle",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promJoins,
		promLeaves,
		promStatusTicks,
		promPollFailures,
		promReconnects,
		promNotify,
		promDeliveryDuration,
		promMonitorsRunning,
		promQueueDepth,
		promLastPoll,
	)
}

// IncJoin increments the counter for detected join events.
func IncJoin() {
	atomic.AddInt64(&joins, 1)
	promJoins.Inc()
}

// IncLeave increments the counter for confirmed leave events.
func IncLeave() {
	atomic.AddInt64(&leaves, 1)
	promLeaves.Inc()
}

// IncStatusTick increments the counter for fired status ticks.
func IncStatusTick() {
	atomic.AddInt64(&statusTicks, 1)
	promStatusTicks.Inc()
}

// IncPollFailure increments the counter for failed poll cycles.
func IncPollFailure() {
	atomic.AddInt64(&pollFailures, 1)
	promPollFailures.Inc()
}

// IncReconnect increments the counter for successful reconnects.
func IncReconnect() {
	atomic.AddInt64(&reconnects, 1)
	promReconnects.Inc()
}

// IncNotifySent increments the counter for delivered notifications.
func IncNotifySent() {
	atomic.AddInt64(&notifySent, 1)
	promNotify.WithLabelValues("sent").Inc()
}

// IncNotifyFailed increments the counter for destinations that exhausted
// their delivery attempts.
func IncNotifyFailed() {
	atomic.AddInt64(&notifyFailed, 1)
	promNotify.WithLabelValues("failed").Inc()
}

// IncNotifyDropped increments the counter for queued notifications dropped
// after the retry ceiling.
func IncNotifyDropped() {
	atomic.AddInt64(&notifyDropped, 1)
	promNotify.WithLabelValues("dropped").Inc()
}

// ObserveDeliveryDuration records the duration (in seconds) of a successful
// delivery.
func ObserveDeliveryDuration(seconds float64) {
	promDeliveryDuration.Observe(seconds)
}

// SetMonitorsRunning records how many monitors are currently running.
func SetMonitorsRunning(n int) {
	atomic.StoreInt64(&monitorsRunning, int64(n))
	promMonitorsRunning.Set(float64(n))
}

// SetQueueDepth records the fallback queue depth.
func SetQueueDepth(n int) {
	atomic.StoreInt64(&queueDepth, int64(n))
	promQueueDepth.Set(float64(n))
}

// SetLastPoll stores the provided time as the last completed poll cycle.
func SetLastPoll(t time.Time) {
	atomic.StoreInt64(&lastPoll, t.Unix())
	promLastPoll.Set(float64(t.Unix()))
}

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Joins           int64  `json:"joins"`
	Leaves          int64  `json:"leaves"`
	StatusTicks     int64  `json:"status_ticks"`
	PollFailures    int64  `json:"poll_failures"`
	Reconnects      int64  `json:"reconnects"`
	NotifySent      int64  `json:"notifications_sent"`
	NotifyFailed    int64  `json:"notifications_failed"`
	NotifyDropped   int64  `json:"notifications_dropped"`
	MonitorsRunning int64  `json:"monitors_running"`
	QueueDepth      int64  `json:"queue_depth"`
	LastPoll        int64  `json:"last_poll_timestamp"`
	LastPollHuman   string `json:"last_poll_human"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastPoll)
	return StatsSnapshot{
		Joins:           atomic.LoadInt64(&joins),
		Leaves:          atomic.LoadInt64(&leaves),
		StatusTicks:     atomic.LoadInt64(&statusTicks),
		PollFailures:    atomic.LoadInt64(&pollFailures),
		Reconnects:      atomic.LoadInt64(&reconnects),
		NotifySent:      atomic.LoadInt64(&notifySent),
		NotifyFailed:    atomic.LoadInt64(&notifyFailed),
		NotifyDropped:   atomic.LoadInt64(&notifyDropped),
		MonitorsRunning: atomic.LoadInt64(&monitorsRunning),
		QueueDepth:      atomic.LoadInt64(&queueDepth),
		LastPoll:        ts,
		LastPollHuman:   time.Unix(ts, 0).Format(time.RFC3339),
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
