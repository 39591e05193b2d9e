package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "homewatch_"

	resultSuccess   = "success"
	resultTransient = "transient"
	resultMalformed = "malformed"
)

var (
	registerOnce sync.Once

	pollTotal   *prometheus.CounterVec
	pollLatency *prometheus.HistogramVec
	pollTasks   prometheus.Gauge

	statusTransitions *prometheus.CounterVec

	telemetryWrites  *prometheus.CounterVec
	telemetryDropped *prometheus.CounterVec

	alertEventsTotal     *prometheus.CounterVec
	alertSuppressedTotal prometheus.Counter

	commandTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		pollTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "polls_total",
				Help: "Total device polls by category and result",
			},
			[]string{"category", "result"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Device poll latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		)
		pollTasks = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "poll_tasks",
				Help: "Live poll tasks",
			},
		)

		statusTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Device health transitions by target status",
			},
			[]string{"to"},
		)

		telemetryWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_writes_total",
				Help: "Telemetry samples written by kind",
			},
			[]string{"kind"},
		)
		telemetryDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_dropped_total",
				Help: "Telemetry samples dropped by kind and reason",
			},
			[]string{"kind", "reason"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		alertSuppressedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_cooldown_suppressed_total",
				Help: "Alert triggers suppressed by rule cooldown",
			},
		)

		commandTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_commands_total",
				Help: "Device commands by action and result",
			},
			[]string{"action", "result"},
		)

		prometheus.MustRegister(
			pollTotal,
			pollLatency,
			pollTasks,
			statusTransitions,
			telemetryWrites,
			telemetryDropped,
			alertEventsTotal,
			alertSuppressedTotal,
			commandTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObservePoll records a poll outcome and its latency.
func ObservePoll(category, result string, duration time.Duration) {
	if category == "" {
		category = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if pollTotal != nil {
		pollTotal.WithLabelValues(category, result).Inc()
	}
	if pollLatency != nil {
		pollLatency.WithLabelValues(category).Observe(duration.Seconds())
	}
}

// AddPollTasks adjusts the live task gauge.
func AddPollTasks(delta int) {
	if pollTasks != nil {
		pollTasks.Add(float64(delta))
	}
}

// IncStatusTransition counts a health transition.
func IncStatusTransition(to string) {
	if to == "" {
		to = "unknown"
	}
	if statusTransitions != nil {
		statusTransitions.WithLabelValues(to).Inc()
	}
}

// IncTelemetryWrite counts a stored sample.
func IncTelemetryWrite(kind string) {
	if telemetryWrites != nil {
		telemetryWrites.WithLabelValues(kind).Inc()
	}
}

// IncTelemetryDropped counts a sample that never reached storage.
func IncTelemetryDropped(kind, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if telemetryDropped != nil {
		telemetryDropped.WithLabelValues(kind, reason).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncAlertSuppressed counts a trigger swallowed by cooldown.
func IncAlertSuppressed() {
	if alertSuppressedTotal != nil {
		alertSuppressedTotal.Inc()
	}
}

// IncCommand counts a device command.
func IncCommand(action, result string) {
	if result == "" {
		result = resultSuccess
	}
	if commandTotal != nil {
		commandTotal.WithLabelValues(action, result).Inc()
	}
}

// Exported constants for callers.
const (
	PollResultSuccess   = resultSuccess
	PollResultTransient = resultTransient
	PollResultMalformed = resultMalformed

	ResultSuccess = resultSuccess
	ResultError   = "error"
)
