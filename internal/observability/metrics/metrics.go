package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "tagwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	updatesApplied *prometheus.CounterVec

	notificationsSent       *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec

	reminderRounds   prometheus.Counter
	reminderSent     prometheus.Counter
	reminderDuration prometheus.Histogram

	registryReloads   *prometheus.CounterVec
	registryAutosaves *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		updatesApplied = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "updates_applied_total",
				Help: "Total tag updates applied by tag kind and result",
			},
			[]string{"kind", "result"},
		)

		notificationsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notifications delivered by kind, channel and result",
			},
			[]string{"kind", "channel", "result"},
		)
		notificationsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_suppressed_total",
				Help: "Total notifications suppressed by reason",
			},
			[]string{"reason"},
		)

		reminderRounds = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reminder_rounds_total",
				Help: "Total reminder scan rounds",
			},
		)
		reminderSent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reminder_sent_total",
				Help: "Total reminder notifications sent",
			},
		)
		reminderDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reminder_round_duration_seconds",
				Help:    "Reminder scan round duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		registryReloads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "registry_reloads_total",
				Help: "Total subscription registry reloads by result",
			},
			[]string{"result"},
		)
		registryAutosaves = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "registry_autosaves_total",
				Help: "Total subscription registry autosaves by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			updatesApplied,
			notificationsSent,
			notificationsSuppressed,
			reminderRounds,
			reminderSent,
			reminderDuration,
			registryReloads,
			registryAutosaves,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncUpdateApplied increments the applied-update counter.
func IncUpdateApplied(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if updatesApplied != nil {
		updatesApplied.WithLabelValues(kind, result).Inc()
	}
}

// IncNotification increments the delivered-notification counter.
func IncNotification(kind, channel, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notificationsSent != nil {
		notificationsSent.WithLabelValues(kind, channel, result).Inc()
	}
}

// IncSuppressed increments the suppressed-notification counter.
func IncSuppressed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if notificationsSuppressed != nil {
		notificationsSuppressed.WithLabelValues(reason).Inc()
	}
}

// ObserveReminderRound records one reminder scan round.
func ObserveReminderRound(duration time.Duration, sent int) {
	if reminderRounds != nil {
		reminderRounds.Inc()
	}
	if reminderDuration != nil {
		reminderDuration.Observe(duration.Seconds())
	}
	if reminderSent != nil && sent > 0 {
		reminderSent.Add(float64(sent))
	}
}

// IncRegistryReload increments the registry reload counter.
func IncRegistryReload(result string) {
	if result == "" {
		result = resultSuccess
	}
	if registryReloads != nil {
		registryReloads.WithLabelValues(result).Inc()
	}
}

// IncRegistryAutosave increments the registry autosave counter.
func IncRegistryAutosave(result string) {
	if result == "" {
		result = resultSuccess
	}
	if registryAutosaves != nil {
		registryAutosaves.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
