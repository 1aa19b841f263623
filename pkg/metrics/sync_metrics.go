package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// SyncMetrics records mailbox sync activity. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	syncRuns          *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	emailsProcessed   *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	jobsDropped       *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

func NewSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "skillspring"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	syncRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "skillspring_sync_runs_total",
			Help:        "Mailbox sync runs by trigger and result.",
			ConstLabels: constLabels,
		},
		[]string{"trigger", "result"}, // ok | partial | failed | canceled
	)

	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "skillspring_sync_duration_seconds",
			Help:        "Wall time of one mailbox sync run.",
			Buckets:     []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"trigger"},
	)

	emailsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "skillspring_sync_emails_total",
			Help:        "Emails handled by sync, by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // created | updated | duplicate | skipped | failed
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "skillspring_sync_queue_depth",
			Help:        "Sync jobs waiting for a worker.",
			ConstLabels: constLabels,
		},
	)

	jobsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "skillspring_sync_jobs_dropped_total",
			Help:        "Sync jobs rejected because the queue was full or stopped.",
			ConstLabels: constLabels,
		},
		[]string{"trigger"},
	)

	notificationsSent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "skillspring_status_notifications_total",
			Help:        "Push notifications for application status changes.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // sent | failed | no_device
	)

	registerer.MustRegister(
		syncRuns,
		syncDuration,
		emailsProcessed,
		queueDepth,
		jobsDropped,
		notificationsSent,
	)

	return &SyncMetrics{
		syncRuns:          syncRuns,
		syncDuration:      syncDuration,
		emailsProcessed:   emailsProcessed,
		queueDepth:        queueDepth,
		jobsDropped:       jobsDropped,
		notificationsSent: notificationsSent,
	}
}

func (m *SyncMetrics) ObserveRun(trigger, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(trigger, result).Inc()
	m.syncDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
}

func (m *SyncMetrics) AddEmails(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.emailsProcessed.WithLabelValues(outcome).Add(float64(n))
}

func (m *SyncMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *SyncMetrics) IncDropped(trigger string) {
	if m == nil {
		return
	}
	m.jobsDropped.WithLabelValues(trigger).Inc()
}

func (m *SyncMetrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}
