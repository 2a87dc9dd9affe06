package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	passes   prometheus.Counter
	applied  prometheus.Counter
	failed   prometheus.Counter
	skipped  prometheus.Counter
	unsynced prometheus.Gauge
}

// init registers the engine metrics with promRegistry. A nil registry
// creates unregistered collectors.
func (m *metrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.passes = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "offsync_sync_passes_total",
		Help: "sync passes that got past the connectivity probe",
	})
	m.applied = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "offsync_sync_transactions_applied_total",
		Help: "queued transactions confirmed by the remote store",
	})
	m.failed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "offsync_sync_transactions_failed_total",
		Help: "queued transactions that failed to apply in a pass",
	})
	m.skipped = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "offsync_sync_skipped_total",
		Help: "sync requests dropped because a pass was already running",
	})
	m.unsynced = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_queue_unsynced",
		Help: "unsynced queue entries after the last pass",
	})
}
