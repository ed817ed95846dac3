package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Category metrics
	loadDuration         *prometheus.HistogramVec
	reloadDuration       *prometheus.HistogramVec
	syncDuration         *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	resyncs              *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Store metrics
	tipReads       *prometheus.CounterVec
	batchPagesRead *prometheus.CounterVec
	calvesWritten  *prometheus.CounterVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evstore_load_duration_seconds",
			Help:    "Stream load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"category"}),

		reloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evstore_reload_duration_seconds",
			Help:    "Latency of reloading a stream from a known position in seconds",
			Buckets: defaultBuckets,
		}, []string{"category"}),

		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evstore_sync_duration_seconds",
			Help:    "Conditional write latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"category"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"category"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_concurrency_conflicts_total",
			Help: "Total number of writes rejected by a precondition",
		}, []string{"category"}),

		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_resyncs_total",
			Help: "Total number of reloads after a conflict",
		}, []string{"category"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_cache_hits_total",
			Help: "Total number of loads served from the cache",
		}, []string{"category"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_cache_misses_total",
			Help: "Total number of loads that went to the store",
		}, []string{"category"}),

		tipReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_tip_reads_total",
			Help: "Total number of tip reads by outcome",
		}, []string{"category", "outcome"}),

		batchPagesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_batch_pages_read_total",
			Help: "Total number of calf query pages read",
		}, []string{"category"}),

		calvesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_calves_written_total",
			Help: "Total number of calves moved out of tips",
		}, []string{"category"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.reloadDuration,
		m.syncDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.resyncs,
		m.cacheHits,
		m.cacheMisses,
		m.tipReads,
		m.batchPagesRead,
		m.calvesWritten,
	)

	return m
}

func (m *esMetrics) LoadDuration(category string) metrics.Timer {
	return newTimer(m.loadDuration.WithLabelValues(category))
}

func (m *esMetrics) ReloadDuration(category string) metrics.Timer {
	return newTimer(m.reloadDuration.WithLabelValues(category))
}

func (m *esMetrics) SyncDuration(category string) metrics.Timer {
	return newTimer(m.syncDuration.WithLabelValues(category))
}

func (m *esMetrics) EventsAppended(category string, count int) {
	m.eventsAppended.WithLabelValues(category).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(category string) {
	m.concurrencyConflicts.WithLabelValues(category).Inc()
}

func (m *esMetrics) Resync(category string) {
	m.resyncs.WithLabelValues(category).Inc()
}

func (m *esMetrics) CacheHit(category string) {
	m.cacheHits.WithLabelValues(category).Inc()
}

func (m *esMetrics) CacheMiss(category string) {
	m.cacheMisses.WithLabelValues(category).Inc()
}

func (m *esMetrics) TipRead(category string, outcome string) {
	m.tipReads.WithLabelValues(category, outcome).Inc()
}

func (m *esMetrics) BatchPagesRead(category string, count int) {
	m.batchPagesRead.WithLabelValues(category).Add(float64(count))
}

func (m *esMetrics) CalvesWritten(category string, count int) {
	m.calvesWritten.WithLabelValues(category).Add(float64(count))
}

var _ es.ESMetrics = (*esMetrics)(nil)
