package es

import "github.com/codewandler/evstore/core/metrics"

// ESMetrics defines the metrics surface of deciders, categories and stores.
// All methods are keyed by category name; implementations must be safe for
// concurrent use.
type ESMetrics interface {
	// Category operations
	LoadDuration(category string) metrics.Timer
	ReloadDuration(category string) metrics.Timer
	SyncDuration(category string) metrics.Timer
	EventsAppended(category string, count int)
	ConcurrencyConflict(category string)
	Resync(category string)

	// Cache
	CacheHit(category string)
	CacheMiss(category string)

	// Store internals
	TipRead(category string, outcome string)
	BatchPagesRead(category string, count int)
	CalvesWritten(category string, count int)
}

// Tip read outcomes reported through ESMetrics.TipRead.
const (
	TipFound       = "found"
	TipNotFound    = "not_found"
	TipNotModified = "not_modified"
)

type nopESMetrics struct{}

func (nopESMetrics) LoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) ReloadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SyncDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)          {}
func (nopESMetrics) ConcurrencyConflict(string)          {}
func (nopESMetrics) Resync(string)                       {}

func (nopESMetrics) CacheHit(string)  {}
func (nopESMetrics) CacheMiss(string) {}

func (nopESMetrics) TipRead(string, string)     {}
func (nopESMetrics) BatchPagesRead(string, int) {}
func (nopESMetrics) CalvesWritten(string, int)  {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
