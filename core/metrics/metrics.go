// Package metrics holds the instrument types handed out by es.ESMetrics.
// Core packages only see these interfaces; adapters/prometheus implements
// them.
package metrics

import "time"

// Timer measures one load, reload or sync. It starts when it is handed out:
//
//	defer m.SyncDuration(category).ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc adapts a function to Timer.
type TimerFunc func()

func (f TimerFunc) ObserveDuration() { f() }

// NewTimer starts a Timer that passes the elapsed time to observe.
func NewTimer(observe func(time.Duration)) Timer {
	start := time.Now()
	return TimerFunc(func() { observe(time.Since(start)) })
}

// NopTimer records nothing.
func NopTimer() Timer { return TimerFunc(func() {}) }
