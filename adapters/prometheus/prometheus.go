// Package prometheus provides the Prometheus implementation of
// es.ESMetrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evstore/core/metrics"
)

// newTimer starts a timer that observes seconds into h.
func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.NewTimer(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// Default histogram buckets for latency metrics (in seconds). Tip reads and
// conditional writes are single round trips, so the low end is finer.
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}
