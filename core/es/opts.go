package es

import (
	"log/slog"
	"math"
	"time"
)

const DefaultMaxAttempts = 3

type (
	valueOption[T any] struct{ v T }

	LogOption         valueOption[*slog.Logger]
	ESMetricsOption   valueOption[ESMetrics]
	MaxAttemptsOption valueOption[int]
	EncodeCtxOption   valueOption[EncodeContext]

	deciderOpts struct {
		log         *slog.Logger
		metrics     ESMetrics
		maxAttempts int
		encodeCtx   EncodeContext
	}

	DeciderOption interface{ applyToDecider(*deciderOpts) }

	cachingOpts struct {
		log     *slog.Logger
		metrics ESMetrics
	}

	CachingOption interface{ applyToCaching(*cachingOpts) }
)

func WithLog(l *slog.Logger) LogOption                   { return LogOption{v: l} }
func WithMetrics(m ESMetrics) ESMetricsOption            { return ESMetricsOption{v: m} }
func WithMaxAttempts(n int) MaxAttemptsOption            { return MaxAttemptsOption{v: n} }
func WithEncodeContext(ec EncodeContext) EncodeCtxOption { return EncodeCtxOption{v: ec} }

func (o LogOption) applyToDecider(d *deciderOpts)         { d.log = o.v }
func (o ESMetricsOption) applyToDecider(d *deciderOpts)   { d.metrics = o.v }
func (o MaxAttemptsOption) applyToDecider(d *deciderOpts) { d.maxAttempts = o.v }
func (o EncodeCtxOption) applyToDecider(d *deciderOpts)   { d.encodeCtx = o.v }

func (o LogOption) applyToCaching(c *cachingOpts)       { c.log = o.v }
func (o ESMetricsOption) applyToCaching(c *cachingOpts) { c.metrics = o.v }

func newDeciderOpts(opts ...DeciderOption) deciderOpts {
	options := deciderOpts{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt.applyToDecider(&options)
	}
	if options.maxAttempts < 1 {
		options.maxAttempts = 1
	}
	return options
}

func newCachingOpts(opts ...CachingOption) cachingOpts {
	options := cachingOpts{log: slog.Default(), metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToCaching(&options)
	}
	return options
}

// === load options ===

type (
	loadOpts struct {
		maxStale      time.Duration
		requireLeader bool
		assumeEmpty   bool
	}

	LoadOption interface{ applyToLoad(*loadOpts) }

	requireLoadOption   struct{}
	requireLeaderOption struct{}
	assumeEmptyOption   struct{}
	maxStaleOption      valueOption[time.Duration]
)

// RequireLoad always consults the store. This is the default.
func RequireLoad() LoadOption { return requireLoadOption{} }

// RequireLeader consults the store with a consistent read.
func RequireLeader() LoadOption { return requireLeaderOption{} }

// AllowStale accepts a cached state that is at most maxStale old.
func AllowStale(maxStale time.Duration) LoadOption { return maxStaleOption{v: maxStale} }

// MaxStale is an alias of AllowStale.
func MaxStale(maxStale time.Duration) LoadOption { return AllowStale(maxStale) }

// AnyCachedValue accepts a cached state of any age.
func AnyCachedValue() LoadOption { return maxStaleOption{v: time.Duration(math.MaxInt64)} }

// AssumeEmpty skips the initial read and treats the stream as empty. If the
// stream does exist, the first write conflicts and the decider reloads.
func AssumeEmpty() LoadOption { return assumeEmptyOption{} }

func (requireLoadOption) applyToLoad(o *loadOpts) {
	o.maxStale = 0
	o.assumeEmpty = false
}
func (requireLeaderOption) applyToLoad(o *loadOpts) {
	o.requireLeader = true
	o.maxStale = 0
	o.assumeEmpty = false
}
func (assumeEmptyOption) applyToLoad(o *loadOpts) { o.assumeEmpty = true }
func (m maxStaleOption) applyToLoad(o *loadOpts)  { o.maxStale = m.v }

func newLoadOpts(opts ...LoadOption) loadOpts {
	var options loadOpts
	for _, opt := range opts {
		opt.applyToLoad(&options)
	}
	return options
}
