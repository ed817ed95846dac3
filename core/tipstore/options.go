package tipstore

import (
	"log/slog"

	"github.com/codewandler/evstore/core/es"
)

const (
	DefaultTipMaxBytes      = 32 * 1024
	DefaultMaxCalfBytes     = 350 * 1024
	DefaultMaxTransactItems = 100
	DefaultQueryMaxItems    = 32
)

// TipOptions bound the size of the tip item. Appending events that would
// push the tip beyond these limits calves older events into separate items.
type TipOptions struct {
	// MaxEvents caps the number of events kept in the tip. Zero means no cap.
	MaxEvents int
	// MaxBytes caps events plus unfolds held by the tip.
	MaxBytes int64
	// MaxEventBytes caps the events left in the tip after calving. Defaults
	// to MaxBytes.
	MaxEventBytes int64
	// MaxCalfBytes caps a single calved batch.
	MaxCalfBytes int64
	// MaxTransactItems is the number of items the store can write
	// atomically, tip included.
	MaxTransactItems int
}

func (o TipOptions) withDefaults() TipOptions {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultTipMaxBytes
	}
	if o.MaxEventBytes <= 0 {
		o.MaxEventBytes = o.MaxBytes
	}
	if o.MaxCalfBytes <= 0 {
		o.MaxCalfBytes = DefaultMaxCalfBytes
	}
	if o.MaxTransactItems <= 1 {
		o.MaxTransactItems = DefaultMaxTransactItems
	}
	return o
}

// QueryOptions control paging over calves.
type QueryOptions struct {
	// MaxItems is the page size of batch queries.
	MaxItems int
	// MaxRequests caps the pages a single load may read. Zero means no cap.
	MaxRequests int
	// IgnoreMissingEvents folds whatever was found when no origin can be
	// reached, instead of failing with ErrOriginNotFound.
	IgnoreMissingEvents bool
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultQueryMaxItems
	}
	return o
}

type (
	valueOption[T any] struct{ v T }

	ArchiveOption      valueOption[Table]
	TipOptionsOption   valueOption[TipOptions]
	QueryOptionsOption valueOption[QueryOptions]
	LogOption          valueOption[*slog.Logger]
	MetricsOption      valueOption[es.ESMetrics]

	storeOpts struct {
		archive Table
		tip     TipOptions
		query   QueryOptions
		log     *slog.Logger
		metrics es.ESMetrics
	}

	StoreOption interface{ applyToStore(*storeOpts) }
)

// WithArchive sets a secondary table that backward scans continue on once
// the primary table runs out of calves.
func WithArchive(t Table) ArchiveOption                  { return ArchiveOption{v: t} }
func WithTipOptions(o TipOptions) TipOptionsOption       { return TipOptionsOption{v: o} }
func WithQueryOptions(o QueryOptions) QueryOptionsOption { return QueryOptionsOption{v: o} }
func WithLog(l *slog.Logger) LogOption                   { return LogOption{v: l} }
func WithMetrics(m es.ESMetrics) MetricsOption           { return MetricsOption{v: m} }

func (o ArchiveOption) applyToStore(s *storeOpts)      { s.archive = o.v }
func (o TipOptionsOption) applyToStore(s *storeOpts)   { s.tip = o.v }
func (o QueryOptionsOption) applyToStore(s *storeOpts) { s.query = o.v }
func (o LogOption) applyToStore(s *storeOpts)          { s.log = o.v }
func (o MetricsOption) applyToStore(s *storeOpts)      { s.metrics = o.v }

func newStoreOpts(opts ...StoreOption) storeOpts {
	options := storeOpts{
		log:     slog.Default(),
		metrics: es.NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	options.tip = options.tip.withDefaults()
	options.query = options.query.withDefaults()
	return options
}
