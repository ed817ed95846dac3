package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/evstore/core/cache"
	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/tipstore"
)

type benchOptions struct {
	// Streams is the number of streams written concurrently.
	Streams int
	// Workers is the number of deciders contending for each stream.
	Workers int
	// Ops is the number of transactions every worker runs.
	Ops         int
	Strategy    string
	Cache       bool
	NoteSize    int
	MaxAttempts int
}

func defaultBenchOptions() benchOptions {
	return benchOptions{
		Streams:     4,
		Workers:     4,
		Ops:         250,
		Strategy:    "snapshot",
		NoteSize:    64,
		MaxAttempts: 10,
	}
}

func (o benchOptions) validate() error {
	if o.Streams <= 0 || o.Workers <= 0 || o.Ops <= 0 {
		return errors.New("streams, workers and ops must be positive")
	}
	return nil
}

// bench drives concurrent deciders against one category. A bench may run
// several rounds; every round writes to streams of its own.
type bench struct {
	opts    benchOptions
	cat     es.Category[tallyEvent, tally]
	metrics es.ESMetrics
	gather  prometheus.Gatherer
	log     *slog.Logger
	note    string
}

func newBench(table tipstore.Table, cfg Config, opts benchOptions, reg *prometheus.Registry, m es.ESMetrics, log *slog.Logger, extra ...tipstore.StoreOption) (*bench, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	access, err := tallyAccess(opts.Strategy)
	if err != nil {
		return nil, err
	}

	storeOpts := append(cfg.storeOptions(), tipstore.WithLog(log), tipstore.WithMetrics(m))
	storeOpts = append(storeOpts, extra...)
	var cat es.Category[tallyEvent, tally] = newTallyCategory(tipstore.NewStore(table, storeOpts...), access)
	if opts.Cache {
		cat = es.WithCaching(cat, es.SlidingWindow{
			Cache:  cache.NewLRU(cache.LRUOpts{Size: opts.Streams * 2}),
			Window: 5 * time.Minute,
		}, es.WithLog(log), es.WithMetrics(m))
	}

	return &bench{
		opts:    opts,
		cat:     cat,
		metrics: m,
		gather:  reg,
		log:     log,
		note:    strings.Repeat("x", max(opts.NoteSize, 0)),
	}, nil
}

type benchReport struct {
	RunID     string
	Strategy  string
	Cached    bool
	Ops       int64
	Exhausted int64
	Took      time.Duration
	// Lost counts streams whose final count differs from the number of
	// successful transactions.
	Lost int

	Conflicts     float64
	Resyncs       float64
	CalvesWritten float64
	BatchPages    float64
	CacheHits     float64
	Mem           MemUsage
}

func (r benchReport) print(w io.Writer) {
	fmt.Fprintln(w, "==========================================")
	fmt.Fprintf(w, "          run: %s\n", r.RunID)
	fmt.Fprintf(w, "     strategy: %s (cached: %v)\n", r.Strategy, r.Cached)
	fmt.Fprintf(w, "total runtime: %.3f seconds\n", r.Took.Seconds())
	fmt.Fprintf(w, " transactions: %d (%d exhausted)\n", r.Ops, r.Exhausted)
	fmt.Fprintf(w, "avg. writes/s: %d\n", int(float64(r.Ops)/r.Took.Seconds()))
	fmt.Fprintf(w, "    conflicts: %.0f\n", r.Conflicts)
	fmt.Fprintf(w, "      resyncs: %.0f\n", r.Resyncs)
	fmt.Fprintf(w, "       calves: %.0f\n", r.CalvesWritten)
	fmt.Fprintf(w, "  batch pages: %.0f\n", r.BatchPages)
	fmt.Fprintf(w, "   cache hits: %.0f\n", r.CacheHits)
	fmt.Fprintf(w, " lost updates: %d streams\n", r.Lost)
	fmt.Fprintf(w, "          mem: %d / %d MiB (alloc / sys)\n", r.Mem.Alloc/1024/1024, r.Mem.Sys/1024/1024)
}

func (b *bench) run(ctx context.Context) (benchReport, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return benchReport{}, err
	}
	log := b.log.With(slog.String("run", runID))

	before, err := counterTotals(b.gather)
	if err != nil {
		return benchReport{}, err
	}

	var (
		ops, exhausted atomic.Int64
		written        = make([]atomic.Int64, b.opts.Streams)
		startAt        = time.Now()
	)
	g, gctx := errgroup.WithContext(ctx)
	for s := range b.opts.Streams {
		streamID := fmt.Sprintf("%s-%d", runID, s)
		for range b.opts.Workers {
			g.Go(func() error {
				for range b.opts.Ops {
					d, err := b.decider(streamID, runID)
					if err != nil {
						return err
					}
					err = d.Transact(gctx, add(1, b.note))
					switch {
					case err == nil:
						ops.Add(1)
						written[s].Add(1)
					case errors.Is(err, es.ErrMaxResyncsExhausted):
						exhausted.Add(1)
						log.Debug("transaction exhausted", slog.String("stream", d.Stream().String()))
					default:
						return err
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return benchReport{}, err
	}
	took := time.Since(startAt)

	lost := 0
	for s := range b.opts.Streams {
		d, err := b.decider(fmt.Sprintf("%s-%d", runID, s), runID)
		if err != nil {
			return benchReport{}, err
		}
		count, err := es.Query(ctx, d, func(t tally) int { return t.Count }, es.RequireLoad())
		if err != nil {
			return benchReport{}, fmt.Errorf("verify %s: %w", d.Stream(), err)
		}
		if want := written[s].Load(); int64(count) != want {
			log.Warn("count mismatch", slog.String("stream", d.Stream().String()), slog.Int("count", count), slog.Int64("want", want))
			lost++
		}
	}

	after, err := counterTotals(b.gather)
	if err != nil {
		return benchReport{}, err
	}
	delta := func(name string) float64 { return after[name] - before[name] }

	runtime.GC()
	return benchReport{
		RunID:         runID,
		Strategy:      b.opts.Strategy,
		Cached:        b.opts.Cache,
		Ops:           ops.Load(),
		Exhausted:     exhausted.Load(),
		Took:          took,
		Lost:          lost,
		Conflicts:     delta("evstore_concurrency_conflicts_total"),
		Resyncs:       delta("evstore_resyncs_total"),
		CalvesWritten: delta("evstore_calves_written_total"),
		BatchPages:    delta("evstore_batch_pages_read_total"),
		CacheHits:     delta("evstore_cache_hits_total"),
		Mem:           getMemUsage(),
	}, nil
}

// decider returns a decider whose events carry a fresh correlation id and
// the run as their cause.
func (b *bench) decider(streamID, runID string) (*es.Decider[tallyEvent, tally], error) {
	return es.NewDecider(b.cat, streamID,
		es.WithLog(b.log),
		es.WithMetrics(b.metrics),
		es.WithMaxAttempts(b.opts.MaxAttempts),
		es.WithEncodeContext(es.EncodeContext{CorrelationID: uuid.NewString(), CausationID: runID}),
	)
}

// counterTotals sums every counter gathered from g by metric name.
func counterTotals(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
		}
	}
	return out, nil
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}
