// Package pebble implements tipstore.Table on an embedded Pebble database.
//
// Pebble has no conditional writes. The table serializes writers per
// stream with a perkey.Scheduler and commits the tip together with its
// calves in one batch, so the table must be the only writer of its
// database.
package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/codewandler/evstore/core/perkey"
	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/codec"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every committed write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs of writes within
	// FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL. Defaults to FsyncModeAlways.
	Fsync FsyncMode
	// FsyncInterval controls group commit when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows tuning Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	Log           *slog.Logger
}

type Table struct {
	db      *pebble.DB
	sync    bool
	writers *perkey.Scheduler[string]
	codec   codec.Codec
	log     *slog.Logger
}

func Open(opts Options) (*Table, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Fsync == FsyncModeInterval {
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		db:      db,
		sync:    opts.Fsync == FsyncModeUnspecified || opts.Fsync == FsyncModeAlways || opts.Fsync == FsyncModeInterval,
		writers: perkey.New[string](),
		codec:   codec.JSONCodec{},
		log:     log.With(slog.String("table", "pebble")),
	}, nil
}

// Close waits for writes in flight, then closes the database. Writes
// started after Close fail with perkey.ErrSchedulerClosed.
func (t *Table) Close() error {
	t.writers.Close()
	return t.db.Close()
}

// key is "b/" + stream + 0x00 + big endian index, so the items of one
// stream sort by index and the tip sorts last.
func key(stream string, index uint64) []byte {
	k := make([]byte, 0, 2+len(stream)+1+8)
	k = append(k, "b/"...)
	k = append(k, stream...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint64(k, index)
}

func (t *Table) ReadTip(ctx context.Context, stream string, _ bool) (*tipstore.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.get(key(stream, tipstore.TipIndex))
}

func (t *Table) get(k []byte) (*tipstore.Batch, error) {
	val, closer, err := t.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	var b tipstore.Batch
	if err := t.codec.Unmarshal(val, &b); err != nil {
		return nil, fmt.Errorf("decode %x: %w", k, err)
	}
	return &b, nil
}

func (t *Table) QueryBatches(ctx context.Context, stream string, q tipstore.BatchQuery) (page tipstore.BatchPage, err error) {
	if err := ctx.Err(); err != nil {
		return page, err
	}
	hi := min(q.Hi, tipstore.TipIndex)
	if q.Lo >= hi {
		return page, nil
	}

	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: key(stream, q.Lo),
		UpperBound: key(stream, hi),
	})
	if err != nil {
		return page, err
	}
	defer func() {
		if closeErr := iter.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	first, step := iter.First, iter.Next
	if q.Backward {
		first, step = iter.Last, iter.Prev
	}
	for ok := first(); ok; ok = step() {
		var b tipstore.Batch
		if err := t.codec.Unmarshal(iter.Value(), &b); err != nil {
			return page, fmt.Errorf("decode %x: %w", iter.Key(), err)
		}
		if b.N <= q.MinN {
			if q.Backward {
				// n falls with the index
				break
			}
			continue
		}
		if q.Limit > 0 && len(page.Batches) == q.Limit {
			last := page.Batches[len(page.Batches)-1].Base
			page.Next = &last
			break
		}
		page.Batches = append(page.Batches, b)
	}
	return page, iter.Error()
}

func (t *Table) WriteTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	return t.writers.DoContext(ctx, stream, func() error {
		return t.writeTip(stream, w)
	})
}

// writeTip runs with the stream's writer slot held.
func (t *Table) writeTip(stream string, w tipstore.TipWrite) error {
	cur, err := t.get(key(stream, tipstore.TipIndex))
	if err != nil {
		return err
	}
	if !w.Expected.Holds(cur) {
		return tipstore.ErrConditionFailed
	}

	batch := t.db.NewBatch()
	defer batch.Close()

	for _, c := range w.Calves {
		k := key(stream, c.Base)
		existing, err := t.get(k)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.N != c.N {
				t.log.Debug("calf collision", slog.String("stream", stream), slog.Uint64("base", c.Base))
				return tipstore.ErrConditionFailed
			}
			continue
		}
		if err := t.set(batch, k, c); err != nil {
			return err
		}
	}
	if err := t.set(batch, key(stream, tipstore.TipIndex), w.Tip); err != nil {
		return err
	}

	opts := pebble.NoSync
	if t.sync {
		opts = pebble.Sync
	}
	return batch.Commit(opts)
}

func (t *Table) set(batch *pebble.Batch, k []byte, b tipstore.Batch) error {
	val, err := t.codec.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode %x: %w", k, err)
	}
	return batch.Set(k, val, nil)
}

// Streams lists the streams that have a tip, in key order.
func (t *Table) Streams(ctx context.Context) (streams []string, err error) {
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: []byte("b/"), UpperBound: []byte("b0")})
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := iter.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := iter.Key()
		sep := len(k) - 9
		if sep < 2 || k[sep] != 0 || binary.BigEndian.Uint64(k[sep+1:]) != tipstore.TipIndex {
			continue
		}
		streams = append(streams, string(k[2:sep]))
	}
	return streams, iter.Error()
}

var _ tipstore.Table = (*Table)(nil)
