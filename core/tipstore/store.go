package tipstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/evstore/core/es"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Store binds a Table to the options shared by all categories on it.
type Store struct {
	table   Table
	archive Table
	tip     TipOptions
	query   QueryOptions
	log     *slog.Logger
	metrics es.ESMetrics
	newEtag func() (string, error)
}

func NewStore(table Table, opts ...StoreOption) *Store {
	options := newStoreOpts(opts...)
	return &Store{
		table:   table,
		archive: options.archive,
		tip:     options.tip,
		query:   options.query,
		log:     options.log.With(slog.String("store", "tip")),
		metrics: options.metrics,
		newEtag: func() (string, error) { return gonanoid.New() },
	}
}

func (s *Store) Table() Table { return s.table }

// readTip point-reads the tip and reports the outcome to metrics.
func (s *Store) readTip(ctx context.Context, stream es.StreamName, consistent bool) (*Batch, error) {
	tip, err := s.table.ReadTip(ctx, stream.String(), consistent)
	if err != nil {
		return nil, fmt.Errorf("read tip: %w", err)
	}
	if tip == nil {
		s.metrics.TipRead(stream.Category(), es.TipNotFound)
		return nil, nil
	}
	if !tip.Valid() {
		return nil, fmt.Errorf("read tip: malformed tip base=%d n=%d events=%d", tip.Base, tip.N, len(tip.Events))
	}
	return tip, nil
}

// write issues w and maps a failed precondition to a conflict.
func (s *Store) write(ctx context.Context, stream es.StreamName, w TipWrite) (conflict bool, err error) {
	err = s.table.WriteTip(ctx, stream.String(), w)
	switch {
	case err == nil:
		if len(w.Calves) > 0 {
			s.metrics.CalvesWritten(stream.Category(), len(w.Calves))
		}
		return false, nil
	case errors.Is(err, ErrConditionFailed):
		return true, nil
	default:
		return false, fmt.Errorf("write tip: %w", err)
	}
}

// scanBackward feeds calves below hi into scan, newest first, until an
// origin is found or table has no more.
func scanBackward[E any](ctx context.Context, s *Store, table Table, stream es.StreamName, hi uint64, consistent bool, scan *backwardScan[E]) error {
	cur := NewCursor(table, stream.String(), BatchQuery{
		Lo:         0,
		Hi:         hi,
		Backward:   true,
		Limit:      s.query.MaxItems,
		Consistent: consistent,
	}, s.query.MaxRequests)
	defer func() {
		if n := cur.Requests(); n > 0 {
			s.metrics.BatchPagesRead(stream.Category(), n)
		}
	}()

	for !scan.found {
		batches, ok, err := cur.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, b := range batches {
			scan.feed(timeline(b))
			if scan.found {
				break
			}
		}
	}
	return nil
}

// scanForward returns the events of calves with index >= from and below hi.
// complete is false when the calves found do not start at from.
func scanForward(ctx context.Context, s *Store, stream es.StreamName, from, hi uint64, consistent bool) (items []es.TimelineEvent, complete bool, err error) {
	cur := NewCursor(s.table, stream.String(), BatchQuery{
		MinN:       from,
		Lo:         0,
		Hi:         hi,
		Limit:      s.query.MaxItems,
		Consistent: consistent,
	}, s.query.MaxRequests)
	defer func() {
		if n := cur.Requests(); n > 0 {
			s.metrics.BatchPagesRead(stream.Category(), n)
		}
	}()

	next := from
	for {
		batches, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return items, next == hi, nil
		}
		for _, b := range batches {
			if b.Base > next {
				return nil, false, nil
			}
			for _, e := range timeline(b) {
				if e.Index >= next {
					items = append(items, e)
					next = e.Index + 1
				}
			}
		}
	}
}
