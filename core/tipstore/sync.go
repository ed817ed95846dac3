package tipstore

import (
	"fmt"
	"slices"
)

// planWrite computes the item writes that append events to the stream at
// pos and replace its unfolds. pos is nil for a stream that does not exist.
//
// When the tip would outgrow opts, the events it held and, if need be, the
// oldest appended events are moved into calves, just enough for the rest to
// fit within MaxEventBytes and MaxEvents.
func planWrite(pos *Position, expected Precondition, appended []Event, unfolds []Unfold, etag string, opts TipOptions) (TipWrite, *Position, error) {
	var (
		base        uint64
		existing    []Event
		calvedBytes int64
	)
	if pos != nil {
		base = pos.Base()
		existing = pos.Events
		calvedBytes = pos.CalvedBytes
	}

	combined := make([]Event, 0, len(existing)+len(appended))
	combined = append(combined, existing...)
	combined = append(combined, appended...)
	n := base + uint64(len(combined))

	unfoldBytes := unfoldsBytes(unfolds)
	fits := func(k int, maxBytes int64) bool {
		if opts.MaxEvents > 0 && len(combined)-k > opts.MaxEvents {
			return false
		}
		return eventsBytes(combined[k:])+unfoldBytes <= maxBytes
	}

	k := 0
	if !fits(0, opts.MaxBytes) {
		k = len(existing)
		for k < len(combined) && !fits(k, opts.MaxEventBytes) {
			k++
		}
	}

	calves, err := calve(base, combined[:k], opts)
	if err != nil {
		return TipWrite{}, nil, err
	}

	kept := combined[k:]
	for _, c := range calves {
		calvedBytes += c.EventBytes()
	}

	sorted := slices.Clone(unfolds)
	sortUnfolds(sorted)

	tip := Batch{
		Base:        base + uint64(k),
		N:           n,
		Etag:        etag,
		Events:      kept,
		Unfolds:     sorted,
		CalvedBytes: calvedBytes,
	}

	w := TipWrite{Expected: expected, Tip: tip, Calves: calves}
	if pos != nil && k == 0 {
		w.Appended = appended
	}

	next := &Position{
		Index:        n,
		Etag:         etag,
		CalvedBytes:  calvedBytes,
		BaseBytes:    eventsBytes(kept),
		UnfoldsBytes: unfoldBytes,
		Events:       kept,
	}
	return w, next, nil
}

// calve slices events, the first of which has index base, into batches of
// at most MaxCalfBytes each.
func calve(base uint64, events []Event, opts TipOptions) ([]Batch, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var (
		calves []Batch
		cur    = Batch{Base: base, N: base}
		size   int64
	)
	for i, e := range events {
		b := e.Bytes()
		if b > opts.MaxCalfBytes {
			return nil, fmt.Errorf("%w: event %d is %d bytes, calf limit is %d", ErrItemTooLarge, base+uint64(i), b, opts.MaxCalfBytes)
		}
		if len(cur.Events) > 0 && size+b > opts.MaxCalfBytes {
			calves = append(calves, cur)
			cur = Batch{Base: cur.N, N: cur.N}
			size = 0
		}
		cur.Events = append(cur.Events, e)
		cur.N++
		size += b
	}
	calves = append(calves, cur)

	if len(calves) > opts.MaxTransactItems-1 {
		return nil, fmt.Errorf("%w: %d calves, at most %d items per transaction", ErrTransactionTooLarge, len(calves), opts.MaxTransactItems)
	}
	return calves, nil
}
