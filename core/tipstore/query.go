package tipstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/codewandler/evstore/core/es"
)

// Cursor pages through the calves of one stream. It is lazy: each call to
// Next issues at most one query, so a scan can stop as soon as it found
// what it was looking for.
type Cursor struct {
	table       Table
	stream      string
	q           BatchQuery
	maxRequests int
	requests    int
	done        bool
}

// NewCursor starts paging through calves matching q. maxRequests caps the
// number of pages; zero means no cap.
func NewCursor(table Table, stream string, q BatchQuery, maxRequests int) *Cursor {
	return &Cursor{table: table, stream: stream, q: q, maxRequests: maxRequests, done: q.Lo >= q.Hi}
}

// Next returns the next page. ok is false once the query is exhausted.
func (c *Cursor) Next(ctx context.Context) (batches []Batch, ok bool, err error) {
	if c.done {
		return nil, false, nil
	}
	if c.maxRequests > 0 && c.requests >= c.maxRequests {
		return nil, false, fmt.Errorf("%w: %d requests", ErrBatchLimitExceeded, c.requests)
	}
	c.requests++

	page, err := c.table.QueryBatches(ctx, c.stream, c.q)
	if err != nil {
		return nil, false, err
	}

	switch {
	case page.Next == nil:
		c.done = true
	case c.q.Backward:
		c.q.Hi = *page.Next
	default:
		c.q.Lo = *page.Next + 1
	}
	if c.q.Lo >= c.q.Hi {
		c.done = true
	}
	return page.Batches, true, nil
}

// Requests is the number of pages read so far.
func (c *Cursor) Requests() int { return c.requests }

// timeline turns a batch into timeline events in index order.
func timeline(b Batch) []es.TimelineEvent {
	out := make([]es.TimelineEvent, len(b.Events))
	for i, e := range b.Events {
		out[i] = es.TimelineEvent{
			Index:         b.Base + uint64(i),
			Timestamp:     e.Timestamp,
			Type:          e.Type,
			Data:          e.Data,
			Meta:          e.Meta,
			CorrelationID: e.CorrelationID,
			CausationID:   e.CausationID,
			Size:          int(e.Bytes()),
		}
	}
	return out
}

func unfoldTimeline(unfolds []Unfold) []es.TimelineEvent {
	out := make([]es.TimelineEvent, len(unfolds))
	for i, u := range unfolds {
		out[i] = es.TimelineEvent{
			Index:     u.Index,
			Timestamp: u.Timestamp,
			Type:      u.Type,
			Data:      u.Data,
			Meta:      u.Meta,
			IsUnfold:  true,
			Size:      int(u.Bytes()),
		}
	}
	return out
}

// tipTimeline returns the tip's events and unfolds ordered by index, events
// before unfolds at equal index.
func tipTimeline(tip *Batch) []es.TimelineEvent {
	items := append(timeline(*tip), unfoldTimeline(tip.Unfolds)...)
	slices.SortStableFunc(items, func(a, b es.TimelineEvent) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		case a.IsUnfold == b.IsUnfold:
			return 0
		case b.IsUnfold:
			return -1
		default:
			return 1
		}
	})
	return items
}

// backwardScan accumulates decoded events while walking newest to oldest
// and stops at the first origin.
type backwardScan[E any] struct {
	codec    es.Codec[E]
	isOrigin func(E) bool
	// decoded is in reverse index order.
	decoded []E
	found   bool
	// lowest is the smallest index seen so far.
	lowest uint64
}

// feed consumes items given in ascending index order, walking them from the
// end. Unfolds only count when they are an origin.
func (s *backwardScan[E]) feed(items []es.TimelineEvent) {
	for i := len(items) - 1; i >= 0 && !s.found; i-- {
		item := items[i]
		e, ok := s.codec.Decode(item)
		if item.IsUnfold {
			if ok && s.isOrigin(e) {
				s.decoded = append(s.decoded, e)
				s.found = true
			}
			continue
		}
		s.lowest = item.Index
		if !ok {
			continue
		}
		s.decoded = append(s.decoded, e)
		if s.isOrigin(e) {
			s.found = true
		}
	}
}

// events returns what was decoded in index order.
func (s *backwardScan[E]) events() []E {
	out := slices.Clone(s.decoded)
	slices.Reverse(out)
	return out
}

func decodeAll[E any](codec es.Codec[E], items []es.TimelineEvent, minIndex uint64) []E {
	out := make([]E, 0, len(items))
	for _, item := range items {
		if item.IsUnfold || item.Index < minIndex {
			continue
		}
		if e, ok := codec.Decode(item); ok {
			out = append(out, e)
		}
	}
	return out
}
