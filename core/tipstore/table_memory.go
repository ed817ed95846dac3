package tipstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// MemoryStats counts the requests a MemoryTable served.
type MemoryStats struct {
	TipReads     int64
	QueryPages   int64
	Writes       int64
	ItemsWritten int64
	Transactions int64
	// ConsistentReads counts tip reads and query pages that asked for a
	// consistent read.
	ConsistentReads int64
}

type memoryStream struct {
	tip    *Batch
	calves []Batch // ascending by Base
}

// MemoryTable is a Table kept in process memory. Items are copied on the
// way in and out, so callers never share slices with the table.
type MemoryTable struct {
	mu      sync.RWMutex
	streams map[string]*memoryStream

	tipReads     atomic.Int64
	queryPages   atomic.Int64
	writes       atomic.Int64
	itemsWritten atomic.Int64
	transactions atomic.Int64
	consistent   atomic.Int64
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{streams: make(map[string]*memoryStream)}
}

func (m *MemoryTable) ReadTip(ctx context.Context, stream string, consistent bool) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.tipReads.Add(1)
	if consistent {
		m.consistent.Add(1)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[stream]
	if !ok || s.tip == nil {
		return nil, nil
	}
	tip := s.tip.Clone()
	return &tip, nil
}

func (m *MemoryTable) QueryBatches(ctx context.Context, stream string, q BatchQuery) (BatchPage, error) {
	if err := ctx.Err(); err != nil {
		return BatchPage{}, err
	}
	m.queryPages.Add(1)
	if q.Consistent {
		m.consistent.Add(1)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.streams[stream]
	if !ok {
		return BatchPage{}, nil
	}

	var matched []Batch
	for _, b := range s.calves {
		if b.Base >= q.Lo && b.Base < q.Hi && b.N > q.MinN {
			matched = append(matched, b)
		}
	}
	if q.Backward {
		slices.Reverse(matched)
	}

	var page BatchPage
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
		last := matched[len(matched)-1].Base
		page.Next = &last
	}
	page.Batches = make([]Batch, len(matched))
	for i, b := range matched {
		page.Batches[i] = b.Clone()
	}
	return page, nil
}

func (m *MemoryTable) WriteTip(ctx context.Context, stream string, w TipWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writes.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		s = &memoryStream{}
	}
	if !w.Expected.Holds(s.tip) {
		return ErrConditionFailed
	}

	var inserts []Batch
	for _, c := range w.Calves {
		i, found := slices.BinarySearchFunc(s.calves, c.Base, func(b Batch, base uint64) int { return cmp.Compare(b.Base, base) })
		switch {
		case !found:
			inserts = append(inserts, c.Clone())
		case s.calves[i].N != c.N:
			return ErrConditionFailed
		}
	}

	for _, c := range inserts {
		i, _ := slices.BinarySearchFunc(s.calves, c.Base, func(b Batch, base uint64) int { return cmp.Compare(b.Base, base) })
		s.calves = slices.Insert(s.calves, i, c)
	}
	tip := w.Tip.Clone()
	s.tip = &tip
	m.streams[stream] = s

	m.itemsWritten.Add(int64(1 + len(w.Calves)))
	if len(w.Calves) > 0 {
		m.transactions.Add(1)
	}
	return nil
}

// Stats returns the request counters.
func (m *MemoryTable) Stats() MemoryStats {
	return MemoryStats{
		TipReads:     m.tipReads.Load(),
		QueryPages:   m.queryPages.Load(),
		Writes:       m.writes.Load(),
		ItemsWritten: m.itemsWritten.Load(),
		Transactions: m.transactions.Load(),

		ConsistentReads: m.consistent.Load(),
	}
}

// ResetStats zeroes the request counters.
func (m *MemoryTable) ResetStats() {
	m.tipReads.Store(0)
	m.queryPages.Store(0)
	m.writes.Store(0)
	m.itemsWritten.Store(0)
	m.transactions.Store(0)
	m.consistent.Store(0)
}

// Calves returns copies of the calves of stream in index order.
func (m *MemoryTable) Calves(stream string) []Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil
	}
	out := make([]Batch, len(s.calves))
	for i, b := range s.calves {
		out[i] = b.Clone()
	}
	return out
}

// PutCalf stores b as a calf of stream, replacing any calf at its base.
func (m *MemoryTable) PutCalf(stream string, b Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		s = &memoryStream{}
		m.streams[stream] = s
	}
	i, found := slices.BinarySearchFunc(s.calves, b.Base, func(c Batch, base uint64) int { return cmp.Compare(c.Base, base) })
	if found {
		s.calves[i] = b.Clone()
		return
	}
	s.calves = slices.Insert(s.calves, i, b.Clone())
}

// DeleteCalvesBelow removes the calves of stream whose base is below index
// and returns them.
func (m *MemoryTable) DeleteCalvesBelow(stream string, index uint64) []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil
	}
	i, _ := slices.BinarySearchFunc(s.calves, index, func(c Batch, base uint64) int { return cmp.Compare(c.Base, base) })
	removed := s.calves[:i:i]
	s.calves = slices.Clone(s.calves[i:])
	return removed
}

var _ Table = (*MemoryTable)(nil)
