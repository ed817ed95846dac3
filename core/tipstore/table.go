package tipstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConditionFailed is returned by Table.WriteTip when the expected
	// precondition no longer holds.
	ErrConditionFailed = errors.New("tipstore: condition failed")
	// ErrOriginNotFound is returned by a load that ran out of batches
	// before it found an event to start folding from.
	ErrOriginNotFound = errors.New("tipstore: origin event not found")
	// ErrBatchLimitExceeded is returned once a load needs more batch pages
	// than QueryOptions.MaxRequests allows.
	ErrBatchLimitExceeded = errors.New("tipstore: batch limit exceeded")
	// ErrItemTooLarge is returned when a single event does not fit into a
	// calf.
	ErrItemTooLarge = errors.New("tipstore: item too large")
	// ErrTransactionTooLarge is returned when a write would need more calves
	// than the store can write atomically.
	ErrTransactionTooLarge = errors.New("tipstore: transaction too large")
)

type PreconditionKind uint8

const (
	ExpectNotExists PreconditionKind = iota + 1
	ExpectIndex
	ExpectEtag
)

// Precondition is what WriteTip asserts about the current tip.
type Precondition struct {
	Kind  PreconditionKind
	Index uint64
	Etag  string
}

func NotExists() Precondition         { return Precondition{Kind: ExpectNotExists} }
func AtIndex(n uint64) Precondition   { return Precondition{Kind: ExpectIndex, Index: n} }
func AtEtag(etag string) Precondition { return Precondition{Kind: ExpectEtag, Etag: etag} }

// Holds reports whether tip, which may be nil, satisfies p.
func (p Precondition) Holds(tip *Batch) bool {
	switch p.Kind {
	case ExpectNotExists:
		return tip == nil
	case ExpectIndex:
		return tip != nil && tip.N == p.Index
	case ExpectEtag:
		return tip != nil && tip.Etag == p.Etag
	}
	return false
}

func (p Precondition) String() string {
	switch p.Kind {
	case ExpectNotExists:
		return "not-exists"
	case ExpectIndex:
		return fmt.Sprintf("n=%d", p.Index)
	case ExpectEtag:
		return fmt.Sprintf("etag=%s", p.Etag)
	}
	return "invalid"
}

// TipWrite replaces the tip and inserts calves as one atomic unit.
type TipWrite struct {
	Expected Precondition
	// Tip is the complete new tip item.
	Tip Batch
	// Appended is set when the new tip equals the old tip's events plus
	// Appended, so stores may append in place instead of replacing.
	Appended []Event
	// Calves are inserted only if no item exists at their base index. A
	// calf that already exists with the same N counts as written.
	Calves []Batch
}

// BatchQuery selects calves with Lo <= Base < Hi and N > MinN.
type BatchQuery struct {
	MinN       uint64
	Lo         uint64
	Hi         uint64
	Backward   bool
	Limit      int
	Consistent bool
}

// BatchPage is one page of calves in query order. Next is the base index of
// the last item the store evaluated when more items may follow.
type BatchPage struct {
	Batches []Batch
	Next    *uint64
}

// Table is the storage port. Streams are partitions; the tip and every calf
// are items within them.
type Table interface {
	// ReadTip returns the tip of stream, or nil if the stream does not exist.
	ReadTip(ctx context.Context, stream string, consistent bool) (*Batch, error)
	QueryBatches(ctx context.Context, stream string, q BatchQuery) (BatchPage, error)
	// WriteTip returns ErrConditionFailed when w.Expected does not hold or
	// a calf collides with a different item.
	WriteTip(ctx context.Context, stream string, w TipWrite) error
}
