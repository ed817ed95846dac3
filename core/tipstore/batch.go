package tipstore

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// TipIndex is the range key of the tip item. Calves use their base index.
const TipIndex = math.MaxInt32

// eventOverhead is added to every event and unfold when sizing batches. It
// approximates attribute names and numeric fields of the stored item.
const eventOverhead = 80

// Event is an event as stored inside a Batch. Its index is implied by its
// position within the batch.
type Event struct {
	Timestamp     time.Time `json:"t"`
	Type          string    `json:"c"`
	Data          []byte    `json:"d,omitempty"`
	Meta          []byte    `json:"m,omitempty"`
	CorrelationID string    `json:"x,omitempty"`
	CausationID   string    `json:"y,omitempty"`
}

// Bytes is the storage cost used for calving decisions.
func (e Event) Bytes() int64 {
	return int64(len(e.Type) + len(e.Data) + len(e.Meta) + len(e.CorrelationID) + len(e.CausationID) + eventOverhead)
}

// Unfold is a derived event kept in the tip. Index is the stream version it
// was computed from.
type Unfold struct {
	Index     uint64    `json:"i"`
	Timestamp time.Time `json:"t"`
	Type      string    `json:"c"`
	Data      []byte    `json:"d,omitempty"`
	Meta      []byte    `json:"m,omitempty"`
}

func (u Unfold) Bytes() int64 {
	return int64(len(u.Type) + len(u.Data) + len(u.Meta) + eventOverhead)
}

// Batch is one stored item: a contiguous run of events starting at Base.
// Only the tip carries Etag, Unfolds and CalvedBytes.
type Batch struct {
	Base        uint64   `json:"i"`
	N           uint64   `json:"n"`
	Etag        string   `json:"etag,omitempty"`
	Events      []Event  `json:"e"`
	Unfolds     []Unfold `json:"u,omitempty"`
	CalvedBytes int64    `json:"b,omitempty"`
}

// Valid reports whether N equals Base plus the number of events.
func (b Batch) Valid() bool {
	return b.N == b.Base+uint64(len(b.Events))
}

func (b Batch) EventBytes() int64 { return eventsBytes(b.Events) }

func (b Batch) UnfoldBytes() int64 { return unfoldsBytes(b.Unfolds) }

// Clone returns a deep copy sharing no slices with b.
func (b Batch) Clone() Batch {
	out := b
	out.Events = slices.Clone(b.Events)
	for i := range out.Events {
		out.Events[i].Data = slices.Clone(out.Events[i].Data)
		out.Events[i].Meta = slices.Clone(out.Events[i].Meta)
	}
	out.Unfolds = slices.Clone(b.Unfolds)
	for i := range out.Unfolds {
		out.Unfolds[i].Data = slices.Clone(out.Unfolds[i].Data)
		out.Unfolds[i].Meta = slices.Clone(out.Unfolds[i].Meta)
	}
	return out
}

func eventsBytes(events []Event) (n int64) {
	for _, e := range events {
		n += e.Bytes()
	}
	return n
}

func unfoldsBytes(unfolds []Unfold) (n int64) {
	for _, u := range unfolds {
		n += u.Bytes()
	}
	return n
}

func sortUnfolds(unfolds []Unfold) {
	slices.SortStableFunc(unfolds, func(a, b Unfold) int { return cmp.Compare(a.Index, b.Index) })
}
