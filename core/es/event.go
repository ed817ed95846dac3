package es

import "time"

// EventData is an encoded event as produced by a Codec, ready to be stored.
type EventData struct {
	Type          string
	Data          []byte
	Meta          []byte
	CorrelationID string
	CausationID   string
	// Timestamp defaults to the time of the write when zero.
	Timestamp time.Time
}

// TimelineEvent is an encoded event as read back from a store. Unfolds are
// delivered through the same shape with IsUnfold set; their Index is the
// stream version they were derived from.
type TimelineEvent struct {
	Index         uint64
	Timestamp     time.Time
	Type          string
	Data          []byte
	Meta          []byte
	CorrelationID string
	CausationID   string
	IsUnfold      bool
	// Size is the storage cost used for batching decisions, not an exact
	// wire size.
	Size int
}

// EncodeContext carries per-call metadata into Codec.Encode.
type EncodeContext struct {
	CorrelationID string
	CausationID   string
}

// Codec converts between typed events and their encoded form. Decode
// reports false for events it does not understand; callers skip them.
type Codec[E any] interface {
	Encode(event E, ctx EncodeContext) (EventData, error)
	Decode(event TimelineEvent) (E, bool)
}

// Fold evolves a state by applying events in order.
type Fold[E, S any] func(state S, events []E) S
