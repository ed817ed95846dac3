// Package domain is a small counter aggregate used by the es tests.
package domain

import (
	"errors"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/codec"
	"github.com/codewandler/evstore/core/tipstore"
)

const Category = "counter"

var ErrLimitExceeded = errors.New("counter cannot exceed 24")

type (
	Event interface{ isCounterEvent() }

	Incremented struct {
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}

	Snapshotted struct {
		State State `json:"state"`
	}

	State struct {
		Counter        uint16 `json:"counter"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
	}
)

func (Incremented) isCounterEvent() {}
func (Snapshotted) isCounterEvent() {}

func Fold(s State, events []Event) State {
	for _, e := range events {
		switch e := e.(type) {
		case Incremented:
			s.NumTotalEvents++
			if e.Inc > 0 {
				s.Counter += uint16(e.Inc)
				s.NumIncrements++
			}
			if e.Reset {
				s.Counter = 0
				s.NumResets++
			}
		case Snapshotted:
			s = e.State
		}
	}
	return s
}

func ToSnapshot(s State) Event { return Snapshotted{State: s} }

func IsOrigin(e Event) bool {
	_, ok := e.(Snapshotted)
	return ok
}

func Codec() es.Codec[Event] {
	return codec.NewJSON[Event](codec.Type[Incremented](), codec.Type[Snapshotted]())
}

// === Decisions ===

func Inc(s State) []Event { return IncBy(1)(s) }

func IncBy(v uint8) func(State) []Event {
	return func(s State) []Event {
		if s.Counter+uint16(v) > 24 {
			return nil
		}
		return []Event{Incremented{Inc: v}}
	}
}

// TryIncBy is IncBy reporting a refused increment as an error.
func TryIncBy(v uint8) func(State) ([]Event, error) {
	return func(s State) ([]Event, error) {
		if s.Counter+uint16(v) > 24 {
			return nil, ErrLimitExceeded
		}
		return []Event{Incremented{Inc: v}}, nil
	}
}

func Reset(State) []Event { return []Event{Incremented{Reset: true}} }

// NewCategory binds the counter to store with the given access strategy.
func NewCategory(store *tipstore.Store, access tipstore.AccessStrategy[Event, State]) *tipstore.Category[Event, State] {
	return tipstore.NewCategory(store, Category, Codec(), Fold, State{}, access)
}

func SnapshotStrategy() tipstore.Snapshot[Event, State] {
	return tipstore.Snapshot[Event, State]{IsOrigin: IsOrigin, ToSnapshot: ToSnapshot}
}
