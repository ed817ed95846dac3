package main

import (
	"fmt"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/codec"
	"github.com/codewandler/evstore/core/tipstore"
)

// === Domain ===

const tallyCategory = "tally"

type (
	tallyEvent interface{ isTallyEvent() }

	Added struct {
		N int `json:"n"`
		// Note pads the event so that tips calve at realistic rates.
		Note string `json:"note,omitempty"`
	}

	Snapshotted struct {
		State tally `json:"state"`
	}

	tally struct {
		Total int `json:"total"`
		Count int `json:"count"`
	}
)

func (Added) isTallyEvent()       {}
func (Snapshotted) isTallyEvent() {}

func foldTally(s tally, events []tallyEvent) tally {
	for _, e := range events {
		switch e := e.(type) {
		case Added:
			s.Total += e.N
			s.Count++
		case Snapshotted:
			s = e.State
		}
	}
	return s
}

func add(n int, note string) func(tally) []tallyEvent {
	return func(tally) []tallyEvent { return []tallyEvent{Added{N: n, Note: note}} }
}

func isTallyOrigin(e tallyEvent) bool {
	_, ok := e.(Snapshotted)
	return ok
}

func tallySnapshot(s tally) tallyEvent { return Snapshotted{State: s} }

func tallyCodec() es.Codec[tallyEvent] {
	return codec.NewJSON[tallyEvent](codec.Type[Added](), codec.Type[Snapshotted]())
}

var strategies = []string{"unoptimized", "snapshot", "custom", "rolling"}

func tallyAccess(name string) (tipstore.AccessStrategy[tallyEvent, tally], error) {
	switch name {
	case "unoptimized":
		return tipstore.Unoptimized[tallyEvent, tally]{}, nil
	case "custom":
		// snapshot writes guarded by the tip's etag
		return tipstore.Custom[tallyEvent, tally]{
			IsOrigin: isTallyOrigin,
			Transmute: func(events []tallyEvent, s tally) ([]tallyEvent, []tallyEvent) {
				return events, []tallyEvent{tallySnapshot(s)}
			},
		}, nil
	case "", "snapshot":
		return tipstore.Snapshot[tallyEvent, tally]{IsOrigin: isTallyOrigin, ToSnapshot: tallySnapshot}, nil
	case "rolling":
		return tipstore.RollingState[tallyEvent, tally]{ToSnapshot: tallySnapshot}, nil
	}
	return nil, fmt.Errorf("unknown access strategy %q", name)
}

func newTallyCategory(store *tipstore.Store, access tipstore.AccessStrategy[tallyEvent, tally]) *tipstore.Category[tallyEvent, tally] {
	return tipstore.NewCategory(store, tallyCategory, tallyCodec(), foldTally, tally{}, access)
}
