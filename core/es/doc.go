// Package es provides the storage-agnostic half of the event store: the
// optimistic-concurrency [Decider], the [Category] contract that stores
// implement, and a [WithCaching] decorator that keeps recently loaded
// stream states in memory.
//
// # Overview
//
// A stream is an ordered, append-only list of events identified by a
// [StreamName] of the form "{category}-{id}". Application code never reads
// or writes events directly. Instead it hands a decision function to a
// Decider, which loads the current state, asks the function for new events,
// and appends them with a precondition that the stream has not moved in the
// meantime:
//
//	cat := tipstore.NewCategory(store, "Favorites", codec, fold, initial,
//	    tipstore.Snapshot(isOrigin, toSnapshot))
//	cached := es.WithCaching[Event, State](cat, es.SlidingWindow(c, 20*time.Minute))
//
//	d := es.NewDecider[Event, State](cached, "client-42")
//	err := d.Transact(ctx, func(s State) []Event {
//	    if s.Has("sku-1") {
//	        return nil
//	    }
//	    return []Event{Added{SKU: "sku-1"}}
//	})
//
// # Concurrency
//
// When two writers race on one stream, exactly one conditional write wins.
// The loser receives a conflict [SyncResult], reloads the authoritative
// state and re-runs its decision function, up to [WithMaxAttempts] times.
// When the budget is spent the call fails with a [MaxResyncsExhaustedError].
// All other errors (transport, decoding of the store's own documents, ...)
// are returned immediately and never retried here.
//
// # Load options
//
// [RequireLoad] always consults the store, [RequireLeader] additionally asks
// for a consistent read, [AllowStale] and [AnyCachedValue] accept a cached
// state up to a given age, and [AssumeEmpty] skips the read entirely for
// streams that are expected not to exist yet.
//
// # Codecs
//
// A [Codec] maps typed events to [EventData] and back. Decoding returns
// false for event types it does not know; such events are skipped by the
// fold but still advance the stream version.
package es
