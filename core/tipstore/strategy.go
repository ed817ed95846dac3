package tipstore

// AccessStrategy decides which events a load may start folding from and
// which unfolds are kept in the tip. The set of strategies is closed:
// Unoptimized, LatestKnownEvent, Snapshot, MultiSnapshot, RollingState and
// Custom.
type AccessStrategy[E, S any] interface {
	accessStrategy()
}

// Unoptimized stores no unfolds. Every load folds the whole stream.
type Unoptimized[E, S any] struct{}

// LatestKnownEvent treats every event as an origin and mirrors the newest
// one into the tip, so a point read of the tip suffices to load.
type LatestKnownEvent[E, S any] struct{}

// Snapshot keeps ToSnapshot(state) in the tip. The snapshot event must
// satisfy IsOrigin, and folding it into the initial state must reproduce the
// state it was taken from.
type Snapshot[E, S any] struct {
	IsOrigin   func(E) bool
	ToSnapshot func(S) E
}

// MultiSnapshot is Snapshot with several unfolds per write.
type MultiSnapshot[E, S any] struct {
	IsOrigin    func(E) bool
	ToSnapshots func(S) []E
}

// RollingState stores no events at all. Every write replaces the tip's
// single unfold with ToSnapshot(state). The stream version does not advance,
// so writes are guarded by the tip's etag.
type RollingState[E, S any] struct {
	ToSnapshot func(S) E
}

// Custom lets Transmute split the proposed events into the events to store
// and the unfolds to keep. Writes are guarded by the tip's etag.
type Custom[E, S any] struct {
	IsOrigin  func(E) bool
	Transmute func(events []E, state S) (stored []E, unfolds []E)
}

func (Unoptimized[E, S]) accessStrategy()      {}
func (LatestKnownEvent[E, S]) accessStrategy() {}
func (Snapshot[E, S]) accessStrategy()         {}
func (MultiSnapshot[E, S]) accessStrategy()    {}
func (RollingState[E, S]) accessStrategy()     {}
func (Custom[E, S]) accessStrategy()           {}

// policy is the read side of an AccessStrategy.
type policy[E any] struct {
	isOrigin func(E) bool
	// checkUnfolds is set when unfolds and tip events may hold an origin.
	checkUnfolds bool
	// useEtag guards writes with the tip's etag instead of its version.
	useEtag bool
}

func alwaysOrigin[E any](E) bool { return true }
func neverOrigin[E any](E) bool  { return false }

func policyOf[E, S any](access AccessStrategy[E, S]) policy[E] {
	switch a := access.(type) {
	case Unoptimized[E, S]:
		return policy[E]{isOrigin: neverOrigin[E]}
	case LatestKnownEvent[E, S]:
		return policy[E]{isOrigin: alwaysOrigin[E], checkUnfolds: true}
	case Snapshot[E, S]:
		return policy[E]{isOrigin: a.IsOrigin, checkUnfolds: true}
	case MultiSnapshot[E, S]:
		return policy[E]{isOrigin: a.IsOrigin, checkUnfolds: true}
	case RollingState[E, S]:
		return policy[E]{isOrigin: alwaysOrigin[E], checkUnfolds: true, useEtag: true}
	case Custom[E, S]:
		return policy[E]{isOrigin: a.IsOrigin, checkUnfolds: true, useEtag: true}
	default:
		return policy[E]{isOrigin: neverOrigin[E]}
	}
}

// transmute splits proposed events into events to store and unfolds to keep,
// given the state after folding them.
func transmute[E, S any](access AccessStrategy[E, S], events []E, state S) (stored, unfolds []E) {
	switch a := access.(type) {
	case Unoptimized[E, S]:
		return events, nil
	case LatestKnownEvent[E, S]:
		if len(events) == 0 {
			return events, nil
		}
		return events, events[len(events)-1:]
	case Snapshot[E, S]:
		return events, []E{a.ToSnapshot(state)}
	case MultiSnapshot[E, S]:
		return events, a.ToSnapshots(state)
	case RollingState[E, S]:
		return nil, []E{a.ToSnapshot(state)}
	case Custom[E, S]:
		return a.Transmute(events, state)
	default:
		return events, nil
	}
}
