package es

import (
	"context"
	"time"
)

// LoadPolicy tells a Category how fresh a loaded state has to be.
type LoadPolicy struct {
	// MaxStale is the age up to which a cached state is acceptable. Zero
	// means the store must be consulted.
	MaxStale time.Duration
	// RequireLeader asks for a consistent read from the primary.
	RequireLeader bool
}

type SyncOutcome uint8

const (
	SyncWritten SyncOutcome = iota + 1
	SyncConflict
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncWritten:
		return "written"
	case SyncConflict:
		return "conflict"
	}
	return "unknown"
}

// Resync describes the reload a caller has to perform after a conflict: the
// stream and the token/state it last knew about.
type Resync[S any] struct {
	Stream StreamName
	Token  StreamToken
	State  S
}

// SyncResult is either Written (Token/State are the post-write values) or
// Conflict (Resync is set).
type SyncResult[S any] struct {
	Outcome SyncOutcome
	Token   StreamToken
	State   S
	Resync  *Resync[S]
}

func Written[S any](token StreamToken, state S) SyncResult[S] {
	return SyncResult[S]{Outcome: SyncWritten, Token: token, State: state}
}

func Conflict[S any](stream StreamName, token StreamToken, state S) SyncResult[S] {
	return SyncResult[S]{
		Outcome: SyncConflict,
		Resync:  &Resync[S]{Stream: stream, Token: token, State: state},
	}
}

// Category binds a codec, a fold and a storage strategy for all streams of
// one category. Implementations must be safe for concurrent use.
type Category[E, S any] interface {
	Name() string
	// Empty returns the token and state of a stream that has never been
	// written, without consulting the store.
	Empty() (StreamToken, S)
	Load(ctx context.Context, stream StreamName, policy LoadPolicy) (StreamToken, S, error)
	// Reload brings a previously loaded token/state up to date. It is
	// expected to be cheaper than Load.
	Reload(ctx context.Context, stream StreamName, requireLeader bool, token StreamToken, state S) (StreamToken, S, error)
	// Sync appends events after token. A lost race is reported as a
	// SyncConflict result, not as an error.
	Sync(ctx context.Context, stream StreamName, ec EncodeContext, token StreamToken, state S, events []E) (SyncResult[S], error)
	// Supersedes reports whether candidate is newer than current.
	Supersedes(current, candidate StreamToken) bool
}
