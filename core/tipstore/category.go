package tipstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/evstore/core/es"
)

// Category implements es.Category for all streams of one category on a
// Store.
type Category[E, S any] struct {
	name    string
	store   *Store
	codec   es.Codec[E]
	fold    es.Fold[E, S]
	initial S
	access  AccessStrategy[E, S]
	policy  policy[E]
	log     *slog.Logger
	now     func() time.Time
}

func NewCategory[E, S any](
	store *Store,
	name string,
	codec es.Codec[E],
	fold es.Fold[E, S],
	initial S,
	access AccessStrategy[E, S],
) *Category[E, S] {
	if access == nil {
		access = Unoptimized[E, S]{}
	}
	return &Category[E, S]{
		name:    name,
		store:   store,
		codec:   codec,
		fold:    fold,
		initial: initial,
		access:  access,
		policy:  policyOf(access),
		log:     store.log.With(slog.String("category", name)),
		now:     time.Now,
	}
}

func (c *Category[E, S]) Name() string { return c.name }

func (c *Category[E, S]) Empty() (es.StreamToken, S) { return Token(nil), c.initial }

func (c *Category[E, S]) Supersedes(current, candidate es.StreamToken) bool {
	return Supersedes(current, candidate)
}

func (c *Category[E, S]) Load(ctx context.Context, stream es.StreamName, policy es.LoadPolicy) (es.StreamToken, S, error) {
	defer c.store.metrics.LoadDuration(c.name).ObserveDuration()

	tip, err := c.store.readTip(ctx, stream, policy.RequireLeader)
	if err != nil {
		return es.StreamToken{}, c.initial, err
	}
	if tip == nil {
		c.log.Debug("load: no stream", stream.SlogAttr())
		token, state := c.Empty()
		return token, state, nil
	}
	c.store.metrics.TipRead(c.name, es.TipFound)
	return c.loadFrom(ctx, stream, tip, policy.RequireLeader)
}

// loadFrom folds the stream from the initial state, starting at the newest
// origin at or below tip.
func (c *Category[E, S]) loadFrom(ctx context.Context, stream es.StreamName, tip *Batch, consistent bool) (es.StreamToken, S, error) {
	pos := positionOf(tip)
	scan := &backwardScan[E]{codec: c.codec, isOrigin: c.policy.isOrigin, lowest: tip.Base}

	if c.policy.checkUnfolds {
		scan.feed(tipTimeline(tip))
	} else {
		scan.feed(timeline(*tip))
	}

	if !scan.found && scan.lowest > 0 {
		if err := scanBackward(ctx, c.store, c.store.table, stream, scan.lowest, consistent, scan); err != nil {
			return es.StreamToken{}, c.initial, fmt.Errorf("load %s: %w", stream, err)
		}
	}
	if !scan.found && scan.lowest > 0 && c.store.archive != nil {
		c.log.Debug("load: continuing on archive", stream.SlogAttr(), slog.Uint64("below", scan.lowest))
		if err := scanBackward(ctx, c.store, c.store.archive, stream, scan.lowest, consistent, scan); err != nil {
			return es.StreamToken{}, c.initial, fmt.Errorf("load %s from archive: %w", stream, err)
		}
	}
	if !scan.found && scan.lowest > 0 {
		if !c.store.query.IgnoreMissingEvents {
			return es.StreamToken{}, c.initial, fmt.Errorf("load %s: %w: events below %d are missing", stream, ErrOriginNotFound, scan.lowest)
		}
		c.log.Warn("load: ignoring missing events", stream.SlogAttr(), slog.Uint64("below", scan.lowest))
	}

	events := scan.events()
	c.log.Debug("loaded", stream.SlogAttr(), pos.SlogAttr(), slog.Int("num_events", len(events)), slog.Bool("origin", scan.found))
	return Token(pos), c.fold(c.initial, events), nil
}

func (c *Category[E, S]) Reload(ctx context.Context, stream es.StreamName, requireLeader bool, token es.StreamToken, state S) (es.StreamToken, S, error) {
	defer c.store.metrics.ReloadDuration(c.name).ObserveDuration()

	pos := PositionOf(token)
	tip, err := c.store.readTip(ctx, stream, requireLeader)
	if err != nil {
		return token, state, err
	}
	if tip == nil {
		if pos == nil {
			return token, state, nil
		}
		return token, state, fmt.Errorf("reload %s: tip disappeared at version %d", stream, pos.Index)
	}
	if pos != nil && tip.Etag == pos.Etag && tip.N == pos.Index {
		c.store.metrics.TipRead(c.name, es.TipNotModified)
		c.log.Debug("reload: not modified", stream.SlogAttr(), pos.SlogAttr())
		return token, state, nil
	}
	c.store.metrics.TipRead(c.name, es.TipFound)

	if pos == nil {
		return c.loadFrom(ctx, stream, tip, requireLeader)
	}

	next := positionOf(tip)

	// etag guarded strategies may rewrite unfolds without advancing the
	// version, so the newest origin wins over an incremental fold.
	if c.policy.useEtag {
		scan := &backwardScan[E]{codec: c.codec, isOrigin: c.policy.isOrigin, lowest: tip.Base}
		scan.feed(tipTimeline(tip))
		if scan.found {
			return Token(next), c.fold(c.initial, scan.events()), nil
		}
	}

	if tip.N < pos.Index {
		return token, state, fmt.Errorf("reload %s: tip version %d is behind %d", stream, tip.N, pos.Index)
	}

	if tip.Base <= pos.Index {
		events := decodeAll(c.codec, timeline(*tip), pos.Index)
		c.log.Debug("reloaded from tip", stream.SlogAttr(), next.SlogAttr(), slog.Int("num_events", len(events)))
		return Token(next), c.fold(state, events), nil
	}

	calved, complete, err := scanForward(ctx, c.store, stream, pos.Index, tip.Base, requireLeader)
	if err != nil {
		return token, state, fmt.Errorf("reload %s: %w", stream, err)
	}
	if !complete {
		c.log.Debug("reload: gap in calves, loading from scratch", stream.SlogAttr(), pos.SlogAttr())
		return c.loadFrom(ctx, stream, tip, requireLeader)
	}

	events := decodeAll(c.codec, append(calved, timeline(*tip)...), pos.Index)
	c.log.Debug("reloaded from calves", stream.SlogAttr(), next.SlogAttr(), slog.Int("num_events", len(events)))
	return Token(next), c.fold(state, events), nil
}

func (c *Category[E, S]) Sync(
	ctx context.Context,
	stream es.StreamName,
	ec es.EncodeContext,
	token es.StreamToken,
	state S,
	events []E,
) (es.SyncResult[S], error) {
	defer c.store.metrics.SyncDuration(c.name).ObserveDuration()

	if len(events) == 0 {
		return es.Written(token, state), nil
	}

	pos := PositionOf(token)
	next := c.fold(state, events)
	stored, unfolds := transmute(c.access, events, next)

	var version uint64
	if pos != nil {
		version = pos.Index
	}
	now := c.now().UTC()

	appended := make([]Event, len(stored))
	for i, e := range stored {
		data, err := c.codec.Encode(e, ec)
		if err != nil {
			return es.SyncResult[S]{}, fmt.Errorf("encode event: %w", err)
		}
		appended[i] = eventOf(data, now)
	}

	n := version + uint64(len(appended))
	encodedUnfolds := make([]Unfold, len(unfolds))
	for i, u := range unfolds {
		data, err := c.codec.Encode(u, ec)
		if err != nil {
			return es.SyncResult[S]{}, fmt.Errorf("encode unfold: %w", err)
		}
		encodedUnfolds[i] = Unfold{Index: n, Timestamp: now, Type: data.Type, Data: data.Data, Meta: data.Meta}
	}

	var expected Precondition
	switch {
	case pos == nil:
		expected = NotExists()
	case c.policy.useEtag:
		expected = AtEtag(pos.Etag)
	default:
		expected = AtIndex(pos.Index)
	}

	etag, err := c.store.newEtag()
	if err != nil {
		return es.SyncResult[S]{}, fmt.Errorf("etag: %w", err)
	}

	w, nextPos, err := planWrite(pos, expected, appended, encodedUnfolds, etag, c.store.tip)
	if err != nil {
		return es.SyncResult[S]{}, fmt.Errorf("sync %s: %w", stream, err)
	}

	conflict, err := c.store.write(ctx, stream, w)
	if err != nil {
		return es.SyncResult[S]{}, fmt.Errorf("sync %s: %w", stream, err)
	}
	if conflict {
		c.log.Debug("sync: conflict", stream.SlogAttr(), slog.String("expected", expected.String()))
		return es.Conflict(stream, token, state), nil
	}

	c.store.metrics.EventsAppended(c.name, len(appended))
	c.log.Debug(
		"sync: written",
		stream.SlogAttr(),
		nextPos.SlogAttr(),
		slog.Int("num_events", len(appended)),
		slog.Int("num_unfolds", len(encodedUnfolds)),
		slog.Int("num_calves", len(w.Calves)),
	)
	return es.Written(Token(nextPos), next), nil
}

func eventOf(data es.EventData, now time.Time) Event {
	ts := data.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Event{
		Timestamp:     ts,
		Type:          data.Type,
		Data:          data.Data,
		Meta:          data.Meta,
		CorrelationID: data.CorrelationID,
		CausationID:   data.CausationID,
	}
}

var _ es.Category[any, any] = (*Category[any, any])(nil)
