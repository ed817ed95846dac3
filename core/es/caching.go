package es

import (
	"context"
	"log/slog"
	"time"

	"github.com/codewandler/evstore/core/cache"
	"github.com/codewandler/evstore/core/sf"
)

// CachingStrategy selects how a Category keeps loaded states in memory. The
// set of strategies is closed: NoCaching, SlidingWindow and FixedTimeSpan.
type CachingStrategy interface {
	putOption() (cache.PutOption, bool)
	store() cache.Cache
}

// NoCaching makes WithCaching return the inner Category unchanged.
type NoCaching struct{}

// SlidingWindow keeps an entry until it has not been used for Window.
type SlidingWindow struct {
	Cache  cache.Cache
	Window time.Duration
}

// FixedTimeSpan keeps an entry for Period after it was last written.
type FixedTimeSpan struct {
	Cache  cache.Cache
	Period time.Duration
}

func (NoCaching) putOption() (cache.PutOption, bool) { return nil, false }
func (NoCaching) store() cache.Cache                 { return nil }

func (s SlidingWindow) putOption() (cache.PutOption, bool) { return cache.WithSlidingTTL(s.Window), true }
func (s SlidingWindow) store() cache.Cache                 { return s.Cache }

func (s FixedTimeSpan) putOption() (cache.PutOption, bool) { return cache.WithTTL(s.Period), true }
func (s FixedTimeSpan) store() cache.Cache                 { return s.Cache }

type cacheEntry[S any] struct {
	token    StreamToken
	state    S
	loadedAt time.Time
}

type cachingCategory[E, S any] struct {
	inner   Category[E, S]
	entries cache.TypedCache[*cacheEntry[S]]
	put     cache.PutOption
	loads   sf.Group[*cacheEntry[S]]
	log     *slog.Logger
	metrics ESMetrics
	now     func() time.Time
}

// WithCaching decorates inner with an in-memory cache of loaded states keyed
// by stream name. Entries are only ever replaced by newer ones according to
// inner.Supersedes; they are never invalidated explicitly.
func WithCaching[E, S any](inner Category[E, S], strategy CachingStrategy, opts ...CachingOption) Category[E, S] {
	put, ok := strategy.putOption()
	if !ok || strategy.store() == nil {
		return inner
	}
	options := newCachingOpts(opts...)
	return &cachingCategory[E, S]{
		inner:   inner,
		entries: cache.NewTyped[*cacheEntry[S]](strategy.store()),
		put:     put,
		log:     options.log.With(slog.String("category", inner.Name())),
		metrics: options.metrics,
		now:     time.Now,
	}
}

func (c *cachingCategory[E, S]) Name() string { return c.inner.Name() }

func (c *cachingCategory[E, S]) Empty() (StreamToken, S) { return c.inner.Empty() }

func (c *cachingCategory[E, S]) Supersedes(current, candidate StreamToken) bool {
	return c.inner.Supersedes(current, candidate)
}

func (c *cachingCategory[E, S]) Load(ctx context.Context, stream StreamName, policy LoadPolicy) (StreamToken, S, error) {
	key := stream.String()
	category := stream.Category()

	if cached, ok := c.entries.Get(key); ok {
		if policy.MaxStale > 0 && c.now().Sub(cached.loadedAt) <= policy.MaxStale {
			c.metrics.CacheHit(category)
			c.log.Debug("cache hit", stream.SlogAttr(), cached.token.SlogAttr())
			return cached.token, cached.state, nil
		}
		c.metrics.CacheMiss(category)
		c.log.Debug("cache revalidate", stream.SlogAttr(), cached.token.SlogAttr())
		return c.Reload(ctx, stream, policy.RequireLeader, cached.token, cached.state)
	}

	c.metrics.CacheMiss(category)
	c.log.Debug("cache miss", stream.SlogAttr())

	loaded, _, err := c.loads.Do(ctx, key, func(ctx context.Context) (*cacheEntry[S], error) {
		token, state, err := c.inner.Load(ctx, stream, LoadPolicy{RequireLeader: policy.RequireLeader})
		if err != nil {
			return nil, err
		}
		return c.update(key, token, state), nil
	})
	if err != nil {
		var zero S
		return StreamToken{}, zero, err
	}
	return loaded.token, loaded.state, nil
}

func (c *cachingCategory[E, S]) Reload(ctx context.Context, stream StreamName, requireLeader bool, token StreamToken, state S) (StreamToken, S, error) {
	token, state, err := c.inner.Reload(ctx, stream, requireLeader, token, state)
	if err != nil {
		return token, state, err
	}
	e := c.update(stream.String(), token, state)
	return e.token, e.state, nil
}

func (c *cachingCategory[E, S]) Sync(ctx context.Context, stream StreamName, ec EncodeContext, token StreamToken, state S, events []E) (SyncResult[S], error) {
	res, err := c.inner.Sync(ctx, stream, ec, token, state, events)
	if err != nil {
		return res, err
	}
	if res.Outcome == SyncWritten {
		c.update(stream.String(), res.Token, res.State)
	}
	return res, nil
}

// update stores the given token/state unless the cache already holds a newer
// one, and returns whichever entry is current afterwards. An entry for the
// same token is replaced so its load time moves forward.
func (c *cachingCategory[E, S]) update(key string, token StreamToken, state S) *cacheEntry[S] {
	candidate := &cacheEntry[S]{token: token, state: state, loadedAt: c.now()}
	stored := c.entries.UpdateIfNewer(key, candidate, func(current, candidate *cacheEntry[S]) bool {
		if c.inner.Supersedes(current.token, candidate.token) {
			return true
		}
		return !c.inner.Supersedes(candidate.token, current.token) && !candidate.loadedAt.Before(current.loadedAt)
	}, c.put)
	if stored {
		return candidate
	}
	if current, ok := c.entries.Get(key); ok {
		return current
	}
	return candidate
}
