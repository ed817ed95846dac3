package es

import (
	"testing"
	"time"

	"github.com/codewandler/evstore/core/cache"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	nopESMetrics
	hits, misses int
}

func (m *countingMetrics) CacheHit(string)  { m.hits++ }
func (m *countingMetrics) CacheMiss(string) { m.misses++ }

func newCached(t *testing.T, inner Category[int, int]) (*cachingCategory[int, int], *countingMetrics) {
	t.Helper()
	m := &countingMetrics{}
	c := WithCaching(inner, SlidingWindow{Cache: cache.NewLRU(cache.LRUOpts{}), Window: time.Minute}, WithMetrics(m))
	cc, ok := c.(*cachingCategory[int, int])
	require.True(t, ok)
	return cc, m
}

func TestWithCaching_NoCaching(t *testing.T) {
	inner := newFakeCategory()
	require.Same(t, inner, WithCaching[int, int](inner, NoCaching{}))
}

func TestCaching_HitWithinMaxStale(t *testing.T) {
	inner := newFakeCategory()
	c, m := newCached(t, inner)
	stream := MustStreamName("fake", "1")

	_, _, err := c.Load(t.Context(), stream, LoadPolicy{})
	require.NoError(t, err)

	_, _, err = c.Load(t.Context(), stream, LoadPolicy{MaxStale: time.Minute})
	require.NoError(t, err)

	loads, reloads, _ := inner.counts()
	require.Equal(t, 1, loads)
	require.Zero(t, reloads)
	require.Equal(t, 1, m.hits)
	require.Equal(t, 1, m.misses)
}

func TestCaching_RequireLoadReloads(t *testing.T) {
	inner := newFakeCategory()
	c, _ := newCached(t, inner)
	stream := MustStreamName("fake", "1")

	_, _, err := c.Load(t.Context(), stream, LoadPolicy{})
	require.NoError(t, err)
	_, _, err = c.Load(t.Context(), stream, LoadPolicy{})
	require.NoError(t, err)

	loads, reloads, _ := inner.counts()
	require.Equal(t, 1, loads)
	require.Equal(t, 1, reloads)
}

func TestCaching_StaleEntryIsReloaded(t *testing.T) {
	inner := newFakeCategory()
	c, _ := newCached(t, inner)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	stream := MustStreamName("fake", "1")

	_, _, err := c.Load(t.Context(), stream, LoadPolicy{})
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	_, _, err = c.Load(t.Context(), stream, LoadPolicy{MaxStale: 5 * time.Second})
	require.NoError(t, err)

	_, reloads, _ := inner.counts()
	require.Equal(t, 1, reloads)
}

func TestCaching_SyncRefreshesEntry(t *testing.T) {
	inner := newFakeCategory()
	c, _ := newCached(t, inner)
	stream := MustStreamName("fake", "1")

	token, state, err := c.Load(t.Context(), stream, LoadPolicy{})
	require.NoError(t, err)
	res, err := c.Sync(t.Context(), stream, EncodeContext{}, token, state, []int{7})
	require.NoError(t, err)
	require.Equal(t, SyncWritten, res.Outcome)

	token, state, err = c.Load(t.Context(), stream, LoadPolicy{MaxStale: time.Hour})
	require.NoError(t, err)
	require.Equal(t, Version(1), token.Version)
	require.Equal(t, 7, state)
}

func TestCaching_NeverRegresses(t *testing.T) {
	for _, order := range [][]Version{{1, 2}, {2, 1}} {
		inner := newFakeCategory()
		c, _ := newCached(t, inner)
		key := MustStreamName("fake", "1").String()

		for _, v := range order {
			c.update(key, StreamToken{Version: v}, int(v)*10)
		}

		e, ok := c.entries.Get(key)
		require.True(t, ok)
		require.Equal(t, Version(2), e.token.Version)
		require.Equal(t, 20, e.state)
	}
}

func TestCaching_StaleUpdateReturnsCurrentEntry(t *testing.T) {
	inner := newFakeCategory()
	c, _ := newCached(t, inner)
	key := MustStreamName("fake", "1").String()

	c.update(key, StreamToken{Version: 5}, 50)
	e := c.update(key, StreamToken{Version: 3}, 30)
	require.Equal(t, Version(5), e.token.Version)
	require.Equal(t, 50, e.state)
}

func TestCaching_ConflictResyncGoesThroughCache(t *testing.T) {
	inner := newFakeCategory()
	c, _ := newCached(t, inner)
	d := NewDeciderFor[int, int](c, MustStreamName("fake", "1"))

	require.NoError(t, d.Transact(t.Context(), add(1)))

	// another writer moves the stream on behind the cache's back
	inner.mu.Lock()
	inner.streams["fake-1"] = append(inner.streams["fake-1"], 10)
	inner.mu.Unlock()

	require.NoError(t, d.Transact(t.Context(), add(100), AnyCachedValue()))

	token, state, err := c.Load(t.Context(), d.Stream(), LoadPolicy{MaxStale: time.Hour})
	require.NoError(t, err)
	require.Equal(t, Version(3), token.Version)
	require.Equal(t, 111, state)
}
