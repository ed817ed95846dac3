package es

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func add(n int) func(int) []int { return func(int) []int { return []int{n} } }

func newTestDecider(t *testing.T, cat Category[int, int], opts ...DeciderOption) *Decider[int, int] {
	t.Helper()
	d, err := NewDecider[int, int](cat, "1", opts...)
	require.NoError(t, err)
	return d
}

func TestNewDecider_InvalidStreamID(t *testing.T) {
	_, err := NewDecider[int, int](newFakeCategory(), "")
	require.ErrorIs(t, err, ErrInvalidStreamName)
}

func TestDecider_Transact(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)
	require.Equal(t, "fake-1", d.Stream().String())

	require.NoError(t, d.Transact(t.Context(), add(2)))
	require.NoError(t, d.Transact(t.Context(), add(3)))

	sum, err := Query(t.Context(), d, func(s int) int { return s })
	require.NoError(t, err)
	require.Equal(t, 5, sum)
}

func TestDecider_NoEventsNoWrite(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)

	require.NoError(t, d.Transact(t.Context(), func(int) []int { return nil }))
	_, _, syncs := cat.counts()
	require.Zero(t, syncs)
}

func TestDecider_ResyncsOnConflict(t *testing.T) {
	cat := newFakeCategory()
	cat.conflicts = 2
	d := newTestDecider(t, cat)

	var seen []int
	require.NoError(t, d.Transact(t.Context(), func(s int) []int {
		seen = append(seen, s)
		return []int{1}
	}))

	loads, reloads, syncs := cat.counts()
	require.Equal(t, 1, loads)
	require.Equal(t, 2, reloads)
	require.Equal(t, 3, syncs)
	require.Len(t, seen, 3)
}

func TestDecider_MaxResyncsExhausted(t *testing.T) {
	cat := newFakeCategory()
	cat.conflicts = 10
	d := newTestDecider(t, cat, WithMaxAttempts(4))

	err := d.Transact(t.Context(), add(1))
	require.ErrorIs(t, err, ErrMaxResyncsExhausted)

	var exhausted *MaxResyncsExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 4, exhausted.Attempts)
	require.Equal(t, d.Stream(), exhausted.Stream)

	_, reloads, syncs := cat.counts()
	require.Equal(t, 3, reloads)
	require.Equal(t, 4, syncs)
}

func TestDecider_InfrastructureErrorsAreNotRetried(t *testing.T) {
	cat := newFakeCategory()
	cat.syncErr = errInfra
	d := newTestDecider(t, cat)

	require.ErrorIs(t, d.Transact(t.Context(), add(1)), errInfra)
	_, reloads, syncs := cat.counts()
	require.Zero(t, reloads)
	require.Equal(t, 1, syncs)

	cat.loadErr = errInfra
	_, err := Query(t.Context(), d, func(s int) int { return s })
	require.ErrorIs(t, err, errInfra)
}

func TestDecider_DecisionErrorsAreReturned(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)
	boom := errors.New("refused")

	err := d.TransactAsync(t.Context(), func(context.Context, int) ([]int, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	_, _, syncs := cat.counts()
	require.Zero(t, syncs)
}

func TestTransactResult_ReturnsAcceptedAttempt(t *testing.T) {
	cat := newFakeCategory()
	cat.conflicts = 1
	d := newTestDecider(t, cat)

	attempt := 0
	res, err := TransactResult(t.Context(), d, func(s int) (int, []int) {
		attempt++
		return attempt, []int{1}
	})
	require.NoError(t, err)
	require.Equal(t, 2, res)
}

func TestTransactEx(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)
	require.NoError(t, d.Transact(t.Context(), add(4)))

	type view struct {
		after  Version
		result string
	}
	v, err := TransactEx(t.Context(), d,
		func(_ context.Context, dc DecisionContext[int]) (string, []int, error) {
			require.Equal(t, 4, dc.State)
			require.Equal(t, int64(8), dc.StreamEventBytes)
			return "ok", []int{1, 1}, nil
		},
		func(r string, dc DecisionContext[int]) view {
			return view{after: dc.Version, result: r}
		},
	)
	require.NoError(t, err)
	require.Equal(t, Version(3), v.after)
	require.Equal(t, "ok", v.result)
}

func TestQueryEx(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)
	require.NoError(t, d.Transact(t.Context(), func(int) []int { return []int{1, 2, 3} }))

	v, err := QueryEx(t.Context(), d, func(dc DecisionContext[int]) Version { return dc.Version })
	require.NoError(t, err)
	require.Equal(t, Version(3), v)

	_, _, syncs := cat.counts()
	require.Equal(t, 1, syncs)
}

func TestDecider_AssumeEmptySkipsLoad(t *testing.T) {
	cat := newFakeCategory()
	d := newTestDecider(t, cat)

	require.NoError(t, d.Transact(t.Context(), add(1), AssumeEmpty()))
	loads, reloads, _ := cat.counts()
	require.Zero(t, loads)
	require.Zero(t, reloads)

	// the stream exists now, so assuming it is empty costs one conflict
	require.NoError(t, d.Transact(t.Context(), add(1), AssumeEmpty()))
	loads, reloads, syncs := cat.counts()
	require.Zero(t, loads)
	require.Equal(t, 1, reloads)
	require.Equal(t, 3, syncs)
}

func TestLoadOptions(t *testing.T) {
	o := newLoadOpts(AllowStale(5))
	require.EqualValues(t, 5, o.maxStale)

	o = newLoadOpts(AnyCachedValue(), RequireLoad())
	require.Zero(t, o.maxStale)

	o = newLoadOpts(AnyCachedValue(), RequireLeader())
	require.Zero(t, o.maxStale)
	require.True(t, o.requireLeader)

	o = newLoadOpts(AssumeEmpty())
	require.True(t, o.assumeEmpty)

	require.Equal(t, 1, newDeciderOpts(WithMaxAttempts(0)).maxAttempts)
	require.Equal(t, DefaultMaxAttempts, newDeciderOpts().maxAttempts)
}
