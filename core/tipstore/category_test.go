package tipstore

import (
	"testing"

	"github.com/codewandler/evstore/core/es"
	"github.com/stretchr/testify/require"
)

func TestCategory_EmptyStream(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})

	token, state := f.load(t)
	require.Equal(t, es.Version(0), token.Version)
	require.Nil(t, PositionOf(token))
	require.Empty(t, state.Items)
	require.Equal(t, int64(1), f.table.Stats().TipReads)
}

func TestCategory_AppendThenLoadReadsOnlyTheTip(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{}, WithQueryOptions(QueryOptions{MaxItems: 3}))

	token, state := f.load(t)
	f.sync(t, token, state, Added{N: 1})
	f.table.ResetStats()

	token, state = f.load(t)
	require.Equal(t, es.Version(1), token.Version)
	require.Equal(t, []int{1}, state.Items)

	stats := f.table.Stats()
	require.Equal(t, int64(1), stats.TipReads)
	require.Equal(t, int64(0), stats.QueryPages)
}

func TestCategory_VersionCountsAcceptedEvents(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})

	token, state := f.load(t)
	var versions []es.Version
	for i := 0; i < 4; i++ {
		token, state = f.sync(t, token, state, Added{N: i}, Added{N: i})
		versions = append(versions, token.Version)
	}
	require.Equal(t, []es.Version{2, 4, 6, 8}, versions)
}

func TestCategory_CalvingWritesTwoItemsInOneTransaction(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{}, WithTipOptions(TipOptions{MaxBytes: 300}))

	token, state := f.appendEach(t, 1, 2, 3)
	stats := f.table.Stats()
	require.Equal(t, int64(3), stats.ItemsWritten)
	require.Equal(t, int64(0), stats.Transactions)

	f.table.ResetStats()
	token, _ = f.sync(t, token, state, Added{N: 4})

	stats = f.table.Stats()
	require.Equal(t, int64(1), stats.Writes)
	require.Equal(t, int64(2), stats.ItemsWritten)
	require.Equal(t, int64(1), stats.Transactions)

	calves := f.table.Calves(f.stream.String())
	require.Len(t, calves, 1)
	require.Equal(t, uint64(0), calves[0].Base)
	require.Equal(t, uint64(3), calves[0].N)

	pos := PositionOf(token)
	require.Equal(t, uint64(4), pos.Index)
	require.Len(t, pos.Events, 1)
	require.Positive(t, pos.CalvedBytes)
	require.Equal(t, pos.CalvedBytes+pos.BaseBytes, token.StreamBytes)
}

func TestCategory_CalvingDoesNotChangeHistory(t *testing.T) {
	items := seq(0, 20)

	flat := newFixture(t, Unoptimized[testEvent, itemsState]{})
	flat.appendEach(t, items...)
	require.Empty(t, flat.table.Calves(flat.stream.String()))

	calved := newFixture(t, Unoptimized[testEvent, itemsState]{}, WithTipOptions(TipOptions{MaxBytes: 300}), WithQueryOptions(QueryOptions{MaxItems: 2}))
	calved.appendEach(t, items...)
	require.NotEmpty(t, calved.table.Calves(calved.stream.String()))

	flatToken, flatState := flat.load(t)
	calvedToken, calvedState := calved.load(t)
	require.Equal(t, items, flatState.Items)
	require.Equal(t, flatState, calvedState)
	require.Equal(t, flatToken.Version, calvedToken.Version)
}

func TestCategory_ConflictCarriesResync(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	token, state := f.appendEach(t, 1)

	f.sync(t, token, state, Added{N: 2})

	res, err := f.cat.Sync(t.Context(), f.stream, es.EncodeContext{}, token, state, []testEvent{Added{N: 3}})
	require.NoError(t, err)
	require.Equal(t, es.SyncConflict, res.Outcome)
	require.NotNil(t, res.Resync)
	require.Equal(t, f.stream, res.Resync.Stream)
	require.Equal(t, token, res.Resync.Token)

	token, state, err = f.cat.Reload(t.Context(), res.Resync.Stream, true, res.Resync.Token, res.Resync.State)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, state.Items)

	_, state = f.sync(t, token, state, Added{N: 3})
	require.Equal(t, []int{1, 2, 3}, state.Items)
}

func TestCategory_ConflictOnCreate(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	empty, initial := f.cat.Empty()

	f.sync(t, empty, initial, Added{N: 1})

	res, err := f.cat.Sync(t.Context(), f.stream, es.EncodeContext{}, empty, initial, []testEvent{Added{N: 2}})
	require.NoError(t, err)
	require.Equal(t, es.SyncConflict, res.Outcome)
}

func TestCategory_ReloadNotModified(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	token, state := f.appendEach(t, 1, 2, 3)
	f.codec.decodes.Store(0)
	f.table.ResetStats()

	reloaded, reloadedState, err := f.cat.Reload(t.Context(), f.stream, false, token, state)
	require.NoError(t, err)
	require.Equal(t, token, reloaded)
	require.Equal(t, state, reloadedState)
	require.Equal(t, int64(0), f.codec.decodes.Load())
	require.Equal(t, int64(1), f.table.Stats().TipReads)
}

func TestCategory_ReloadFromTip(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	token, state := f.appendEach(t, 1)

	other, otherState := f.load(t)
	f.sync(t, other, otherState, Added{N: 2}, Added{N: 3})
	f.codec.decodes.Store(0)

	token, state, err := f.cat.Reload(t.Context(), f.stream, false, token, state)
	require.NoError(t, err)
	require.Equal(t, es.Version(3), token.Version)
	require.Equal(t, []int{1, 2, 3}, state.Items)
	require.Equal(t, int64(2), f.codec.decodes.Load())
}

func TestCategory_ReloadAcrossCalves(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{}, WithTipOptions(TipOptions{MaxBytes: 300}), WithQueryOptions(QueryOptions{MaxItems: 1}))
	token, state := f.appendEach(t, 0, 1)

	other, otherState := f.load(t)
	for i := 2; i < 10; i++ {
		other, otherState = f.sync(t, other, otherState, Added{N: i})
	}
	require.Greater(t, PositionOf(other).Base(), PositionOf(token).Index)
	f.table.ResetStats()

	token, state, err := f.cat.Reload(t.Context(), f.stream, false, token, state)
	require.NoError(t, err)
	require.Equal(t, other.Version, token.Version)
	require.Equal(t, seq(0, 10), state.Items)
	require.Positive(t, f.table.Stats().QueryPages)
}

func TestCategory_ReloadWithoutPositionLoads(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	f.appendEach(t, 1, 2)

	empty, initial := f.cat.Empty()
	token, state, err := f.cat.Reload(t.Context(), f.stream, false, empty, initial)
	require.NoError(t, err)
	require.Equal(t, es.Version(2), token.Version)
	require.Equal(t, []int{1, 2}, state.Items)
}

func TestCategory_SkipsUnknownEvents(t *testing.T) {
	f := newFixture(t, Unoptimized[testEvent, itemsState]{})
	token, state := f.appendEach(t, 1)

	tip, err := f.table.ReadTip(t.Context(), f.stream.String(), true)
	require.NoError(t, err)
	tip.Events = append(tip.Events, Event{Type: "Renamed", Data: []byte(`{}`)})
	tip.N++
	require.NoError(t, f.table.WriteTip(t.Context(), f.stream.String(), TipWrite{Expected: AtIndex(1), Tip: *tip}))

	token, state, err = f.cat.Reload(t.Context(), f.stream, false, token, state)
	require.NoError(t, err)
	require.Equal(t, es.Version(2), token.Version)
	require.Equal(t, []int{1}, state.Items)

	_, state = f.sync(t, token, state, Added{N: 3})
	require.Equal(t, []int{1, 3}, state.Items)

	_, loaded := f.load(t)
	require.Equal(t, []int{1, 3}, loaded.Items)
}

func TestCategory_SyncWithoutEventsWritesNothing(t *testing.T) {
	for name, access := range map[string]AccessStrategy[testEvent, itemsState]{
		"unoptimized":        Unoptimized[testEvent, itemsState]{},
		"latest known event": LatestKnownEvent[testEvent, itemsState]{},
		"snapshot":           snapshotStrategy(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, access)
			token, state := f.appendEach(t, 1)
			f.table.ResetStats()

			res, err := f.cat.Sync(t.Context(), f.stream, es.EncodeContext{}, token, state, nil)
			require.NoError(t, err)
			require.Equal(t, es.SyncWritten, res.Outcome)
			require.Equal(t, token, res.Token)
			require.Equal(t, []int{1}, res.State.Items)
			require.Equal(t, int64(0), f.table.Stats().Writes)
		})
	}
}

func TestCategory_EventsAppendedCountsStoredEvents(t *testing.T) {
	m := newAppendCounter()
	f := newFixture(t, Unoptimized[testEvent, itemsState]{}, WithMetrics(m))
	token, state := f.load(t)
	f.sync(t, token, state, Added{N: 1}, Added{N: 2})
	require.Equal(t, int64(2), m.appended.Load())

	m = newAppendCounter()
	rolling := newFixture(t, RollingState[testEvent, itemsState]{ToSnapshot: toSnapshot}, WithMetrics(m))
	token, state = rolling.load(t)
	rolling.sync(t, token, state, Added{N: 1}, Added{N: 2})
	require.Equal(t, int64(0), m.appended.Load(), "rolling state keeps only the snapshot")
}
