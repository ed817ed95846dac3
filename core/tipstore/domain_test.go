package tipstore

import (
	"slices"
	"sync/atomic"
	"testing"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/codec"
	"github.com/stretchr/testify/require"
)

type testEvent interface{ isTestEvent() }

type Added struct {
	N int `json:"n"`
}

type Snapshotted struct {
	Items []int `json:"items"`
}

func (Added) isTestEvent()       {}
func (Snapshotted) isTestEvent() {}

type itemsState struct {
	Items []int
}

func foldItems(s itemsState, events []testEvent) itemsState {
	items := slices.Clone(s.Items)
	for _, e := range events {
		switch e := e.(type) {
		case Added:
			items = append(items, e.N)
		case Snapshotted:
			items = slices.Clone(e.Items)
		}
	}
	return itemsState{Items: items}
}

func toSnapshot(s itemsState) testEvent { return Snapshotted{Items: slices.Clone(s.Items)} }

func isSnapshot(e testEvent) bool {
	_, ok := e.(Snapshotted)
	return ok
}

// countingCodec counts Decode calls.
type countingCodec struct {
	es.Codec[testEvent]
	decodes atomic.Int64
}

func (c *countingCodec) Decode(e es.TimelineEvent) (testEvent, bool) {
	c.decodes.Add(1)
	return c.Codec.Decode(e)
}

func newCountingCodec() *countingCodec {
	return &countingCodec{Codec: codec.NewJSON[testEvent](codec.Type[Added](), codec.Type[Snapshotted]())}
}

// appendCounter records EventsAppended.
type appendCounter struct {
	es.ESMetrics
	appended atomic.Int64
}

func newAppendCounter() *appendCounter { return &appendCounter{ESMetrics: es.NopESMetrics()} }

func (m *appendCounter) EventsAppended(_ string, n int) { m.appended.Add(int64(n)) }

type fixture struct {
	table  *MemoryTable
	store  *Store
	codec  *countingCodec
	cat    *Category[testEvent, itemsState]
	stream es.StreamName
}

func newFixture(t *testing.T, access AccessStrategy[testEvent, itemsState], opts ...StoreOption) *fixture {
	t.Helper()
	table := NewMemoryTable()
	store := NewStore(table, opts...)
	c := newCountingCodec()
	return &fixture{
		table:  table,
		store:  store,
		codec:  c,
		cat:    NewCategory(store, "items", es.Codec[testEvent](c), foldItems, itemsState{}, access),
		stream: es.MustStreamName("items", "1"),
	}
}

func (f *fixture) load(t *testing.T) (es.StreamToken, itemsState) {
	t.Helper()
	token, state, err := f.cat.Load(t.Context(), f.stream, es.LoadPolicy{})
	require.NoError(t, err)
	return token, state
}

func (f *fixture) sync(t *testing.T, token es.StreamToken, state itemsState, events ...testEvent) (es.StreamToken, itemsState) {
	t.Helper()
	res, err := f.cat.Sync(t.Context(), f.stream, es.EncodeContext{}, token, state, events)
	require.NoError(t, err)
	require.Equal(t, es.SyncWritten, res.Outcome)
	return res.Token, res.State
}

// appendEach writes one Added event per sync for every n in ns.
func (f *fixture) appendEach(t *testing.T, ns ...int) (es.StreamToken, itemsState) {
	t.Helper()
	token, state := f.load(t)
	for _, n := range ns {
		token, state = f.sync(t, token, state, Added{N: n})
	}
	return token, state
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
