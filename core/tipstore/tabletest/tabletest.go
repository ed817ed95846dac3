// Package tabletest is a conformance suite for tipstore.Table
// implementations. Adapters run it against their backend:
//
//	func TestTable(t *testing.T) {
//		tabletest.Run(t, newTestTable(t))
//	}
package tabletest

import (
	"fmt"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/estests/domain"
	"github.com/codewandler/evstore/core/tipstore"
)

// Run exercises table. Every subtest writes to streams of its own, so a
// single table may be shared with other tests.
func Run(t *testing.T, table tipstore.Table) {
	t.Run("missing tip", func(t *testing.T) {
		tip, err := table.ReadTip(t.Context(), newStream(), true)
		require.NoError(t, err)
		require.Nil(t, tip)
	})

	t.Run("create", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		tip := Tip(0, 2, "a")
		tip.Unfolds = []tipstore.Unfold{{Index: 2, Timestamp: ts(9), Type: "Snapshotted", Data: []byte(`{"n":2}`)}}
		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.NotExists(), Tip: tip}))

		got, err := table.ReadTip(ctx, stream, true)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, tip, *got)

		err = table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.NotExists(), Tip: Tip(0, 1, "b")})
		require.ErrorIs(t, err, tipstore.ErrConditionFailed)
	})

	t.Run("index precondition", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.NotExists(), Tip: Tip(0, 2, "a")}))

		next := Tip(0, 3, "b")
		err := table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtIndex(1), Tip: next, Appended: next.Events[2:]})
		require.ErrorIs(t, err, tipstore.ErrConditionFailed)

		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtIndex(2), Tip: next, Appended: next.Events[2:]}))

		got, err := table.ReadTip(ctx, stream, true)
		require.NoError(t, err)
		require.Equal(t, next, *got)

		err = table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtIndex(2), Tip: Tip(0, 4, "c")})
		require.ErrorIs(t, err, tipstore.ErrConditionFailed)
	})

	t.Run("etag precondition", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		err := table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtEtag("a"), Tip: Tip(0, 1, "b")})
		require.ErrorIs(t, err, tipstore.ErrConditionFailed)

		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.NotExists(), Tip: Tip(0, 1, "a")}))

		// same N, new etag: how a rolling state replaces its unfolds
		rolled := Tip(0, 1, "b")
		rolled.Unfolds = []tipstore.Unfold{{Index: 1, Timestamp: ts(1), Type: "State", Data: []byte(`{}`)}}
		require.ErrorIs(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtEtag("x"), Tip: rolled}), tipstore.ErrConditionFailed)
		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{Expected: tipstore.AtEtag("a"), Tip: rolled}))

		got, err := table.ReadTip(ctx, stream, true)
		require.NoError(t, err)
		require.Equal(t, rolled, *got)
	})

	t.Run("calves are written with the tip", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		tip := Tip(4, 5, "a")
		tip.CalvedBytes = 1234
		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.NotExists(),
			Tip:      tip,
			Calves:   []tipstore.Batch{Calf(0, 2), Calf(2, 4)},
		}))

		got, err := table.ReadTip(ctx, stream, true)
		require.NoError(t, err)
		require.Equal(t, tip, *got)

		page, err := table.QueryBatches(ctx, stream, tipstore.BatchQuery{Hi: tipstore.TipIndex, Consistent: true})
		require.NoError(t, err)
		require.Nil(t, page.Next)
		require.Equal(t, []tipstore.Batch{Calf(0, 2), Calf(2, 4)}, page.Batches)

		page, err = table.QueryBatches(ctx, stream, tipstore.BatchQuery{Hi: tipstore.TipIndex, Backward: true, Consistent: true})
		require.NoError(t, err)
		require.Equal(t, []tipstore.Batch{Calf(2, 4), Calf(0, 2)}, page.Batches)
	})

	t.Run("query bounds", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()
		writeCalves(t, table, stream, 5, 2)

		page, err := table.QueryBatches(ctx, stream, tipstore.BatchQuery{Lo: 2, Hi: 8, Consistent: true})
		require.NoError(t, err)
		require.Equal(t, []uint64{2, 4, 6}, bases(page.Batches))

		page, err = table.QueryBatches(ctx, stream, tipstore.BatchQuery{MinN: 6, Hi: tipstore.TipIndex, Consistent: true})
		require.NoError(t, err)
		require.Equal(t, []uint64{6, 8}, bases(page.Batches))

		page, err = table.QueryBatches(ctx, stream, tipstore.BatchQuery{Lo: 3, Hi: 3, Consistent: true})
		require.NoError(t, err)
		require.Empty(t, page.Batches)
	})

	t.Run("paging", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()
		writeCalves(t, table, stream, 7, 1)

		for _, backward := range []bool{false, true} {
			cur := tipstore.NewCursor(table, stream, tipstore.BatchQuery{Hi: tipstore.TipIndex, Backward: backward, Limit: 3, Consistent: true}, 0)
			var seen []uint64
			for {
				batches, ok, err := cur.Next(ctx)
				require.NoError(t, err)
				if !ok {
					break
				}
				require.LessOrEqual(t, len(batches), 3)
				seen = append(seen, bases(batches)...)
			}
			want := []uint64{0, 1, 2, 3, 4, 5, 6}
			if backward {
				want = []uint64{6, 5, 4, 3, 2, 1, 0}
			}
			require.Equal(t, want, seen, "backward=%v", backward)
			require.GreaterOrEqual(t, cur.Requests(), 3)
		}
	})

	t.Run("calf collision fails the whole write", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.NotExists(),
			Tip:      Tip(2, 3, "a"),
			Calves:   []tipstore.Batch{Calf(0, 2)},
		}))

		err := table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.AtEtag("a"),
			Tip:      Tip(3, 4, "b"),
			Calves:   []tipstore.Batch{Calf(0, 3)},
		})
		require.ErrorIs(t, err, tipstore.ErrConditionFailed)

		got, err := table.ReadTip(ctx, stream, true)
		require.NoError(t, err)
		require.Equal(t, "a", got.Etag)

		page, err := table.QueryBatches(ctx, stream, tipstore.BatchQuery{Hi: tipstore.TipIndex, Consistent: true})
		require.NoError(t, err)
		require.Equal(t, []tipstore.Batch{Calf(0, 2)}, page.Batches)
	})

	t.Run("rewriting an identical calf succeeds", func(t *testing.T) {
		ctx := t.Context()
		stream := newStream()

		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.NotExists(),
			Tip:      Tip(2, 3, "a"),
			Calves:   []tipstore.Batch{Calf(0, 2)},
		}))
		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.AtEtag("a"),
			Tip:      Tip(2, 4, "b"),
			Calves:   []tipstore.Batch{Calf(0, 2)},
		}))

		page, err := table.QueryBatches(ctx, stream, tipstore.BatchQuery{Hi: tipstore.TipIndex, Consistent: true})
		require.NoError(t, err)
		require.Len(t, page.Batches, 1)
	})

	t.Run("decider round trip", func(t *testing.T) {
		ctx := t.Context()
		store := tipstore.NewStore(table, tipstore.WithTipOptions(tipstore.TipOptions{MaxBytes: 600}))
		cat := domain.NewCategory(store, domain.SnapshotStrategy())

		streamID := gonanoid.Must()
		d, err := es.NewDecider(cat, streamID)
		require.NoError(t, err)
		for range 20 {
			require.NoError(t, d.Transact(ctx, domain.Inc))
		}

		// a fresh category has no state in memory
		fresh, err := es.NewDecider(domain.NewCategory(store, domain.SnapshotStrategy()), streamID)
		require.NoError(t, err)
		got, err := es.QueryEx(ctx, fresh, func(dc es.DecisionContext[domain.State]) es.DecisionContext[domain.State] { return dc })
		require.NoError(t, err)
		require.Equal(t, uint16(20), got.State.Counter)
		require.Equal(t, es.Version(20), got.Version)

		page, err := table.QueryBatches(ctx, d.Stream().String(), tipstore.BatchQuery{Hi: tipstore.TipIndex, Consistent: true})
		require.NoError(t, err)
		require.NotEmpty(t, page.Batches, "tip should have calved")
	})
}

// Tip returns a valid tip holding events base..n-1.
func Tip(base, n uint64, etag string) tipstore.Batch {
	b := Calf(base, n)
	b.Etag = etag
	return b
}

// Calf returns a valid calf holding events base..n-1.
func Calf(base, n uint64) tipstore.Batch {
	b := tipstore.Batch{Base: base, N: n}
	for i := base; i < n; i++ {
		b.Events = append(b.Events, Event(i))
	}
	return b
}

// Event returns the event Tip and Calf store at index i.
func Event(i uint64) tipstore.Event {
	return tipstore.Event{
		Timestamp:     ts(int64(i)),
		Type:          "Added",
		Data:          fmt.Appendf(nil, `{"n":%d}`, i),
		CorrelationID: fmt.Sprintf("corr-%d", i),
	}
}

func ts(i int64) time.Time {
	return time.Unix(1_700_000_000+i, 0).UTC()
}

func newStream() string {
	return "test-" + gonanoid.Must()
}

// writeCalves stores count calves of size events each below a tip.
func writeCalves(t *testing.T, table tipstore.Table, stream string, count, size uint64) {
	t.Helper()
	calves := make([]tipstore.Batch, 0, count)
	for i := range count {
		calves = append(calves, Calf(i*size, (i+1)*size))
	}
	n := count * size
	require.NoError(t, table.WriteTip(t.Context(), stream, tipstore.TipWrite{
		Expected: tipstore.NotExists(),
		Tip:      Tip(n, n+1, "a"),
		Calves:   calves,
	}))
}

func bases(batches []tipstore.Batch) []uint64 {
	out := make([]uint64, len(batches))
	for i, b := range batches {
		out[i] = b.Base
	}
	return out
}
