package tipstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ev returns an event costing exactly 100 bytes.
func ev() Event { return Event{Type: "T", Data: make([]byte, 19)} }

func evs(n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = ev()
	}
	return out
}

func testTipOptions() TipOptions {
	return TipOptions{MaxBytes: 350}.withDefaults()
}

func TestPlanWrite_FreshStream(t *testing.T) {
	w, pos, err := planWrite(nil, NotExists(), evs(2), nil, "e1", testTipOptions())
	require.NoError(t, err)

	require.Equal(t, NotExists(), w.Expected)
	require.Empty(t, w.Calves)
	require.Nil(t, w.Appended)
	require.Equal(t, uint64(0), w.Tip.Base)
	require.Equal(t, uint64(2), w.Tip.N)
	require.Equal(t, "e1", w.Tip.Etag)
	require.True(t, w.Tip.Valid())

	require.Equal(t, uint64(2), pos.Index)
	require.Equal(t, int64(200), pos.BaseBytes)
	require.Equal(t, int64(0), pos.CalvedBytes)
}

func TestPlanWrite_AppendsInPlace(t *testing.T) {
	_, pos, err := planWrite(nil, NotExists(), evs(2), nil, "e1", testTipOptions())
	require.NoError(t, err)

	w, next, err := planWrite(pos, AtIndex(2), evs(1), nil, "e2", testTipOptions())
	require.NoError(t, err)
	require.Empty(t, w.Calves)
	require.Len(t, w.Appended, 1)
	require.Len(t, w.Tip.Events, 3)
	require.Equal(t, uint64(3), next.Index)
	require.Equal(t, int64(300), next.BaseBytes)
}

func TestPlanWrite_CalvesExistingEvents(t *testing.T) {
	_, pos, err := planWrite(nil, NotExists(), evs(3), nil, "e1", testTipOptions())
	require.NoError(t, err)

	w, next, err := planWrite(pos, AtIndex(3), evs(1), nil, "e2", testTipOptions())
	require.NoError(t, err)

	require.Nil(t, w.Appended)
	require.Len(t, w.Calves, 1)
	calf := w.Calves[0]
	require.Equal(t, uint64(0), calf.Base)
	require.Equal(t, uint64(3), calf.N)
	require.True(t, calf.Valid())
	require.Empty(t, calf.Etag)

	require.Equal(t, uint64(3), w.Tip.Base)
	require.Equal(t, uint64(4), w.Tip.N)
	require.Equal(t, int64(300), w.Tip.CalvedBytes)
	require.Equal(t, int64(300), next.CalvedBytes)
	require.Equal(t, int64(100), next.BaseBytes)
}

func TestPlanWrite_CalvesAppendedEventsThatDoNotFit(t *testing.T) {
	w, pos, err := planWrite(nil, NotExists(), evs(5), nil, "e1", testTipOptions())
	require.NoError(t, err)

	require.Len(t, w.Calves, 1)
	require.Equal(t, uint64(2), w.Calves[0].N)
	require.Equal(t, uint64(2), w.Tip.Base)
	require.Len(t, w.Tip.Events, 3)
	require.Equal(t, uint64(5), pos.Index)
}

func TestPlanWrite_MaxEvents(t *testing.T) {
	opts := TipOptions{MaxEvents: 2, MaxBytes: 10_000}.withDefaults()
	_, pos, err := planWrite(nil, NotExists(), evs(2), nil, "e1", opts)
	require.NoError(t, err)

	w, _, err := planWrite(pos, AtIndex(2), evs(1), nil, "e2", opts)
	require.NoError(t, err)
	require.Len(t, w.Calves, 1)
	require.Len(t, w.Tip.Events, 1)
}

func TestPlanWrite_UnfoldsCountTowardsBudget(t *testing.T) {
	unfolds := []Unfold{{Index: 3, Type: "S", Data: make([]byte, 119)}} // 200 bytes
	w, _, err := planWrite(nil, NotExists(), evs(3), unfolds, "e1", testTipOptions())
	require.NoError(t, err)

	require.Len(t, w.Calves, 1)
	require.Len(t, w.Tip.Events, 1)
	require.Len(t, w.Tip.Unfolds, 1)
}

func TestPlanWrite_SlicesCalves(t *testing.T) {
	opts := TipOptions{MaxBytes: 100, MaxCalfBytes: 250}.withDefaults()
	w, _, err := planWrite(nil, NotExists(), evs(6), nil, "e1", opts)
	require.NoError(t, err)

	require.Len(t, w.Calves, 3)
	require.Equal(t, []uint64{0, 2, 4}, []uint64{w.Calves[0].Base, w.Calves[1].Base, w.Calves[2].Base})
	require.Equal(t, uint64(5), w.Calves[2].N)
	require.Equal(t, uint64(5), w.Tip.Base)
	require.Equal(t, int64(500), w.Tip.CalvedBytes)
}

func TestPlanWrite_ItemTooLarge(t *testing.T) {
	opts := TipOptions{MaxBytes: 100, MaxCalfBytes: 150}.withDefaults()
	big := Event{Type: "T", Data: make([]byte, 200)}
	_, _, err := planWrite(nil, NotExists(), []Event{big, ev()}, nil, "e1", opts)
	require.ErrorIs(t, err, ErrItemTooLarge)
}

func TestPlanWrite_TransactionTooLarge(t *testing.T) {
	opts := TipOptions{MaxBytes: 100, MaxCalfBytes: 100, MaxTransactItems: 3}.withDefaults()
	_, _, err := planWrite(nil, NotExists(), evs(4), nil, "e1", opts)
	require.ErrorIs(t, err, ErrTransactionTooLarge)
}

func TestPlanWrite_SortsUnfolds(t *testing.T) {
	unfolds := []Unfold{{Index: 5, Type: "b"}, {Index: 2, Type: "a"}, {Index: 5, Type: "c"}}
	w, _, err := planWrite(nil, NotExists(), nil, unfolds, "e1", TipOptions{}.withDefaults())
	require.NoError(t, err)
	require.Equal(t, "a", w.Tip.Unfolds[0].Type)
	require.Equal(t, "b", w.Tip.Unfolds[1].Type)
	require.Equal(t, "c", w.Tip.Unfolds[2].Type)
	require.Equal(t, "b", unfolds[0].Type, "input must not be reordered")
}

func TestPlanWrite_CalvesDownToMaxEventBytes(t *testing.T) {
	opts := TipOptions{MaxBytes: 500, MaxEventBytes: 200}.withDefaults()
	_, pos, err := planWrite(nil, NotExists(), evs(3), nil, "e1", opts)
	require.NoError(t, err)
	require.Equal(t, int64(300), pos.BaseBytes, "below MaxBytes nothing is calved")

	w, next, err := planWrite(pos, AtIndex(3), evs(3), nil, "e2", opts)
	require.NoError(t, err)

	require.Nil(t, w.Appended)
	require.Len(t, w.Calves, 1)
	require.Equal(t, uint64(0), w.Calves[0].Base)
	require.Equal(t, uint64(4), w.Calves[0].N)

	require.Equal(t, uint64(4), w.Tip.Base)
	require.Equal(t, uint64(6), w.Tip.N)
	require.Len(t, w.Tip.Events, 2)
	require.Equal(t, int64(400), next.CalvedBytes)
	require.Equal(t, int64(200), next.BaseBytes)
}
