package pebble

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/perkey"
	"github.com/codewandler/evstore/core/es/estests/domain"
	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/core/tipstore/tabletest"
)

func openTestTable(t *testing.T, opts Options) *Table {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	table, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func TestTable_Conformance(t *testing.T) {
	for name, mode := range map[string]FsyncMode{
		"always":   FsyncModeAlways,
		"interval": FsyncModeInterval,
		"never":    FsyncModeNever,
	} {
		t.Run(name, func(t *testing.T) {
			tabletest.Run(t, openTestTable(t, Options{Fsync: mode}))
		})
	}
}

func TestOpen_RequiresDataDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestTable_Reopen(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()

	table, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, table.WriteTip(ctx, "counter-1", tipstore.TipWrite{
		Expected: tipstore.NotExists(),
		Tip:      tabletest.Tip(2, 3, "a"),
		Calves:   []tipstore.Batch{tabletest.Calf(0, 2)},
	}))
	require.NoError(t, table.Close())

	table = openTestTable(t, Options{DataDir: dir})
	tip, err := table.ReadTip(ctx, "counter-1", true)
	require.NoError(t, err)
	require.Equal(t, tabletest.Tip(2, 3, "a"), *tip)

	page, err := table.QueryBatches(ctx, "counter-1", tipstore.BatchQuery{Hi: tip.Base})
	require.NoError(t, err)
	require.Equal(t, []tipstore.Batch{tabletest.Calf(0, 2)}, page.Batches)
}

func TestTable_StreamsDoNotOverlap(t *testing.T) {
	ctx := t.Context()
	table := openTestTable(t, Options{})

	// "a" is a prefix of "ab"; their keys must not interleave
	for _, stream := range []string{"a", "ab"} {
		require.NoError(t, table.WriteTip(ctx, stream, tipstore.TipWrite{
			Expected: tipstore.NotExists(),
			Tip:      tabletest.Tip(1, 2, "a"),
			Calves:   []tipstore.Batch{tabletest.Calf(0, 1)},
		}))
	}

	page, err := table.QueryBatches(ctx, "a", tipstore.BatchQuery{Hi: tipstore.TipIndex})
	require.NoError(t, err)
	require.Len(t, page.Batches, 1)

	streams, err := table.Streams(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "ab"}, streams)
}

func TestTable_ConcurrentDeciders(t *testing.T) {
	ctx := t.Context()
	table := openTestTable(t, Options{Fsync: FsyncModeNever})
	store := tipstore.NewStore(table, tipstore.WithTipOptions(tipstore.TipOptions{MaxBytes: 1024}))
	cat := domain.NewCategory(store, domain.SnapshotStrategy())

	const writers = 4
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := es.NewDecider(cat, "shared", es.WithMaxAttempts(50))
			if !assert.NoError(t, err) {
				return
			}
			for range 6 {
				assert.NoError(t, d.Transact(ctx, domain.Inc))
			}
		}()
	}
	wg.Wait()

	d, err := es.NewDecider(cat, "shared")
	require.NoError(t, err)
	state, err := es.Query(ctx, d, func(s domain.State) domain.State { return s })
	require.NoError(t, err)
	require.Equal(t, uint16(writers*6), state.Counter)
	require.Zero(t, table.writers.Len())
}

func TestTable_CloseWaitsForWrites(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	table, err := Open(Options{DataDir: dir})
	require.NoError(t, err)

	const writers = 16
	var (
		wg   sync.WaitGroup
		errs = make([]error, writers)
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = table.WriteTip(ctx, fmt.Sprintf("counter-%d", i), tipstore.TipWrite{
				Expected: tipstore.NotExists(),
				Tip:      tabletest.Tip(2, 3, "a"),
				Calves:   []tipstore.Batch{tabletest.Calf(0, 2)},
			})
		}()
	}
	require.NoError(t, table.Close())
	wg.Wait()

	table = openTestTable(t, Options{DataDir: dir})
	for i, err := range errs {
		stream := fmt.Sprintf("counter-%d", i)
		tip, readErr := table.ReadTip(ctx, stream, true)
		require.NoError(t, readErr)
		if err != nil {
			require.ErrorIs(t, err, perkey.ErrSchedulerClosed, stream)
			require.Nil(t, tip, stream)
			continue
		}
		require.NotNil(t, tip, stream)
		require.Equal(t, uint64(3), tip.N, stream)
	}
}
