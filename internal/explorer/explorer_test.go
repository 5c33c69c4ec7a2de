package explorer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/constellation/internal/colors"
	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/fetch"
	"github.com/ajitpratap0/constellation/pkg/testutil"
)

const header = "x\ty\tz\ttx\tty\ttz\tType\tGene\tTime"

var shardRows = [][]string{
	{
		"0\t0\t0\t1\t1\t1\tA\tg1\t0",
		"1\t2\t0\t2\t2\t2\tB\tg2\t2",
		"2\t4\t0\t3\t3\t3\tA\tg1\t5",
		"3\t6\t0\t4\t4\t4\tB\tg3\tNA",
	},
	{
		"4\t8\t0\t5\t5\t5\tA\tg2\t10",
		"5\t10\t0\t6\t6\t6\tC\tg1\t7",
		"6\t12\t0\t7\t7\t7\tA\tg4\t1",
	},
	{
		"7\t14\t0\t8\t8\t8\tB\tg1\t3",
		"8\t16\t0\t9\t9\t9\tA\tg2\t4",
	},
}

func location(n int) string { return fmt.Sprintf("mem://shard%02d.tsv", n) }

func newMemStore() *testutil.MemoryFetcher {
	m := testutil.NewMemoryFetcher()
	for i, rows := range shardRows {
		m.Put(location(i+1), testutil.TSVShard(header, rows...))
	}
	return m
}

func testDataset() config.Dataset {
	return config.Dataset{
		Name:               "hairfollicle-test",
		Format:             "tsv",
		Compression:        "none",
		ShardTemplate:      "mem://shard%02d.tsv",
		ShardCount:         len(shardRows),
		CoordinateColumns:  []string{"x", "y", "z", "tx", "ty", "tz"},
		DefaultAxes:        config.Axes{X: "x", Y: "y", Z: "z"},
		CategoricalColumns: []string{"Type", "Gene", "Extra"},
		ContinuousColumns:  []string{"Time"},
		ColorAttribute:     "Type",
	}
}

func testViewer() *config.ViewerConfig {
	cfg := config.NewViewerConfig()
	cfg.Interaction.Debounce = 0
	cfg.Loading.ChunkRows = 2
	cfg.Loading.FetchConcurrency = 2
	return cfg
}

func newTestSession(t *testing.T, store fetch.Fetcher, mutate ...func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Dataset: testDataset(),
		Viewer:  testViewer(),
		Fetcher: store,
		Logger:  testutil.TestLogger(t),
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresFetcher(t *testing.T) {
	_, err := New(Options{Dataset: testDataset()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadInitial(t *testing.T) {
	var reports []Progress
	var mu sync.Mutex
	s := newTestSession(t, newMemStore(), func(o *Options) {
		o.Progress = func(p Progress) {
			mu.Lock()
			reports = append(reports, p)
			mu.Unlock()
		}
	})

	res, err := s.LoadInitial(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Dropped)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 4, res.Visible)
	assert.Equal(t, 4, res.Rendered)

	assert.True(t, s.Materialized("Type"))
	assert.True(t, s.Materialized("Time"))
	assert.True(t, s.Materialized("tx"))
	assert.False(t, s.Materialized("Gene"))

	st := s.Stats()
	assert.Equal(t, 1, st.ResidentShards)
	assert.Equal(t, 3, st.TotalShards)
	assert.InDelta(t, 33.33, st.SamplePercent, 0.01)
	assert.Equal(t, []string{"Type"}, st.Categorical)
	assert.Equal(t, []string{"Time"}, st.Continuous)

	legend, err := s.Legend("")
	require.NoError(t, err)
	require.Len(t, legend.Entries, 2)
	assert.Equal(t, "A", legend.Entries[0].Value)
	assert.Equal(t, "B", legend.Entries[1].Value)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, PhaseParse, last.Phase)
	assert.Equal(t, int64(4), last.Done)
	assert.Equal(t, int64(4), last.Total)
}

func TestRequestShardCount(t *testing.T) {
	store := newMemStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	res, err := s.RequestShardCount(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 3, res.Resident)
	assert.Equal(t, 9, res.Records)
	assert.Equal(t, 3, store.Calls())

	// Shards are never unloaded.
	res, err = s.RequestShardCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, res.Loaded)
	assert.Equal(t, 3, res.Resident)
	assert.Equal(t, 3, store.Calls())

	// Columns attached at startup cover every shard.
	r, ok := s.Record(5)
	require.True(t, ok)
	assert.Equal(t, "C", r.Categorical["Type"])
	assert.Equal(t, float32(7), r.Continuous["Time"])
	assert.Equal(t, [3]float32{5, 10, 0}, r.Position)

	r, ok = s.Record(3)
	require.True(t, ok)
	_, hasTime := r.Continuous["Time"]
	assert.False(t, hasTime)
}

func TestConcurrentLoadIsDropped(t *testing.T) {
	store := newMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := fetch.FetcherFunc(func(ctx context.Context, loc string, progress fetch.ProgressFunc) ([]byte, error) {
		once.Do(func() { close(started) })
		<-release
		return store.Fetch(ctx, loc, progress)
	})
	s := newTestSession(t, blocking)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestShardCount(context.Background(), 1)
		done <- err
	}()
	<-started
	assert.True(t, s.Loading())

	res, err := s.RequestShardCount(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, res.Dropped)
	assert.Equal(t, 0, s.Stats().ResidentShards)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Loading())
	assert.Equal(t, 1, s.Stats().ResidentShards)
	assert.Equal(t, 1, store.Calls())
}

func TestTransportFailureMergesNothing(t *testing.T) {
	store := newMemStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	store.Fail(location(3), true)
	_, err = s.RequestShardCount(ctx, 3)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	shard, ok := e.Detail("shard")
	require.True(t, ok)
	assert.Equal(t, 3, shard)

	st := s.Stats()
	assert.Equal(t, 1, st.ResidentShards)
	assert.Equal(t, 4, st.Records)
	assert.Len(t, s.Visible(), 4)
	assert.False(t, s.Loading())

	store.Fail(location(3), false)
	res, err := s.RequestShardCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 9, res.Records)
}

func TestCommitFailureMergesNoShard(t *testing.T) {
	store := newMemStore()
	// Shard 3 lacks the Gene column.
	store.Put(location(3), testutil.TSVShard("x\ty\tz\ttx\tty\ttz\tType\tTime",
		"7\t14\t0\t8\t8\t8\tB\t3",
		"8\t16\t0\t9\t9\t9\tA\t4"))

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := fetch.FetcherFunc(func(ctx context.Context, loc string, progress fetch.ProgressFunc) ([]byte, error) {
		if loc == location(3) {
			close(started)
			<-release
		}
		return store.Fetch(ctx, loc, progress)
	})
	s := newTestSession(t, blocking)
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestShardCount(ctx, 3)
		done <- err
	}()
	<-started

	// Materialized while shards 2 and 3 are downloading.
	res, err := s.EnsureColumn(ctx, "Gene")
	require.NoError(t, err)
	assert.True(t, res.Materialized)

	close(release)
	require.Error(t, <-done)

	st := s.Stats()
	assert.Equal(t, 1, st.ResidentShards)
	assert.Equal(t, 4, st.Records)
	assert.Len(t, s.Visible(), 4)
	assert.True(t, s.Materialized("Gene"))
}

func TestGrowthKeepsUnnarrowedFiltersOpen(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	typeFilter := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, typeFilter, "Type"))
	timeFilter := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, timeFilter, "Time"))
	// Record 3 has a null Time.
	assert.Equal(t, []uint32{0, 1, 2}, s.Visible())

	// Shard 2 brings Type=C (record 5) and Time=10 above the old maximum 5.
	_, err = s.RequestShardCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 4, 5, 6}, s.Visible())

	descs := s.FilterDescriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, []string{"A", "B", "C"}, descs[0].Values)
	assert.Equal(t, descs[0].Domain, descs[0].Values)
	require.NotNil(t, descs[1].Range)
	assert.Equal(t, float32(10), descs[1].Range.Max)

	// A narrowed filter keeps the user's choice as the dataset grows.
	require.NoError(t, s.SetFilterValues(typeFilter, []string{"A", "B"}))
	_, err = s.RequestShardCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 4, 6, 7, 8}, s.Visible())
	assert.Equal(t, []string{"A", "B"}, s.FilterDescriptors()[0].Values)
}

func TestGrowthReevaluatesActiveFilters(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	id := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, id, "Type"))
	require.NoError(t, s.SetFilterValues(id, []string{"A"}))
	assert.Equal(t, []uint32{0, 2}, s.Visible())

	_, err = s.RequestShardCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 4, 6}, s.Visible())

	// Without a constraining filter new records are appended.
	require.NoError(t, s.RemoveFilter(id))
	assert.Len(t, s.Visible(), 7)
	_, err = s.RequestShardCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, s.Visible())
}

func TestContinuousFilter(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.RequestShardCount(ctx, 3)
	require.NoError(t, err)

	id := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, id, "Time"))
	// Fresh filters pass everything but null values.
	assert.Len(t, s.Visible(), 8)

	require.NoError(t, s.SetFilterRange(id, 5, 2))
	assert.Equal(t, []uint32{1, 2, 7, 8}, s.Visible())

	descs := s.FilterDescriptors()
	require.Len(t, descs, 1)
	require.NotNil(t, descs[0].Range)
	assert.Equal(t, float32(2), descs[0].Range.Min)
	assert.Equal(t, float32(5), descs[0].Range.Max)
	require.NotNil(t, descs[0].Bounds)
	assert.Equal(t, float32(10), descs[0].Bounds.Max)
}

func TestEnsureColumn(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	res, err := s.EnsureColumn(ctx, "Gene")
	require.NoError(t, err)
	assert.True(t, res.Materialized)
	assert.Equal(t, "categorical", res.Kind)

	res, err = s.EnsureColumn(ctx, "Gene")
	require.NoError(t, err)
	assert.False(t, res.Materialized)

	res, err = s.EnsureColumn(ctx, "tx")
	require.NoError(t, err)
	assert.False(t, res.Materialized)
	assert.Equal(t, "coordinate", res.Kind)

	r, _ := s.Record(1)
	assert.Equal(t, "g2", r.Categorical["Gene"])

	// Shards loaded later carry the column too.
	_, err = s.RequestShardCount(ctx, 2)
	require.NoError(t, err)
	r, _ = s.Record(6)
	assert.Equal(t, "g4", r.Categorical["Gene"])
}

func TestEnsureColumnConfigErrorsAreCached(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	tests := []struct {
		name   string
		column string
	}{
		{"undeclared", "Nope"},
		{"absent from shards", "Extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err1 := s.EnsureColumn(ctx, tt.column)
			require.Error(t, err1)
			assert.True(t, errors.IsType(err1, errors.ErrorTypeConfig))

			_, err2 := s.EnsureColumn(ctx, tt.column)
			assert.Same(t, err1, err2)
			assert.False(t, s.Materialized(tt.column))
		})
	}
}

func TestRemapCoordinates(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	first := s.Frame()
	require.NotNil(t, first.Camera)
	assert.Nil(t, s.Frame().Camera, "camera is only fit once")

	id := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, id, "Type"))
	require.NoError(t, s.SetFilterValues(id, []string{"B"}))
	require.NoError(t, s.SetColorOverride("Type", "A", colors.RGB{1, 2, 3}))
	assert.Len(t, s.Visible(), 2)

	require.NoError(t, s.RemapCoordinates("tx", "ty", "tz"))
	assert.Empty(t, s.Filters())
	assert.Len(t, s.Visible(), 4)
	assert.Equal(t, colors.Default("A"), s.ColorFor("Type", "A"))

	f := s.Frame()
	require.NotNil(t, f.Camera)
	assert.Equal(t, []float32{1, 1, 1}, f.Positions[:3])

	err = s.RemapCoordinates("tx", "ty", "Type")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestFrameBuffers(t *testing.T) {
	s := newTestSession(t, newMemStore())
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetBudget(2))

	f := s.Frame()
	assert.Equal(t, []uint32{0, 2}, f.Indices)
	assert.Len(t, f.Positions, 6)
	assert.Len(t, f.Colors, 6)
	assert.Equal(t, 4, f.Visible)

	a := colors.Default("A")
	assert.Equal(t, []uint8{a[0], a[1], a[2]}, f.Colors[:3])

	rec, ok := s.RecordAt(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), rec)
	_, ok = s.RecordAt(2)
	assert.False(t, ok)

	require.NoError(t, s.SetColorOverride("Type", "A", colors.RGB{9, 9, 9}))
	f2 := s.Frame()
	assert.Greater(t, f2.ColorGeneration, f.ColorGeneration)
	assert.Equal(t, []uint8{9, 9, 9}, f2.Colors[:3])

	require.NoError(t, s.SetColorAttribute(ctx, "Time"))
	f3 := s.Frame()
	gray := colors.NullColor
	assert.NotEqual(t, []uint8{gray[0], gray[1], gray[2]}, f3.Colors[:3])

	assert.Error(t, s.SetBudget(0))
}

func TestRandomizeRejectsContinuous(t *testing.T) {
	s := newTestSession(t, newMemStore())
	_, err := s.LoadInitial(context.Background())
	require.NoError(t, err)

	err = s.RandomizeColors("Time", 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

	require.NoError(t, s.RandomizeColors("Type", 1))
	assert.NotEqual(t, colors.Default("A"), s.ColorFor("Type", "A"))
	s.ClearColorOverrides()
	assert.Equal(t, colors.Default("A"), s.ColorFor("Type", "A"))
}

func TestDebouncedRefresh(t *testing.T) {
	mock := clock.NewMock()
	var refreshes int32
	s := newTestSession(t, newMemStore(), func(o *Options) {
		o.Viewer.Interaction.Debounce = 100 * time.Millisecond
		o.Clock = mock
		o.OnRefresh = func(visible, rendered int) { atomic.AddInt32(&refreshes, 1) }
	})
	ctx := context.Background()

	_, err := s.LoadInitial(ctx)
	require.NoError(t, err)

	id := s.AddFilter()
	require.NoError(t, s.SetFilterAttribute(ctx, id, "Type"))
	require.NoError(t, s.SetFilterValues(id, []string{"B"}))
	require.NoError(t, s.SetFilterValues(id, []string{"A"}))
	assert.True(t, s.RefreshPending())
	assert.Len(t, s.Visible(), 4)

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&refreshes) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint32{0, 2}, s.Visible())

	require.NoError(t, s.SetFilterValues(id, nil))
	require.NoError(t, s.Refresh(ctx))
	assert.Empty(t, s.Visible())
	assert.False(t, s.RefreshPending())
}

func TestGzipShards(t *testing.T) {
	store := testutil.NewMemoryFetcher()
	for i, rows := range shardRows {
		store.Put(location(i+1), testutil.Gzip(t, testutil.TSVShard(header, rows...)))
	}
	s := newTestSession(t, store, func(o *Options) {
		o.Dataset.Compression = "gzip"
	})

	res, err := s.RequestShardCount(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Records)
	r, _ := s.Record(8)
	assert.Equal(t, [3]float32{8, 16, 0}, r.Position)
}
