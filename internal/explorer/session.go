// Package explorer owns the exploration state of one dataset: the record
// table, the attribute index, filters, sampling, colors and camera.
//
// A Session is the single owner of that state. Every mutation happens while
// holding the session mutex; expensive work (downloads, shard decoding)
// runs outside it and is committed in one step, so observers never see a
// partially merged shard or a half-materialized column.
//
//	s, err := explorer.New(explorer.Options{Dataset: ds, Viewer: cfg, Fetcher: f})
//	if _, err := s.LoadInitial(ctx); err != nil { ... }
//	frame := s.Frame()
package explorer

import (
	"sync"
	"sync/atomic"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/attrindex"
	"github.com/ajitpratap0/constellation/internal/camera"
	"github.com/ajitpratap0/constellation/internal/colors"
	"github.com/ajitpratap0/constellation/internal/debounce"
	"github.com/ajitpratap0/constellation/internal/filter"
	"github.com/ajitpratap0/constellation/internal/sampler"
	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/compression"
	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/fetch"
	formats "github.com/ajitpratap0/constellation/pkg/formats/columnar"
	"github.com/ajitpratap0/constellation/pkg/metrics"
)

// Options configures a Session.
type Options struct {
	Dataset config.Dataset
	// Viewer defaults to config.NewViewerConfig()
	Viewer *config.ViewerConfig
	// Fetcher retrieves shard payloads; required
	Fetcher fetch.Fetcher
	// Decoder overrides the decoder selected by Dataset.Format
	Decoder formats.Decoder
	// Decompressor overrides the one selected by Dataset.Compression
	Decompressor compression.Decompressor
	// Clock drives the filter debounce; defaults to the wall clock
	Clock clock.Clock
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Progress receives download and parse progress
	Progress ProgressFunc
	// OnRefresh is called after a debounced filter re-evaluation completes
	OnRefresh func(visible, rendered int)
}

// Session is the owned context of one exploration.
type Session struct {
	id           string
	ds           config.Dataset
	cfg          *config.ViewerConfig
	locations    []string
	fetcher      fetch.Fetcher
	decoder      formats.Decoder
	decompressor compression.Decompressor
	logger       *zap.Logger
	progress     *progressReporter
	onRefresh    func(visible, rendered int)
	debouncer    *debounce.Debouncer

	// loading is set while a shard load is in flight.
	loading atomic.Bool

	mu            sync.Mutex
	table         *columnar.Table
	index         *attrindex.Index
	filters       *filter.Engine
	sampler       *sampler.Sampler
	colors        *colors.Assignor
	resident      []*residentShard
	visible       []uint32
	colorAttr     string
	pose          *camera.Pose
	fitPending    bool
	materializing map[string]bool
	columnErrs    map[string]error
	closed        bool
}

// New creates a session. No data is loaded until LoadInitial.
func New(opts Options) (*Session, error) {
	if opts.Fetcher == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "a shard fetcher is required")
	}
	if err := opts.Dataset.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid dataset descriptor")
	}
	cfg := opts.Viewer
	if cfg == nil {
		cfg = config.NewViewerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid viewer configuration")
	}

	decoder := opts.Decoder
	if decoder == nil {
		format, err := formats.ParseFormat(opts.Dataset.Format)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid shard format")
		}
		if decoder, err = formats.NewDecoder(format, cfg.Loading.ChunkRows); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid shard format")
		}
	}

	decompressor := opts.Decompressor
	if decompressor == nil {
		alg, err := compression.ParseAlgorithm(opts.Dataset.Compression)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid shard compression")
		}
		if decompressor, err = compression.NewDecompressor(alg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid shard compression")
		}
	}

	policy, err := sampler.ParsePolicy(cfg.Render.Policy)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid render policy")
	}
	smp, err := sampler.New(policy, cfg.Render.Budget)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid render budget")
	}

	table, err := columnar.NewTable(opts.Dataset.CoordinateColumns, opts.Dataset.DefaultAxes.Names())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid coordinate columns")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("dataset", opts.Dataset.Name), zap.String("session", id))

	index := attrindex.New()
	s := &Session{
		id:            id,
		ds:            opts.Dataset,
		cfg:           cfg,
		locations:     opts.Dataset.Shards(),
		fetcher:       opts.Fetcher,
		decoder:       decoder,
		decompressor:  decompressor,
		logger:        logger,
		progress:      newProgressReporter(opts.Progress, cfg.Loading.ProgressInterval),
		onRefresh:     opts.OnRefresh,
		debouncer:     debounce.New(opts.Clock, cfg.Interaction.Debounce),
		table:         table,
		index:         index,
		filters:       filter.New(index, logger),
		sampler:       smp,
		colors:        colors.NewAssignor(index),
		colorAttr:     opts.Dataset.ColorAttribute,
		fitPending:    true,
		materializing: make(map[string]bool),
		columnErrs:    make(map[string]error),
	}
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Dataset returns the dataset descriptor.
func (s *Session) Dataset() config.Dataset { return s.ds }

// Stats summarizes the session state.
type Stats struct {
	Records        int       `json:"records"`
	ResidentShards int       `json:"resident_shards"`
	TotalShards    int       `json:"total_shards"`
	SamplePercent  float64   `json:"sample_percent"`
	Visible        int       `json:"visible"`
	Rendered       int       `json:"rendered"`
	ResidentBytes  int64     `json:"resident_bytes"`
	TableBytes     int64     `json:"table_bytes"`
	Axes           [3]string `json:"axes"`
	Categorical    []string  `json:"categorical"`
	Continuous     []string  `json:"continuous"`
	ColorAttribute string    `json:"color_attribute,omitempty"`
}

// Stats returns a snapshot of the session state. Each shard is a uniform
// random sample of the dataset, so SamplePercent is the share of shards
// resident.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Records:        s.table.Len(),
		ResidentShards: len(s.resident),
		TotalShards:    len(s.locations),
		Visible:        len(s.visible),
		Rendered:       s.sampler.Len(),
		TableBytes:     s.table.MemoryUsage(),
		Axes:           s.table.Axes(),
		Categorical:    append([]string(nil), s.table.StringColumns()...),
		Continuous:     append([]string(nil), s.table.FloatColumns()...),
		ColorAttribute: s.colorAttr,
	}
	if st.TotalShards > 0 {
		st.SamplePercent = 100 * float64(st.ResidentShards) / float64(st.TotalShards)
	}
	for _, r := range s.resident {
		st.ResidentBytes += int64(len(r.data))
	}
	return st
}

// Close cancels any pending re-evaluation and releases shard decoders.
func (s *Session) Close() error {
	s.debouncer.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, r := range s.resident {
		if err := r.shard.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// setVisibleLocked replaces the visible set and resamples.
func (s *Session) setVisibleLocked(visible []uint32) {
	s.visible = visible
	s.resampleLocked()
}

func (s *Session) resampleLocked() {
	rendered := s.sampler.Sample(s.visible)
	metrics.VisiblePoints.WithLabelValues(s.ds.Name).Set(float64(len(s.visible)))
	metrics.RenderedPoints.WithLabelValues(s.ds.Name).Set(float64(len(rendered)))
}

// evaluateLocked recomputes the visible set from the filter conjunction.
func (s *Session) evaluateLocked() error {
	timer := metrics.NewTimer()
	visible, err := s.filters.Evaluate(s.table)
	if err != nil {
		return err
	}
	metrics.FilterEvaluationLatency.WithLabelValues(s.ds.Name).Observe(timer.Stop().Seconds())
	s.setVisibleLocked(visible)
	return nil
}

