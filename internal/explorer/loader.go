package explorer

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/metrics"
	"github.com/ajitpratap0/constellation/pkg/observability"
)

// LoadResult reports the outcome of a shard load request.
type LoadResult struct {
	// Dropped is set when another load was in flight; the caller should
	// re-issue the request once that load settles
	Dropped bool `json:"dropped"`
	// Loaded is the number of shards added by this request
	Loaded int `json:"loaded"`
	// Resident is the number of shards resident afterwards
	Resident int `json:"resident"`
	Records  int `json:"records"`
	Visible  int `json:"visible"`
	Rendered int `json:"rendered"`
}

// Loading reports whether a shard load is in flight.
func (s *Session) Loading() bool { return s.loading.Load() }

// LoadInitial loads the first shards of the dataset, decoding every
// coordinate candidate, the default color attribute and every continuous
// attribute. Other categorical columns stay unmaterialized until
// EnsureColumn.
func (s *Session) LoadInitial(ctx context.Context) (*LoadResult, error) {
	s.mu.Lock()
	if err := s.attachInitialColumnsLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.RequestShardCount(ctx, s.cfg.Loading.InitialShards)
}

// attachInitialColumnsLocked registers the initial attribute columns on the
// still-empty table so the first load decodes them with the coordinates.
func (s *Session) attachInitialColumnsLocked() error {
	if s.table.Len() > 0 {
		return nil
	}
	if attr := s.colorAttr; attr != "" && !s.table.HasColumn(attr) {
		col := columnar.NewStringColumn()
		if err := s.table.SetStringColumn(attr, col); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to attach color attribute")
		}
		s.index.IndexStringColumn(attr, col)
	}
	for _, attr := range s.ds.ContinuousColumns {
		if s.table.HasColumn(attr) {
			continue
		}
		col := columnar.NewFloatColumn(columnar.ColumnTypeContinuous)
		if err := s.table.SetFloatColumn(attr, col); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to attach continuous attribute")
		}
		s.index.IndexFloatColumn(attr, col)
	}
	return nil
}

// RequestShardCount ensures at least min(n, total) shards are resident.
// Shards are never unloaded, so asking for fewer than are resident is a
// no-op. If a load is already in flight the request is dropped and
// LoadResult.Dropped is set.
//
// Missing shards are downloaded concurrently and decoded outside the
// session lock. Any download or decode failure aborts the request before
// anything is merged; the error names the failed shard.
func (s *Session) RequestShardCount(ctx context.Context, n int) (*LoadResult, error) {
	if !s.loading.CompareAndSwap(false, true) {
		metrics.ShardLoads.WithLabelValues(s.ds.Name, "dropped").Inc()
		s.logger.Debug("shard load dropped, another load is in flight", zap.Int("requested", n))
		return &LoadResult{Dropped: true}, nil
	}
	defer s.loading.Store(false)

	res, err := s.load(ctx, n)
	if err != nil {
		metrics.ShardLoads.WithLabelValues(s.ds.Name, "failure").Inc()
		s.logger.Error("shard load failed", zap.Int("requested", n), zap.Error(err))
		return res, err
	}
	return res, nil
}

func (s *Session) load(ctx context.Context, n int) (res *LoadResult, err error) {
	ctx, span := observability.StartSpan(ctx, "explorer.load",
		attribute.String("dataset", s.ds.Name),
		attribute.Int("requested", n))
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeValidation, "session is closed")
	}
	have := len(s.resident)
	target := n
	if target > len(s.locations) {
		target = len(s.locations)
	}
	if target <= have {
		res = s.resultLocked(0)
		s.mu.Unlock()
		metrics.ShardLoads.WithLabelValues(s.ds.Name, "noop").Inc()
		return res, nil
	}
	cols := columnSet{
		numeric:     append(append([]string(nil), s.table.CoordinateNames()...), s.table.FloatColumns()...),
		categorical: append([]string(nil), s.table.StringColumns()...),
	}
	s.mu.Unlock()

	pending := make([]*residentShard, 0, target-have)
	for num := have + 1; num <= target; num++ {
		pending = append(pending, &residentShard{number: num, location: s.locations[num-1]})
	}

	s.logger.Info("loading shards",
		zap.Int("from", have+1),
		zap.Int("to", target),
		zap.Int("total", len(s.locations)))

	if err := s.download(ctx, pending); err != nil {
		return nil, err
	}
	decoded, err := s.decode(ctx, pending, cols)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, decoded)
}

// download fetches and decompresses every pending shard concurrently.
func (s *Session) download(ctx context.Context, pending []*residentShard) error {
	tracker := s.progress.begin(PhaseDownload, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Loading.GetFetchConcurrency())
	for i, r := range pending {
		i, r := i, r
		g.Go(func() error {
			raw, err := s.fetcher.Fetch(gctx, r.location, func(loaded, total int64) {
				tracker.update(i, loaded, total)
			})
			if err != nil {
				return shardFetchError(err, r)
			}
			data, err := s.decompressor.Decompress(raw)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeParse, fmt.Sprintf("failed to decompress shard %d", r.number)).
					WithDetail("shard", r.number).
					WithDetail("location", r.location)
			}
			r.data = data
			tracker.update(i, int64(len(raw)), int64(len(raw)))
			metrics.ShardBytesLoaded.WithLabelValues(s.ds.Name).Add(float64(len(raw)))

			s.logger.Debug("shard downloaded",
				zap.Int("shard", r.number),
				zap.String("location", r.location),
				zap.String("size", humanize.Bytes(uint64(len(raw)))),
				zap.String("decompressed", humanize.Bytes(uint64(len(data)))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	tracker.finish()
	return nil
}

func shardFetchError(err error, r *residentShard) error {
	errType := errors.ErrorTypeTransport
	if isContextError(err) && !errors.IsType(err, errors.ErrorTypeTransport) {
		errType = errors.ErrorTypeTimeout
	}
	return errors.Wrap(err, errType, fmt.Sprintf("failed to fetch shard %d", r.number)).
		WithDetail("shard", r.number).
		WithDetail("location", r.location)
}

// decode opens every downloaded shard and extracts cols from it. Nothing is
// merged here; on failure every opened shard is closed again.
func (s *Session) decode(ctx context.Context, pending []*residentShard, cols columnSet) ([]*decodedShard, error) {
	tracker := s.progress.begin(PhaseParse, len(pending))
	decoded := make([]*decodedShard, 0, len(pending))

	for i, r := range pending {
		sh, err := s.decoder.Open(r.data)
		if err != nil {
			closeShards(decoded)
			return nil, errors.Wrap(err, errors.ErrorTypeParse, fmt.Sprintf("failed to open shard %d", r.number)).
				WithDetail("shard", r.number).
				WithDetail("location", r.location)
		}
		r.shard = sh
		decoded = append(decoded, &decodedShard{resident: r})

		rows := int64(sh.NumRows())
		ncols := int64(cols.size())
		tracker.update(i, 0, rows)
		batch, err := s.decodeBatch(ctx, r, cols, func(done int) {
			if ncols > 0 {
				tracker.update(i, rows*int64(done)/ncols, rows)
			}
		})
		if err != nil {
			closeShards(decoded)
			return nil, err
		}
		decoded[len(decoded)-1].batch = batch
		tracker.update(i, rows, rows)
	}
	tracker.finish()
	return decoded, nil
}

// commitLocked merges decoded shards in order. Columns materialized after
// the shards were decoded are caught up and every batch is checked before
// the first one is appended, so a request merges all of its shards or none.
func (s *Session) commitLocked(ctx context.Context, decoded []*decodedShard) (*LoadResult, error) {
	batches := make([]*columnar.Batch, len(decoded))
	for i, d := range decoded {
		if err := s.catchUpLocked(ctx, d); err != nil {
			closeShards(decoded)
			return nil, err
		}
		batches[i] = d.batch
	}
	if err := s.table.CheckAppend(batches...); err != nil {
		closeShards(decoded)
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decoded shards do not fit the record table").
			WithDetail("shard", decoded[0].resident.number)
	}

	start := uint32(s.table.Len())
	loaded := 0

	var commitErr error
	for i, d := range decoded {
		app, err := s.table.Append(d.batch)
		if err != nil {
			// Unreachable after CheckAppend while the lock is held.
			closeShards(decoded[i:])
			commitErr = errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("failed to merge shard %d", d.resident.number)).
				WithDetail("shard", d.resident.number).
				WithDetail("location", d.resident.location)
			break
		}
		s.index.ApplyAppend(app)
		s.resident = append(s.resident, d.resident)
		loaded++

		metrics.RecordsLoaded.WithLabelValues(s.ds.Name).Add(float64(d.batch.Rows))
		metrics.ShardLoads.WithLabelValues(s.ds.Name, "success").Inc()
	}
	metrics.ResidentShards.WithLabelValues(s.ds.Name).Set(float64(len(s.resident)))

	if loaded > 0 {
		if err := s.extendVisibleLocked(start); err != nil && commitErr == nil {
			commitErr = err
		}
		s.logger.Info("shards loaded",
			zap.Int("loaded", loaded),
			zap.Int("resident", len(s.resident)),
			zap.Int("records", s.table.Len()),
			zap.String("table_size", humanize.Bytes(uint64(s.table.MemoryUsage()))))
	}
	return s.resultLocked(loaded), commitErr
}

// catchUpLocked decodes columns that were materialized while d was being
// decoded.
func (s *Session) catchUpLocked(ctx context.Context, d *decodedShard) error {
	for _, name := range s.table.FloatColumns() {
		if _, ok := d.batch.Numeric[name]; ok {
			continue
		}
		chunk, err := s.decodeNumeric(ctx, d.resident, name)
		if err != nil {
			return err
		}
		d.batch.Numeric[name] = chunk
	}
	for _, name := range s.table.StringColumns() {
		if _, ok := d.batch.Categorical[name]; ok {
			continue
		}
		chunk, err := s.decodeCategorical(ctx, d.resident, name)
		if err != nil {
			return err
		}
		d.batch.Categorical[name] = chunk
	}
	return nil
}

// extendVisibleLocked brings the visible set up to date after records
// [start, Len) were appended. Without a constraining filter every new
// record is visible and is appended; otherwise the full conjunction is
// re-run so new records are filtered like the old ones.
func (s *Session) extendVisibleLocked(start uint32) error {
	if s.filters.Constraining() {
		s.logger.Debug("re-evaluating filters after table growth", zap.Int("filters", s.filters.Len()))
		return s.evaluateLocked()
	}
	end := uint32(s.table.Len())
	next := make([]uint32, len(s.visible), len(s.visible)+int(end-start))
	copy(next, s.visible)
	for i := start; i < end; i++ {
		next = append(next, i)
	}
	s.setVisibleLocked(next)
	return nil
}

func (s *Session) resultLocked(loaded int) *LoadResult {
	return &LoadResult{
		Loaded:   loaded,
		Resident: len(s.resident),
		Records:  s.table.Len(),
		Visible:  len(s.visible),
		Rendered: s.sampler.Len(),
	}
}
