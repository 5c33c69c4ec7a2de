package explorer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/metrics"
	"github.com/ajitpratap0/constellation/pkg/observability"
)

// ErrMaterializing is returned by operations that need a column whose
// materialization is still in flight. Callers retry once it completes.
var ErrMaterializing = errors.New(errors.ErrorTypeValidation, "column materialization in flight")

// ColumnResult reports the outcome of EnsureColumn.
type ColumnResult struct {
	// Dropped is set when the same column is already being materialized
	Dropped bool `json:"dropped"`
	// Materialized is set when this call populated the column
	Materialized bool   `json:"materialized"`
	Kind         string `json:"kind"`
}

// Materialized reports whether name is present on every record.
// Coordinate candidates are always materialized.
func (s *Session) Materialized(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.table.Coordinate(name); ok {
		return true
	}
	return s.table.HasColumn(name)
}

// EnsureColumn makes name present on every record by decoding it from each
// resident shard. It is a no-op for coordinate candidates and for columns
// already materialized. A column the dataset does not declare, or that the
// shards do not carry, is a configuration error; it is logged once and the
// same error is returned on every later call.
func (s *Session) EnsureColumn(ctx context.Context, name string) (res *ColumnResult, err error) {
	s.mu.Lock()
	typ, err := s.columnTypeLocked(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	res = &ColumnResult{Kind: typ.String()}
	if typ == columnar.ColumnTypeCoordinate || s.table.HasColumn(name) {
		s.mu.Unlock()
		return res, nil
	}
	if s.materializing[name] {
		s.mu.Unlock()
		s.logger.Debug("column materialization dropped, already in flight", zap.String("column", name))
		res.Dropped = true
		return res, nil
	}
	s.materializing[name] = true
	snapshot := append([]*residentShard(nil), s.resident...)
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "explorer.materialize",
		attribute.String("dataset", s.ds.Name),
		attribute.String("column", name),
		attribute.Int("shards", len(snapshot)))
	defer func() { observability.EndSpan(span, err) }()

	timer := metrics.NewTimer()
	col, err := s.materialize(ctx, name, typ, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.materializing, name)
	if err != nil {
		return nil, s.columnFailureLocked(name, err)
	}

	// Shards committed while decoding outside the lock.
	for _, r := range s.resident[len(snapshot):] {
		if err := col.appendFrom(ctx, s, r, name); err != nil {
			return nil, s.columnFailureLocked(name, err)
		}
	}
	if err := col.attach(s, name); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("failed to attach column %q", name)).
			WithDetail("column", name)
	}

	metrics.ColumnMaterializations.WithLabelValues(s.ds.Name, name).Inc()
	s.logger.Info("column materialized",
		zap.String("column", name),
		zap.String("kind", typ.String()),
		zap.Int("records", s.table.Len()),
		zap.Duration("duration", timer.Stop()))

	res.Materialized = true
	return res, nil
}

// columnTypeLocked classifies name against the dataset descriptor.
func (s *Session) columnTypeLocked(name string) (columnar.ColumnType, error) {
	if err, ok := s.columnErrs[name]; ok {
		return 0, err
	}
	switch {
	case s.ds.IsCoordinate(name):
		return columnar.ColumnTypeCoordinate, nil
	case s.ds.IsCategorical(name):
		return columnar.ColumnTypeCategorical, nil
	case s.ds.IsContinuous(name):
		return columnar.ColumnTypeContinuous, nil
	}
	err := errors.Newf(errors.ErrorTypeConfig, "column %q is not declared by dataset %q", name, s.ds.Name).
		WithDetail("column", name)
	s.columnErrs[name] = err
	s.logger.Error("unknown column requested", zap.String("column", name), zap.Error(err))
	return 0, err
}

// columnFailureLocked records a missing-column failure as a permanent
// configuration error. Other failures are returned as they are.
func (s *Session) columnFailureLocked(name string, err error) error {
	var missing *errors.Error
	if errors.As(err, &missing) && missing.Type == errors.ErrorTypeConfig {
		s.columnErrs[name] = err
		s.logger.Error("column missing from dataset shards", zap.String("column", name), zap.Error(err))
		return err
	}
	s.logger.Warn("column materialization failed", zap.String("column", name), zap.Error(err))
	return err
}

// pendingColumn is a column being built outside the session lock.
type pendingColumn struct {
	strings *columnar.StringColumn
	floats  *columnar.FloatColumn
}

func (s *Session) materialize(ctx context.Context, name string, typ columnar.ColumnType, shards []*residentShard) (*pendingColumn, error) {
	col := &pendingColumn{}
	if typ == columnar.ColumnTypeCategorical {
		col.strings = columnar.NewStringColumn()
	} else {
		col.floats = columnar.NewFloatColumn(typ)
	}
	for _, r := range shards {
		if err := col.appendFrom(ctx, s, r, name); err != nil {
			return nil, err
		}
	}
	return col, nil
}

// appendFrom decodes name from r and appends it to the column.
func (c *pendingColumn) appendFrom(ctx context.Context, s *Session, r *residentShard, name string) error {
	if !r.shard.Has(name) {
		return errors.Newf(errors.ErrorTypeConfig, "column %q is not present in shard %d", name, r.number).
			WithDetail("column", name).
			WithDetail("shard", r.number).
			WithDetail("location", r.location)
	}
	if c.strings != nil {
		chunk, err := s.decodeCategorical(ctx, r, name)
		if err != nil {
			return err
		}
		c.strings.AppendChunk(chunk)
		return nil
	}
	chunk, err := s.decodeNumeric(ctx, r, name)
	if err != nil {
		return err
	}
	c.floats.AppendChunk(chunk)
	return nil
}

// attach publishes the column and indexes it in the same critical section,
// so no filter can observe the column before its index entry exists.
func (c *pendingColumn) attach(s *Session, name string) error {
	if c.strings != nil {
		if err := s.table.SetStringColumn(name, c.strings); err != nil {
			return err
		}
		s.index.IndexStringColumn(name, c.strings)
		return nil
	}
	if err := s.table.SetFloatColumn(name, c.floats); err != nil {
		return err
	}
	s.index.IndexFloatColumn(name, c.floats)
	return nil
}

// RemapCoordinates selects which coordinate candidates drive x, y and z.
// Remapping is treated as a reset of the view: the camera is refit on the
// next frame, filters and color overrides are cleared and every record
// becomes visible again.
func (s *Session) RemapCoordinates(x, y, z string) error {
	s.debouncer.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	axes := [3]string{x, y, z}
	if err := s.table.RemapCoordinates(axes); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid coordinate selection").
			WithDetail("axes", axes)
	}
	s.pose = nil
	s.fitPending = true
	s.filters.Clear()
	s.colors.ClearOverrides()

	all := make([]uint32, s.table.Len())
	for i := range all {
		all[i] = uint32(i)
	}
	s.setVisibleLocked(all)

	s.logger.Info("coordinates remapped", zap.Strings("axes", axes[:]))
	return nil
}
