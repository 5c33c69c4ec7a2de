package explorer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/errors"
	formats "github.com/ajitpratap0/constellation/pkg/formats/columnar"
	"github.com/ajitpratap0/constellation/pkg/metrics"
)

// residentShard is a downloaded shard. The decompressed payload is kept for
// the lifetime of the session so columns can be materialized later without
// another fetch.
type residentShard struct {
	// number is 1-based
	number   int
	location string
	data     []byte
	shard    formats.Shard

	// decodeMu serializes column decodes on shard
	decodeMu sync.Mutex
}

// decodedShard is a shard opened and decoded outside the session lock,
// waiting to be committed.
type decodedShard struct {
	resident *residentShard
	batch    *columnar.Batch
}

// columnSet lists the columns a batch must carry.
type columnSet struct {
	numeric     []string
	categorical []string
}

func (c columnSet) size() int { return len(c.numeric) + len(c.categorical) }

// decodeBatch extracts every column in cols from sh. onColumn is called
// after each column with the number of columns decoded so far.
func (s *Session) decodeBatch(ctx context.Context, r *residentShard, cols columnSet, onColumn func(done int)) (*columnar.Batch, error) {
	b := &columnar.Batch{
		Rows:        r.shard.NumRows(),
		Categorical: make(map[string]columnar.CategoricalChunk, len(cols.categorical)),
		Numeric:     make(map[string]columnar.NumericChunk, len(cols.numeric)),
	}
	done := 0
	for _, name := range cols.numeric {
		chunk, err := s.decodeNumeric(ctx, r, name)
		if err != nil {
			return nil, err
		}
		b.Numeric[name] = chunk
		done++
		if onColumn != nil {
			onColumn(done)
		}
	}
	for _, name := range cols.categorical {
		chunk, err := s.decodeCategorical(ctx, r, name)
		if err != nil {
			return nil, err
		}
		b.Categorical[name] = chunk
		done++
		if onColumn != nil {
			onColumn(done)
		}
	}
	return b, nil
}

func (s *Session) decodeNumeric(ctx context.Context, r *residentShard, name string) (columnar.NumericChunk, error) {
	r.decodeMu.Lock()
	col, err := r.shard.DecodeNumeric(ctx, name)
	r.decodeMu.Unlock()
	if err != nil {
		return columnar.NumericChunk{}, shardDecodeError(err, r, name)
	}
	if len(col.Values) != r.shard.NumRows() {
		return columnar.NumericChunk{}, shardDecodeError(
			fmt.Errorf("decoded %d values, shard has %d rows", len(col.Values), r.shard.NumRows()), r, name)
	}
	if col.Malformed > 0 {
		metrics.MalformedValues.WithLabelValues(s.ds.Name, name).Add(float64(col.Malformed))
	}
	return columnar.NumericChunk{Values: col.Values, Valid: col.Valid}, nil
}

func (s *Session) decodeCategorical(ctx context.Context, r *residentShard, name string) (columnar.CategoricalChunk, error) {
	r.decodeMu.Lock()
	col, err := r.shard.DecodeCategorical(ctx, name)
	r.decodeMu.Unlock()
	if err != nil {
		return columnar.CategoricalChunk{}, shardDecodeError(err, r, name)
	}
	if len(col.Codes) != r.shard.NumRows() {
		return columnar.CategoricalChunk{}, shardDecodeError(
			fmt.Errorf("decoded %d values, shard has %d rows", len(col.Codes), r.shard.NumRows()), r, name)
	}
	return columnar.CategoricalChunk{Dictionary: col.Dictionary, Codes: col.Codes}, nil
}

// shardDecodeError classifies a decode failure. Cancellation is reported as
// a timeout so the caller may retry; anything else is a parse failure.
func shardDecodeError(err error, r *residentShard, column string) error {
	errType := errors.ErrorTypeParse
	msg := fmt.Sprintf("failed to decode column %q of shard %d", column, r.number)
	if isContextError(err) {
		errType = errors.ErrorTypeTimeout
		msg = fmt.Sprintf("decoding shard %d was cancelled", r.number)
	}
	return errors.Wrap(err, errType, msg).
		WithDetail("shard", r.number).
		WithDetail("location", r.location).
		WithDetail("column", column)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// closeShards releases decoders of shards that were never committed.
func closeShards(decoded []*decodedShard) {
	for _, d := range decoded {
		if d != nil && d.resident.shard != nil {
			_ = d.resident.shard.Close()
		}
	}
}
