package columnar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetDecoder opens Parquet shard payloads.
type ParquetDecoder struct {
	pool      memory.Allocator
	chunkRows int
}

// NewParquetDecoder creates a Parquet decoder using the Go allocator.
// Columns are read in batches of chunkRows rows with a cooperative yield
// between batches.
func NewParquetDecoder(chunkRows int) *ParquetDecoder {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	return &ParquetDecoder{pool: memory.NewGoAllocator(), chunkRows: chunkRows}
}

// Format implements Decoder.
func (d *ParquetDecoder) Format() Format { return Parquet }

// Open implements Decoder.
func (d *ParquetDecoder) Open(data []byte) (Shard, error) {
	fr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet reader: %w", err)
	}

	schema := fr.MetaData().Schema
	cols := make([]string, schema.NumColumns())
	for i := range cols {
		cols[i] = schema.Column(i).Name()
	}

	rowGroups := make([]int, fr.NumRowGroups())
	for i := range rowGroups {
		rowGroups[i] = i
	}

	return &parquetShard{
		fr:        fr,
		pool:      d.pool,
		chunkRows: d.chunkRows,
		columns:   cols,
		rowGroups: rowGroups,
		rows:      int(fr.NumRows()),
	}, nil
}

type parquetShard struct {
	fr        *file.Reader
	pool      memory.Allocator
	chunkRows int
	columns   []string
	rowGroups []int
	rows      int
}

func (s *parquetShard) NumRows() int      { return s.rows }
func (s *parquetShard) Columns() []string { return s.columns }

func (s *parquetShard) Has(name string) bool {
	return s.fr.MetaData().Schema.ColumnIndexByName(name) >= 0
}

func (s *parquetShard) Close() error {
	return s.fr.Close()
}

// readColumn streams one leaf column in batches, one row group at a time
// so that a batch never spans two dictionaries. Dictionary decoding is
// requested so categorical columns arrive as *array.Dictionary.
func (s *parquetShard) readColumn(ctx context.Context, name string, dict bool, fn func(arrow.Array)) error {
	idx := s.fr.MetaData().Schema.ColumnIndexByName(name)
	if idx < 0 {
		return &ErrMissingColumn{Column: name}
	}

	props := pqarrow.ArrowReadProperties{BatchSize: int64(s.chunkRows)}
	if dict {
		props.SetReadDict(idx, true)
	}
	rdr, err := pqarrow.NewFileReader(s.fr, props, s.pool)
	if err != nil {
		return fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	for _, rg := range s.rowGroups {
		if err := s.readRowGroup(ctx, rdr, idx, rg, fn); err != nil {
			return fmt.Errorf("reading column %q: %w", name, err)
		}
	}
	return nil
}

func (s *parquetShard) readRowGroup(ctx context.Context, rdr *pqarrow.FileReader, idx, rg int, fn func(arrow.Array)) error {
	rr, err := rdr.GetRecordReader(ctx, []int{idx}, []int{rg})
	if err != nil {
		return err
	}
	defer rr.Release()

	for rr.Next() {
		rec := rr.Record()
		if rec.NumCols() != 1 {
			return fmt.Errorf("got %d columns", rec.NumCols())
		}
		fn(rec.Column(0))
		if err := yield(ctx); err != nil {
			return err
		}
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (s *parquetShard) DecodeCategorical(ctx context.Context, name string) (*Categorical, error) {
	db := newDictBuilder()
	codes := make([]int32, 0, s.rows)

	err := s.readColumn(ctx, name, true, func(chunk arrow.Array) {
		switch c := chunk.(type) {
		case *array.Dictionary:
			// Translate the row group's dictionary once, then map indices.
			dict := c.Dictionary()
			remap := make([]int32, dict.Len())
			for j := range remap {
				if dict.IsNull(j) {
					remap[j] = NullCode
					continue
				}
				remap[j] = db.code(stringValue(dict, j))
			}
			for i := 0; i < c.Len(); i++ {
				if c.IsNull(i) {
					codes = append(codes, NullCode)
					continue
				}
				codes = append(codes, remap[c.GetValueIndex(i)])
			}
		default:
			for i := 0; i < chunk.Len(); i++ {
				if chunk.IsNull(i) {
					codes = append(codes, NullCode)
					continue
				}
				codes = append(codes, db.code(stringValue(chunk, i)))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if len(codes) != s.rows {
		return nil, fmt.Errorf("column %q: decoded %d of %d rows", name, len(codes), s.rows)
	}
	return &Categorical{Dictionary: db.values, Codes: codes}, nil
}

func (s *parquetShard) DecodeNumeric(ctx context.Context, name string) (*Numeric, error) {
	out := &Numeric{
		Values: make([]float32, 0, s.rows),
		Valid:  make([]bool, 0, s.rows),
	}

	err := s.readColumn(ctx, name, false, func(chunk arrow.Array) {
		for i := 0; i < chunk.Len(); i++ {
			if chunk.IsNull(i) {
				out.Values = append(out.Values, 0)
				out.Valid = append(out.Valid, false)
				continue
			}
			v, ok := numericValue(chunk, i)
			if !ok {
				out.Malformed++
			}
			out.Values = append(out.Values, v)
			out.Valid = append(out.Valid, ok)
		}
	})
	if err != nil {
		return nil, err
	}

	if len(out.Values) != s.rows {
		return nil, fmt.Errorf("column %q: decoded %d of %d rows", name, len(out.Values), s.rows)
	}
	return out, nil
}

// stringValue extracts a string representation from a non-null array slot.
func stringValue(arr arrow.Array, i int) string {
	switch c := arr.(type) {
	case *array.String:
		return c.Value(i)
	case *array.LargeString:
		return c.Value(i)
	case *array.Binary:
		return string(c.Value(i))
	case *array.Dictionary:
		return stringValue(c.Dictionary(), c.GetValueIndex(i))
	default:
		if v, ok := numericValue(arr, i); ok {
			return strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		return arr.ValueStr(i)
	}
}

// numericValue extracts a float32 from a non-null array slot. String slots
// are parsed; the bool result is false when parsing fails.
func numericValue(arr arrow.Array, i int) (float32, bool) {
	switch c := arr.(type) {
	case *array.Float32:
		return c.Value(i), true
	case *array.Float64:
		return float32(c.Value(i)), true
	case *array.Int8:
		return float32(c.Value(i)), true
	case *array.Int16:
		return float32(c.Value(i)), true
	case *array.Int32:
		return float32(c.Value(i)), true
	case *array.Int64:
		return float32(c.Value(i)), true
	case *array.Uint8:
		return float32(c.Value(i)), true
	case *array.Uint16:
		return float32(c.Value(i)), true
	case *array.Uint32:
		return float32(c.Value(i)), true
	case *array.Uint64:
		return float32(c.Value(i)), true
	case *array.String:
		return parseFloat32(c.Value(i))
	case *array.LargeString:
		return parseFloat32(c.Value(i))
	case *array.Dictionary:
		return numericValue(c.Dictionary(), c.GetValueIndex(i))
	default:
		return 0, false
	}
}

func parseFloat32(s string) (float32, bool) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}
