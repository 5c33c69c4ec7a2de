// Package columnar decodes shard payloads column by column.
//
// A shard is retained as raw bytes after download, so the decoders never
// materialize whole rows: Open indexes the payload once and each Decode call
// extracts a single named column. Two on-the-wire formats are supported:
//
//   - Parquet: dictionary-encoded, zstd-compressed files written by the
//     dataset conversion tooling (read through Apache Arrow's pqarrow).
//   - TSV: tab-separated text with a header line; concatenated parts that
//     each repeat the header are accepted.
package columnar

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Format represents a shard payload format.
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// TSV is tab-separated text with a header line
	TSV Format = "tsv"
)

// DefaultChunkRows is the decode batch size when none is configured.
const DefaultChunkRows = 1 << 16

// NullCode marks a missing categorical value in Categorical.Codes.
const NullCode int32 = -1

// Categorical is a dictionary-coded string column local to one shard.
type Categorical struct {
	// Dictionary holds distinct values in first-seen order
	Dictionary []string
	// Codes holds one index into Dictionary per row, or NullCode
	Codes []int32
}

// Value returns the string at row i and whether it is present.
func (c *Categorical) Value(i int) (string, bool) {
	code := c.Codes[i]
	if code == NullCode {
		return "", false
	}
	return c.Dictionary[code], true
}

// Numeric is a nullable float32 column local to one shard.
type Numeric struct {
	Values []float32
	// Valid is false where the value was null or could not be parsed
	Valid []bool
	// Malformed counts values present in the payload that failed to parse
	Malformed int
}

// Shard is an indexed shard payload.
type Shard interface {
	// NumRows returns the number of records in the shard
	NumRows() int
	// Columns returns the column names present in the shard
	Columns() []string
	// Has reports whether the shard carries a column
	Has(name string) bool
	// DecodeCategorical extracts a string column
	DecodeCategorical(ctx context.Context, name string) (*Categorical, error)
	// DecodeNumeric extracts a numeric column as float32
	DecodeNumeric(ctx context.Context, name string) (*Numeric, error)
	// Close releases decoder resources; the payload itself is not owned
	Close() error
}

// Decoder opens shard payloads of one format.
type Decoder interface {
	Open(data []byte) (Shard, error)
	Format() Format
}

// ParseFormat maps a configuration string to a Format. The empty string
// selects Parquet.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Parquet, nil
	case Parquet, TSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported shard format: %s", s)
	}
}

// NewDecoder creates a decoder for the given format. chunkRows sets how many
// rows are decoded between cooperative yields; <= 0 selects
// DefaultChunkRows.
func NewDecoder(format Format, chunkRows int) (Decoder, error) {
	switch format {
	case Parquet:
		return NewParquetDecoder(chunkRows), nil
	case TSV:
		return NewTSVDecoder(chunkRows), nil
	default:
		return nil, fmt.Errorf("unsupported shard format: %s", format)
	}
}

// ErrMissingColumn is returned when a shard lacks a requested column.
type ErrMissingColumn struct {
	Column string
}

func (e *ErrMissingColumn) Error() string {
	return fmt.Sprintf("column %q not present in shard", e.Column)
}

// dictBuilder assigns shard-local codes in first-seen order.
type dictBuilder struct {
	values []string
	codes  map[string]int32
}

func newDictBuilder() *dictBuilder {
	return &dictBuilder{codes: make(map[string]int32)}
}

func (d *dictBuilder) code(v string) int32 {
	if c, ok := d.codes[v]; ok {
		return c
	}
	c := int32(len(d.values))
	d.values = append(d.values, v)
	d.codes[v] = c
	return c
}

// yield lets other goroutines run between decode batches and reports
// cancellation.
func yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}
