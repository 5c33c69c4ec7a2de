package columnar

import (
	"bytes"
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeParquet builds a four-row shard split across two row groups.
func writeParquet(t *testing.T) []byte {
	t.Helper()
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float32},
		{Name: "TimeRank", Type: arrow.PrimitiveTypes.Int16, Nullable: true},
		{Name: "Gene", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "Time", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Float32Builder).AppendValues([]float32{1, 2, 3, 4}, nil)
	b.Field(1).(*array.Int16Builder).AppendValues([]int16{7, 8, 9, 10}, nil)
	b.Field(2).(*array.StringBuilder).AppendValues([]string{"Krt14", "Sox2", "", "Krt14"}, []bool{true, true, false, true})
	b.Field(3).(*array.Float32Builder).AppendValues([]float32{0.5, 0, 1.5, 2}, []bool{true, false, true, true})

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithDictionaryDefault(true),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	require.NoError(t, pqarrow.WriteTable(tbl, &buf, 2, props, pqarrow.DefaultWriterProps()))
	return buf.Bytes()
}

func TestParquetDecoder(t *testing.T) {
	dec, err := NewDecoder(Parquet, 1)
	require.NoError(t, err)
	assert.Equal(t, Parquet, dec.Format())

	shard, err := dec.Open(writeParquet(t))
	require.NoError(t, err)
	defer shard.Close()

	assert.Equal(t, 4, shard.NumRows())
	assert.Equal(t, []string{"x", "TimeRank", "Gene", "Time"}, shard.Columns())
	assert.True(t, shard.Has("Gene"))
	assert.False(t, shard.Has("CellType"))

	ctx := context.Background()

	t.Run("categorical across row groups", func(t *testing.T) {
		cat, err := shard.DecodeCategorical(ctx, "Gene")
		require.NoError(t, err)
		assert.Equal(t, []string{"Krt14", "Sox2"}, cat.Dictionary)
		assert.Equal(t, []int32{0, 1, NullCode, 0}, cat.Codes)

		v, ok := cat.Value(3)
		assert.True(t, ok)
		assert.Equal(t, "Krt14", v)
		_, ok = cat.Value(2)
		assert.False(t, ok)
	})

	t.Run("float with nulls", func(t *testing.T) {
		num, err := shard.DecodeNumeric(ctx, "Time")
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false, true, true}, num.Valid)
		assert.Equal(t, float32(1.5), num.Values[2])
		assert.Zero(t, num.Malformed)
	})

	t.Run("integer as continuous", func(t *testing.T) {
		num, err := shard.DecodeNumeric(ctx, "TimeRank")
		require.NoError(t, err)
		assert.Equal(t, []float32{7, 8, 9, 10}, num.Values)
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := shard.DecodeNumeric(ctx, "y")
		var missing *ErrMissingColumn
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "y", missing.Column)
	})
}

func TestParquetDecoderRejectsGarbage(t *testing.T) {
	_, err := NewParquetDecoder(0).Open([]byte("not a parquet file"))
	assert.Error(t, err)
}

const tsvPayload = "Gene\tx\tTime\r\n" +
	"Krt14\t1.5\t0.25\n" +
	"Sox2\tbad\t\n" +
	"\n" +
	"Gene\tx\tTime\n" +
	"Krt14\t3\tNA\n" +
	"Lgr5\n"

func TestTSVDecoder(t *testing.T) {
	dec, err := NewDecoder(TSV, 0)
	require.NoError(t, err)

	shard, err := dec.Open([]byte(tsvPayload))
	require.NoError(t, err)
	defer shard.Close()

	ctx := context.Background()
	assert.Equal(t, 4, shard.NumRows())
	assert.Equal(t, []string{"Gene", "x", "Time"}, shard.Columns())

	cat, err := shard.DecodeCategorical(ctx, "Gene")
	require.NoError(t, err)
	assert.Equal(t, []string{"Krt14", "Sox2", "Lgr5"}, cat.Dictionary)
	assert.Equal(t, []int32{0, 1, 0, 2}, cat.Codes)

	x, err := shard.DecodeNumeric(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, x.Valid)
	assert.Equal(t, float32(3), x.Values[2])
	// "bad" and the short last line
	assert.Equal(t, 2, x.Malformed)

	tm, err := shard.DecodeNumeric(ctx, "Time")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false}, tm.Valid)
	assert.Equal(t, 1, tm.Malformed)

	_, err = shard.DecodeCategorical(ctx, "CellType")
	var missing *ErrMissingColumn
	assert.ErrorAs(t, err, &missing)
}

func TestTSVDecoderErrors(t *testing.T) {
	_, err := NewTSVDecoder(0).Open(nil)
	assert.Error(t, err)

	_, err = NewTSVDecoder(0).Open([]byte("a\tb\ta\n1\t2\t3\n"))
	assert.Error(t, err)
}

func TestTSVDecoderCancelled(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("x\n")
	for i := 0; i < 10; i++ {
		buf.WriteString("1\n")
	}
	shard, err := NewTSVDecoder(4).Open(buf.Bytes())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = shard.DecodeNumeric(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Parquet, f)

	f, err = ParseFormat("TSV")
	require.NoError(t, err)
	assert.Equal(t, TSV, f)

	_, err = ParseFormat("orc")
	assert.Error(t, err)
	_, err = NewDecoder(Format("orc"), 0)
	assert.Error(t, err)
}
