package columnar

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// ColumnType represents the data type of a column
type ColumnType int

const (
	ColumnTypeCategorical ColumnType = iota
	ColumnTypeContinuous
	ColumnTypeCoordinate
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeCategorical:
		return "categorical"
	case ColumnTypeContinuous:
		return "continuous"
	case ColumnTypeCoordinate:
		return "coordinate"
	default:
		return "unknown"
	}
}

// Column is the base interface for all column types
type Column interface {
	Type() ColumnType
	Len() int
	MemoryUsage() int64
}

// NullCode is the code of a missing categorical value.
const NullCode int32 = -1

// CategoricalChunk is a run of dictionary-coded values whose codes index
// into a chunk-local dictionary.
type CategoricalChunk struct {
	Dictionary []string
	Codes      []int32
}

// NumericChunk is a run of nullable float32 values.
type NumericChunk struct {
	Values []float32
	Valid  []bool
}

// StringColumn stores categorical values as codes into a column-wide
// dictionary. Codes are assigned in first-seen order and never change.
type StringColumn struct {
	dict   map[string]int32
	values []string
	codes  []int32
}

// NewStringColumn creates a new string column
func NewStringColumn() *StringColumn {
	return &StringColumn{
		dict: make(map[string]int32),
	}
}

func (c *StringColumn) Type() ColumnType { return ColumnTypeCategorical }
func (c *StringColumn) Len() int         { return len(c.codes) }

// Code returns the dictionary code at row i, or NullCode.
func (c *StringColumn) Code(i uint32) int32 { return c.codes[i] }

// Codes returns the backing code slice. Callers must not modify it.
func (c *StringColumn) Codes() []int32 { return c.codes }

// Value returns the string at row i.
func (c *StringColumn) Value(i uint32) (string, bool) {
	code := c.codes[i]
	if code == NullCode {
		return "", false
	}
	return c.values[code], true
}

// Lookup returns the code assigned to value.
func (c *StringColumn) Lookup(value string) (int32, bool) {
	code, ok := c.dict[value]
	return code, ok
}

// Dictionary returns the distinct values in first-seen order.
func (c *StringColumn) Dictionary() []string { return c.values }

// AppendChunk appends a chunk, translating its local codes. It returns the
// values that were new to the column in row order. Dictionary entries that
// no row references are not added.
func (c *StringColumn) AppendChunk(chunk CategoricalChunk) []string {
	const unmapped = NullCode - 1

	var added []string
	remap := make([]int32, len(chunk.Dictionary))
	for i := range remap {
		remap[i] = unmapped
	}

	for _, local := range chunk.Codes {
		if local == NullCode {
			c.codes = append(c.codes, NullCode)
			continue
		}
		g := remap[local]
		if g == unmapped {
			v := chunk.Dictionary[local]
			code, ok := c.dict[v]
			if !ok {
				code = int32(len(c.values))
				c.dict[v] = code
				c.values = append(c.values, v)
				added = append(added, v)
			}
			remap[local] = code
			g = code
		}
		c.codes = append(c.codes, g)
	}
	return added
}

func (c *StringColumn) MemoryUsage() int64 {
	var total int64
	for _, v := range c.values {
		total += int64(len(v)) + 16 // string header overhead
		total += 4                  // map code
	}
	total += int64(len(c.codes) * 4)
	return total
}

// FloatColumn stores nullable float32 values. Null rows hold NaN in the
// value slice and are recorded in a roaring bitmap.
type FloatColumn struct {
	typ    ColumnType
	values []float32
	nulls  *roaring.Bitmap
	min    float32
	max    float32
	seen   bool
}

// NewFloatColumn creates a new float column of the given type.
func NewFloatColumn(typ ColumnType) *FloatColumn {
	return &FloatColumn{
		typ:   typ,
		nulls: roaring.New(),
	}
}

func (c *FloatColumn) Type() ColumnType { return c.typ }
func (c *FloatColumn) Len() int         { return len(c.values) }

// Value returns the value at row i and whether it is present.
func (c *FloatColumn) Value(i uint32) (float32, bool) {
	if c.nulls.Contains(i) {
		return 0, false
	}
	return c.values[i], true
}

// Values returns the backing slice; null rows hold NaN.
func (c *FloatColumn) Values() []float32 { return c.values }

// Nulls returns the set of null rows. Callers must not modify it.
func (c *FloatColumn) Nulls() *roaring.Bitmap { return c.nulls }

// NullCount returns the number of null rows.
func (c *FloatColumn) NullCount() uint64 { return c.nulls.GetCardinality() }

// Range returns the observed min and max over non-null values.
func (c *FloatColumn) Range() (min, max float32, ok bool) {
	return c.min, c.max, c.seen
}

// AppendChunk appends a chunk and returns the observed range of the chunk's
// non-null values.
func (c *FloatColumn) AppendChunk(chunk NumericChunk) (min, max float32, ok bool) {
	base := uint32(len(c.values))
	nan := float32(math.NaN())
	for i, v := range chunk.Values {
		valid := i < len(chunk.Valid) && chunk.Valid[i]
		if valid && isNaN(v) {
			valid = false
		}
		if !valid {
			c.values = append(c.values, nan)
			c.nulls.Add(base + uint32(i))
			continue
		}
		c.values = append(c.values, v)
		if !ok {
			min, max, ok = v, v, true
		} else if v < min {
			min = v
		} else if v > max {
			max = v
		}
	}
	if ok {
		c.observe(min, max)
	}
	return min, max, ok
}

func (c *FloatColumn) observe(min, max float32) {
	if !c.seen {
		c.min, c.max, c.seen = min, max, true
		return
	}
	if min < c.min {
		c.min = min
	}
	if max > c.max {
		c.max = max
	}
}

func (c *FloatColumn) MemoryUsage() int64 {
	return int64(len(c.values)*4) + int64(c.nulls.GetSizeInBytes())
}

func isNaN(f float32) bool { return f != f }
