package columnar

import (
	"fmt"
	"math"
)

// Range is an inclusive [Min, Max] interval of observed values.
type Range struct {
	Min float32
	Max float32
}

// Bounds is an axis-aligned bounding box over the active coordinates.
type Bounds struct {
	Min   [3]float32
	Max   [3]float32
	Empty bool
}

// Batch is a run of decoded rows appended as a unit.
type Batch struct {
	Rows        int
	Categorical map[string]CategoricalChunk
	Numeric     map[string]NumericChunk
}

// Appended describes what an Append added to the table.
type Appended struct {
	// Start and End delimit the new record indices [Start, End)
	Start uint32
	End   uint32
	// NewValues lists categorical values seen for the first time, per column
	NewValues map[string][]string
	// Ranges holds the observed range of each continuous column in the batch
	Ranges map[string]Range
}

// Table is the record arena.
type Table struct {
	rows int
	axes [3]string

	x, y, z []float32

	coordOrder  []string
	coordinates map[string]*FloatColumn

	stringOrder []string
	strings     map[string]*StringColumn

	floatOrder []string
	floats     map[string]*FloatColumn
}

// NewTable creates an empty table with the given coordinate candidates and
// active axes.
func NewTable(coordinates []string, axes [3]string) (*Table, error) {
	t := &Table{
		axes:        axes,
		coordinates: make(map[string]*FloatColumn, len(coordinates)),
		strings:     make(map[string]*StringColumn),
		floats:      make(map[string]*FloatColumn),
	}
	for _, name := range coordinates {
		if _, dup := t.coordinates[name]; dup {
			return nil, fmt.Errorf("coordinate column %q declared twice", name)
		}
		t.coordinates[name] = NewFloatColumn(ColumnTypeCoordinate)
		t.coordOrder = append(t.coordOrder, name)
	}
	for _, a := range axes {
		if _, ok := t.coordinates[a]; !ok {
			return nil, fmt.Errorf("axis %q is not a coordinate column", a)
		}
	}
	return t, nil
}

// Len returns the number of records.
func (t *Table) Len() int { return t.rows }

// Axes returns the coordinate candidates currently copied into X, Y and Z.
func (t *Table) Axes() [3]string { return t.axes }

// X returns the active x coordinates. Null coordinates are NaN.
func (t *Table) X() []float32 { return t.x }

// Y returns the active y coordinates.
func (t *Table) Y() []float32 { return t.y }

// Z returns the active z coordinates.
func (t *Table) Z() []float32 { return t.z }

// Position returns the active position of record i.
func (t *Table) Position(i uint32) [3]float32 {
	return [3]float32{t.x[i], t.y[i], t.z[i]}
}

// CoordinateNames returns the coordinate candidates in declaration order.
func (t *Table) CoordinateNames() []string { return t.coordOrder }

// Coordinate returns a raw coordinate candidate column.
func (t *Table) Coordinate(name string) (*FloatColumn, bool) {
	c, ok := t.coordinates[name]
	return c, ok
}

// StringColumn returns a materialized categorical column.
func (t *Table) StringColumn(name string) (*StringColumn, bool) {
	c, ok := t.strings[name]
	return c, ok
}

// FloatColumn returns a materialized continuous column.
func (t *Table) FloatColumn(name string) (*FloatColumn, bool) {
	c, ok := t.floats[name]
	return c, ok
}

// HasColumn reports whether a categorical or continuous column is
// materialized.
func (t *Table) HasColumn(name string) bool {
	if _, ok := t.strings[name]; ok {
		return true
	}
	_, ok := t.floats[name]
	return ok
}

// StringColumns returns materialized categorical column names in
// materialization order.
func (t *Table) StringColumns() []string { return t.stringOrder }

// FloatColumns returns materialized continuous column names in
// materialization order.
func (t *Table) FloatColumns() []string { return t.floatOrder }

// Append adds a batch of rows. The batch must carry every coordinate
// candidate and every materialized column, each with exactly Rows values.
// Nothing is modified when validation fails.
func (t *Table) Append(b *Batch) (*Appended, error) {
	if err := t.validate(b, t.rows); err != nil {
		return nil, err
	}

	res := &Appended{
		Start:     uint32(t.rows),
		End:       uint32(t.rows + b.Rows),
		NewValues: make(map[string][]string),
		Ranges:    make(map[string]Range),
	}

	for _, name := range t.coordOrder {
		t.coordinates[name].AppendChunk(b.Numeric[name])
	}
	for _, name := range t.stringOrder {
		if added := t.strings[name].AppendChunk(b.Categorical[name]); len(added) > 0 {
			res.NewValues[name] = added
		}
	}
	for _, name := range t.floatOrder {
		if min, max, ok := t.floats[name].AppendChunk(b.Numeric[name]); ok {
			res.Ranges[name] = Range{Min: min, Max: max}
		}
	}

	start := t.rows
	t.rows += b.Rows
	t.x = append(t.x, t.coordinates[t.axes[0]].values[start:]...)
	t.y = append(t.y, t.coordinates[t.axes[1]].values[start:]...)
	t.z = append(t.z, t.coordinates[t.axes[2]].values[start:]...)

	return res, nil
}

// CheckAppend reports whether the batches could be appended in order
// without error. It does not modify the table.
func (t *Table) CheckAppend(batches ...*Batch) error {
	rows := t.rows
	for i, b := range batches {
		if err := t.validate(b, rows); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		rows += b.Rows
	}
	return nil
}

func (t *Table) validate(b *Batch, rows int) error {
	if b == nil || b.Rows < 0 {
		return fmt.Errorf("invalid batch")
	}
	if uint64(rows)+uint64(b.Rows) > math.MaxUint32 {
		return fmt.Errorf("table would exceed %d records", uint64(math.MaxUint32))
	}
	for _, name := range t.coordOrder {
		chunk, ok := b.Numeric[name]
		if !ok {
			return fmt.Errorf("batch is missing coordinate column %q", name)
		}
		if len(chunk.Values) != b.Rows || len(chunk.Valid) != b.Rows {
			return fmt.Errorf("coordinate column %q has %d values, want %d", name, len(chunk.Values), b.Rows)
		}
	}
	for _, name := range t.stringOrder {
		chunk, ok := b.Categorical[name]
		if !ok {
			return fmt.Errorf("batch is missing categorical column %q", name)
		}
		if len(chunk.Codes) != b.Rows {
			return fmt.Errorf("categorical column %q has %d values, want %d", name, len(chunk.Codes), b.Rows)
		}
		for _, code := range chunk.Codes {
			if code != NullCode && (code < 0 || int(code) >= len(chunk.Dictionary)) {
				return fmt.Errorf("categorical column %q has code %d outside its dictionary", name, code)
			}
		}
	}
	for _, name := range t.floatOrder {
		chunk, ok := b.Numeric[name]
		if !ok {
			return fmt.Errorf("batch is missing continuous column %q", name)
		}
		if len(chunk.Values) != b.Rows || len(chunk.Valid) != b.Rows {
			return fmt.Errorf("continuous column %q has %d values, want %d", name, len(chunk.Values), b.Rows)
		}
	}
	for name := range b.Categorical {
		if _, ok := t.strings[name]; !ok {
			return fmt.Errorf("batch carries unmaterialized categorical column %q", name)
		}
	}
	for name := range b.Numeric {
		_, coord := t.coordinates[name]
		_, float := t.floats[name]
		if !coord && !float {
			return fmt.Errorf("batch carries unmaterialized numeric column %q", name)
		}
	}
	return nil
}

// SetStringColumn attaches a categorical column covering all records.
func (t *Table) SetStringColumn(name string, col *StringColumn) error {
	if err := t.checkAttach(name, col.Len()); err != nil {
		return err
	}
	t.strings[name] = col
	t.stringOrder = append(t.stringOrder, name)
	return nil
}

// SetFloatColumn attaches a continuous column covering all records.
func (t *Table) SetFloatColumn(name string, col *FloatColumn) error {
	if err := t.checkAttach(name, col.Len()); err != nil {
		return err
	}
	t.floats[name] = col
	t.floatOrder = append(t.floatOrder, name)
	return nil
}

func (t *Table) checkAttach(name string, n int) error {
	if t.HasColumn(name) {
		return fmt.Errorf("column %q is already materialized", name)
	}
	if _, ok := t.coordinates[name]; ok {
		return fmt.Errorf("column %q is a coordinate column", name)
	}
	if n != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d records", name, n, t.rows)
	}
	return nil
}

// RemapCoordinates copies three coordinate candidates into the active
// x, y and z arrays for every record.
func (t *Table) RemapCoordinates(axes [3]string) error {
	for _, a := range axes {
		if _, ok := t.coordinates[a]; !ok {
			return fmt.Errorf("axis %q is not a coordinate column", a)
		}
	}
	t.axes = axes
	t.x = append(t.x[:0], t.coordinates[axes[0]].values...)
	t.y = append(t.y[:0], t.coordinates[axes[1]].values...)
	t.z = append(t.z[:0], t.coordinates[axes[2]].values...)
	return nil
}

// Bounds returns the bounding box of the active coordinates, skipping
// records with any null coordinate. When indices is non-nil only those
// records are considered.
func (t *Table) Bounds(indices []uint32) Bounds {
	b := Bounds{Empty: true}
	visit := func(i int) {
		p := [3]float32{t.x[i], t.y[i], t.z[i]}
		if isNaN(p[0]) || isNaN(p[1]) || isNaN(p[2]) {
			return
		}
		if b.Empty {
			b.Min, b.Max, b.Empty = p, p, false
			return
		}
		for k := 0; k < 3; k++ {
			if p[k] < b.Min[k] {
				b.Min[k] = p[k]
			}
			if p[k] > b.Max[k] {
				b.Max[k] = p[k]
			}
		}
	}
	if indices == nil {
		for i := 0; i < t.rows; i++ {
			visit(i)
		}
	} else {
		for _, i := range indices {
			visit(int(i))
		}
	}
	return b
}

// MemoryUsage returns an estimate of the bytes held by the table.
func (t *Table) MemoryUsage() int64 {
	total := int64(len(t.x)+len(t.y)+len(t.z)) * 4
	for _, c := range t.coordinates {
		total += c.MemoryUsage()
	}
	for _, c := range t.strings {
		total += c.MemoryUsage()
	}
	for _, c := range t.floats {
		total += c.MemoryUsage()
	}
	return total
}
