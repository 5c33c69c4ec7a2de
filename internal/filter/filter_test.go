package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/attrindex"
	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

// fixture builds the table [Type, Time]:
// 0 A 1.0, 1 B null, 2 C 3.0, 3 A 5.0
func fixture(t *testing.T) (*columnar.Table, *attrindex.Index) {
	t.Helper()
	tbl, err := columnar.NewTable([]string{"x", "y", "z"}, [3]string{"x", "y", "z"})
	require.NoError(t, err)

	zeros := columnar.NumericChunk{Values: make([]float32, 4), Valid: []bool{true, true, true, true}}
	_, err = tbl.Append(&columnar.Batch{
		Rows:    4,
		Numeric: map[string]columnar.NumericChunk{"x": zeros, "y": zeros, "z": zeros},
	})
	require.NoError(t, err)

	typ := columnar.NewStringColumn()
	typ.AppendChunk(columnar.CategoricalChunk{Dictionary: []string{"A", "B", "C"}, Codes: []int32{0, 1, 2, 0}})
	require.NoError(t, tbl.SetStringColumn("Type", typ))

	tm := columnar.NewFloatColumn(columnar.ColumnTypeContinuous)
	tm.AppendChunk(columnar.NumericChunk{Values: []float32{1, 0, 3, 5}, Valid: []bool{true, false, true, true}})
	require.NoError(t, tbl.SetFloatColumn("Time", tm))

	idx := attrindex.New()
	idx.IndexStringColumn("Type", typ)
	idx.IndexFloatColumn("Time", tm)
	return tbl, idx
}

func TestNoFiltersKeepsAll(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3}, got)
}

func TestUnsetFilterIsNoOp(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	typeFilter := e.Add()
	require.NoError(t, e.SetAttribute(typeFilter, "Type"))
	require.NoError(t, e.SetValues(typeFilter, []string{"A", "C"}))
	before, err := e.Evaluate(tbl)
	require.NoError(t, err)

	e.Add()
	after, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Unsetting an attached filter also lifts its constraint.
	require.NoError(t, e.SetAttribute(typeFilter, ""))
	assert.False(t, e.Constraining())
	all, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3}, all)
}

func TestCategoricalScenario(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	id := e.Add()
	require.NoError(t, e.SetAttribute(id, "Type"))

	f, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindCategorical, f.Kind)
	assert.Equal(t, []string{"A", "B", "C"}, f.Values)

	require.NoError(t, e.SetValues(id, []string{"A", "B"}))
	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 3}, got)
}

func TestEmptyCategoricalSetRejectsAll(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	id := e.Add()
	require.NoError(t, e.SetAttribute(id, "Type"))
	require.NoError(t, e.SetValues(id, nil))

	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Values never observed match nothing either.
	require.NoError(t, e.SetValues(id, []string{"Z"}))
	got, err = e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContinuousScenario(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	id := e.Add()
	require.NoError(t, e.SetAttribute(id, "Time"))
	f, _ := e.Get(id)
	assert.Equal(t, columnar.Range{Min: 1, Max: 5}, f.Range)

	require.NoError(t, e.SetRange(id, 1.0, 3.0))
	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	// Inclusive bounds, null excluded.
	assert.Equal(t, []uint32{0, 2}, got)
}

func TestInvertedAndNaNRange(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	id := e.Add()
	require.NoError(t, e.SetAttribute(id, "Time"))

	require.NoError(t, e.SetRange(id, 5, 3))
	f, _ := e.Get(id)
	assert.Equal(t, columnar.Range{Min: 3, Max: 5}, f.Range)

	nan := float32(math.NaN())
	require.NoError(t, e.SetRange(id, nan, 3))
	f, _ = e.Get(id)
	assert.Equal(t, columnar.Range{Min: 1, Max: 3}, f.Range)

	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, got)
}

func TestMonotonicNarrowing(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	typeFilter := e.Add()
	require.NoError(t, e.SetAttribute(typeFilter, "Type"))
	require.NoError(t, e.SetValues(typeFilter, []string{"A", "C"}))
	wide, err := e.Evaluate(tbl)
	require.NoError(t, err)

	timeFilter := e.Add()
	require.NoError(t, e.SetAttribute(timeFilter, "Time"))
	require.NoError(t, e.SetRange(timeFilter, 2, 10))
	narrow, err := e.Evaluate(tbl)
	require.NoError(t, err)

	assert.Subset(t, wide, narrow)
	assert.Equal(t, []uint32{2, 3}, narrow)

	require.NoError(t, e.Remove(timeFilter))
	restored, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, wide, restored)
}

func TestKindMismatchAndUnknownIDs(t *testing.T) {
	_, idx := fixture(t)
	e := New(idx, nil)

	id := e.Add()
	assert.True(t, errors.IsType(e.SetValues(id, []string{"A"}), errors.ErrorTypeValidation))
	assert.True(t, errors.IsType(e.SetRange(id, 0, 1), errors.ErrorTypeValidation))
	assert.True(t, errors.IsType(e.SetAttribute(id, "Gene"), errors.ErrorTypeValidation))

	require.NoError(t, e.SetAttribute(id, "Type"))
	assert.Error(t, e.SetRange(id, 0, 1))

	assert.True(t, errors.IsType(e.Remove(99), errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(e.SetAttribute(99, "Type"), errors.ErrorTypeNotFound))

	second := e.Add()
	assert.Greater(t, int(second), int(id))
	assert.Equal(t, 2, e.Len())
	assert.Equal(t, []string{"Type"}, e.Attributes())

	e.Clear()
	assert.Zero(t, e.Len())
}

func TestEvaluateRequiresMaterializedColumn(t *testing.T) {
	tbl, err := columnar.NewTable([]string{"x", "y", "z"}, [3]string{"x", "y", "z"})
	require.NoError(t, err)
	one := columnar.NumericChunk{Values: []float32{1}, Valid: []bool{true}}
	_, err = tbl.Append(&columnar.Batch{
		Rows:    1,
		Numeric: map[string]columnar.NumericChunk{"x": one, "y": one, "z": one},
	})
	require.NoError(t, err)

	idx := attrindex.New()
	idx.AddCategorical("Gene", []string{"Krt14"})

	e := New(idx, zap.NewNop())
	id := e.Add()
	require.NoError(t, e.SetAttribute(id, "Gene"))

	_, err = e.Evaluate(tbl)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDescriptors(t *testing.T) {
	_, idx := fixture(t)
	e := New(idx, zap.NewNop())

	cat := e.Add()
	require.NoError(t, e.SetAttribute(cat, "Type"))
	require.NoError(t, e.SetValues(cat, []string{"B"}))
	cont := e.Add()
	require.NoError(t, e.SetAttribute(cont, "Time"))
	e.Add()

	ds := e.Descriptors()
	require.Len(t, ds, 3)

	assert.Equal(t, "categorical", ds[0].Kind)
	assert.Equal(t, []string{"B"}, ds[0].Values)
	assert.Equal(t, []string{"A", "B", "C"}, ds[0].Domain)

	assert.Equal(t, "continuous", ds[1].Kind)
	require.NotNil(t, ds[1].Range)
	require.NotNil(t, ds[1].Bounds)
	assert.Equal(t, columnar.Range{Min: 1, Max: 5}, *ds[1].Bounds)

	assert.Equal(t, "unset", ds[2].Kind)
	assert.Nil(t, ds[2].Range)
}

func TestUnnarrowedFiltersFollowGrowth(t *testing.T) {
	tbl, idx := fixture(t)
	e := New(idx, zap.NewNop())

	typeFilter := e.Add()
	require.NoError(t, e.SetAttribute(typeFilter, "Type"))
	timeFilter := e.Add()
	require.NoError(t, e.SetAttribute(timeFilter, "Time"))

	one := columnar.NumericChunk{Values: []float32{0}, Valid: []bool{true}}
	res, err := tbl.Append(&columnar.Batch{
		Rows:        1,
		Numeric:     map[string]columnar.NumericChunk{"x": one, "y": one, "z": one, "Time": {Values: []float32{9}, Valid: []bool{true}}},
		Categorical: map[string]columnar.CategoricalChunk{"Type": {Dictionary: []string{"D"}, Codes: []int32{0}}},
	})
	require.NoError(t, err)
	idx.ApplyAppend(res)

	got, err := e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 3, 4}, got)

	f, ok := e.Get(typeFilter)
	require.True(t, ok)
	assert.False(t, f.Narrowed)
	assert.Equal(t, []string{"A", "B", "C", "D"}, f.Values)

	require.NoError(t, e.SetRange(timeFilter, 0, 5))
	f, _ = e.Get(timeFilter)
	assert.True(t, f.Narrowed)
	got, err = e.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 3}, got)
}
