// Package filter combines attribute filters into the visible-index set.
//
// Filters form an ordered list combined with AND. A filter with no
// attribute (unset) imposes no constraint. A categorical filter keeps the
// records whose value is a member of its value set; an empty set keeps
// nothing. A continuous filter keeps the records whose value is non-null and
// within [Min, Max] inclusive.
//
// A filter that has been attached but not narrowed follows the observed
// domain of its attribute, so values first seen in later shards pass it.
// SetValues and SetRange narrow a filter; from then on it keeps exactly the
// values or interval it was given.
//
// Evaluation walks the survivors of the previous filter only, so cost is
// bounded by O(N·F) and shrinks as filters narrow the set.
package filter

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/attrindex"
	"github.com/ajitpratap0/constellation/pkg/columnar"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

// ID identifies a filter within an Engine.
type ID int

// Kind is the matching mode of a filter.
type Kind int

const (
	KindUnset Kind = iota
	KindCategorical
	KindContinuous
)

func (k Kind) String() string {
	switch k {
	case KindCategorical:
		return "categorical"
	case KindContinuous:
		return "continuous"
	default:
		return "unset"
	}
}

// Filter is one member of the conjunction.
type Filter struct {
	ID        ID
	Attribute string
	Kind      Kind
	// Values is the accepted set of a categorical filter, in the order given
	Values []string
	// Range is the accepted interval of a continuous filter
	Range columnar.Range
	// Narrowed is set once Values or Range were chosen explicitly
	Narrowed bool
}

// Descriptor describes a filter for presentation, including the observed
// domain of its attribute.
type Descriptor struct {
	ID        ID              `json:"id"`
	Attribute string          `json:"attribute,omitempty"`
	Kind      string          `json:"kind"`
	Values    []string        `json:"values,omitempty"`
	Range     *columnar.Range `json:"range,omitempty"`
	// Domain is the observed value list of a categorical attribute
	Domain []string `json:"domain,omitempty"`
	// Bounds is the observed range of a continuous attribute
	Bounds *columnar.Range `json:"bounds,omitempty"`
}

// Engine owns the filter list.
type Engine struct {
	index   *attrindex.Index
	logger  *zap.Logger
	nextID  ID
	filters []*Filter
}

// New creates an engine reading observed domains from index.
func New(index *attrindex.Index, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		index:  index,
		logger: logger,
		nextID: 1,
	}
}

// Add appends an unset filter and returns its ID.
func (e *Engine) Add() ID {
	id := e.nextID
	e.nextID++
	e.filters = append(e.filters, &Filter{ID: id, Kind: KindUnset})
	return id
}

// Remove deletes a filter.
func (e *Engine) Remove(id ID) error {
	for i, f := range e.filters {
		if f.ID == id {
			e.filters = append(e.filters[:i], e.filters[i+1:]...)
			return nil
		}
	}
	return notFound(id)
}

// Clear removes every filter.
func (e *Engine) Clear() {
	e.filters = nil
}

// Len returns the number of filters.
func (e *Engine) Len() int { return len(e.filters) }

// Constraining reports whether any filter is attached to an attribute.
func (e *Engine) Constraining() bool {
	for _, f := range e.filters {
		if f.Kind != KindUnset {
			return true
		}
	}
	return false
}

// Get returns a copy of a filter.
func (e *Engine) Get(id ID) (Filter, bool) {
	f := e.find(id)
	if f == nil {
		return Filter{}, false
	}
	e.follow(f)
	out := *f
	out.Values = append([]string(nil), f.Values...)
	return out, true
}

// SetAttribute attaches a filter to an attribute. Categorical attributes
// start with every observed value selected; continuous attributes start
// with the full observed range. An empty attribute unsets the filter.
func (e *Engine) SetAttribute(id ID, attr string) error {
	f := e.find(id)
	if f == nil {
		return notFound(id)
	}

	if attr == "" {
		*f = Filter{ID: id, Kind: KindUnset}
		return nil
	}

	switch e.index.Kind(attr) {
	case attrindex.KindCategorical:
		*f = Filter{
			ID:        id,
			Attribute: attr,
			Kind:      KindCategorical,
			Values:    append([]string(nil), e.index.Values(attr)...),
		}
	case attrindex.KindContinuous:
		r, _ := e.index.Range(attr)
		*f = Filter{
			ID:        id,
			Attribute: attr,
			Kind:      KindContinuous,
			Range:     r,
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "attribute %q is not indexed", attr).
			WithDetail("filter", int(id))
	}
	return nil
}

// SetValues replaces the accepted set of a categorical filter.
func (e *Engine) SetValues(id ID, values []string) error {
	f := e.find(id)
	if f == nil {
		return notFound(id)
	}
	if f.Kind != KindCategorical {
		return errors.Newf(errors.ErrorTypeValidation, "filter %d is %s, not categorical", id, f.Kind)
	}
	f.Values = append([]string(nil), values...)
	f.Narrowed = true
	return nil
}

// SetRange replaces the interval of a continuous filter. Inverted bounds
// are swapped; NaN bounds fall back to the observed range.
func (e *Engine) SetRange(id ID, min, max float32) error {
	f := e.find(id)
	if f == nil {
		return notFound(id)
	}
	if f.Kind != KindContinuous {
		return errors.Newf(errors.ErrorTypeValidation, "filter %d is %s, not continuous", id, f.Kind)
	}

	observed, _ := e.index.Range(f.Attribute)
	if isNaN(min) {
		min = observed.Min
	}
	if isNaN(max) {
		max = observed.Max
	}
	if min > max {
		e.logger.Debug("swapping inverted filter range",
			zap.Int("filter", int(id)),
			zap.Float32("min", min),
			zap.Float32("max", max))
		min, max = max, min
	}
	f.Range = columnar.Range{Min: min, Max: max}
	f.Narrowed = true
	return nil
}

// Filters returns copies of the filters in list order.
func (e *Engine) Filters() []Filter {
	out := make([]Filter, len(e.filters))
	for i, f := range e.filters {
		e.follow(f)
		out[i] = *f
		out[i].Values = append([]string(nil), f.Values...)
	}
	return out
}

// Attributes returns the attributes referenced by attached filters.
func (e *Engine) Attributes() []string {
	var out []string
	for _, f := range e.filters {
		if f.Kind != KindUnset {
			out = append(out, f.Attribute)
		}
	}
	return out
}

// Descriptors describes every filter in list order.
func (e *Engine) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(e.filters))
	for _, f := range e.filters {
		e.follow(f)
		d := Descriptor{
			ID:        f.ID,
			Attribute: f.Attribute,
			Kind:      f.Kind.String(),
		}
		switch f.Kind {
		case KindCategorical:
			d.Values = append([]string{}, f.Values...)
			d.Domain = append([]string(nil), e.index.Values(f.Attribute)...)
		case KindContinuous:
			r := f.Range
			d.Range = &r
			if b, ok := e.index.Range(f.Attribute); ok {
				d.Bounds = &b
			}
		}
		out = append(out, d)
	}
	return out
}

// Evaluate returns the indices of records passing every filter, in
// ascending order.
func (e *Engine) Evaluate(t *columnar.Table) ([]uint32, error) {
	n := t.Len()
	if !e.Constraining() {
		all := make([]uint32, n)
		for i := range all {
			all[i] = uint32(i)
		}
		return all, nil
	}

	survivors := roaring.New()
	survivors.AddRange(0, uint64(n))

	for _, f := range e.filters {
		if survivors.IsEmpty() {
			break
		}
		e.follow(f)
		var err error
		switch f.Kind {
		case KindUnset:
			continue
		case KindCategorical:
			survivors, err = e.applyCategorical(t, f, survivors)
		case KindContinuous:
			survivors, err = e.applyContinuous(t, f, survivors)
		}
		if err != nil {
			return nil, err
		}
	}
	return survivors.ToArray(), nil
}

func (e *Engine) applyCategorical(t *columnar.Table, f *Filter, in *roaring.Bitmap) (*roaring.Bitmap, error) {
	col, ok := t.StringColumn(f.Attribute)
	if !ok {
		return nil, notMaterialized(f)
	}

	accepted := make(map[int32]struct{}, len(f.Values))
	for _, v := range f.Values {
		if code, ok := col.Lookup(v); ok {
			accepted[code] = struct{}{}
		}
	}
	out := roaring.New()
	if len(accepted) == 0 {
		return out, nil
	}

	codes := col.Codes()
	it := in.Iterator()
	for it.HasNext() {
		i := it.Next()
		if _, ok := accepted[codes[i]]; ok {
			out.Add(i)
		}
	}
	return out, nil
}

func (e *Engine) applyContinuous(t *columnar.Table, f *Filter, in *roaring.Bitmap) (*roaring.Bitmap, error) {
	col, ok := t.FloatColumn(f.Attribute)
	if !ok {
		return nil, notMaterialized(f)
	}

	// Nulls hold NaN, which fails both comparisons.
	values := col.Values()
	lo, hi := f.Range.Min, f.Range.Max
	out := roaring.New()
	it := in.Iterator()
	for it.HasNext() {
		i := it.Next()
		if v := values[i]; v >= lo && v <= hi {
			out.Add(i)
		}
	}
	return out, nil
}

// follow widens an un-narrowed filter to the current observed domain of
// its attribute.
func (e *Engine) follow(f *Filter) {
	if f.Narrowed {
		return
	}
	switch f.Kind {
	case KindCategorical:
		f.Values = append([]string(nil), e.index.Values(f.Attribute)...)
	case KindContinuous:
		if r, ok := e.index.Range(f.Attribute); ok {
			f.Range = r
		}
	}
}

func (e *Engine) find(id ID) *Filter {
	for _, f := range e.filters {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func notFound(id ID) error {
	return errors.Newf(errors.ErrorTypeNotFound, "filter %d does not exist", id)
}

func notMaterialized(f *Filter) error {
	return errors.Newf(errors.ErrorTypeValidation, "attribute %q is not materialized", f.Attribute).
		WithDetail("filter", int(f.ID))
}

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }
