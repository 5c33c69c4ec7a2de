// Package attrindex maintains the observed domain of every materialized
// attribute: distinct values for categorical columns and the min/max range
// for continuous ones.
//
// The index only grows. It is updated from appended rows or from a column
// the moment it is materialized, never by rescanning the table.
package attrindex

import (
	"github.com/ajitpratap0/constellation/pkg/columnar"
)

// Kind classifies an attribute.
type Kind int

const (
	KindUnknown Kind = iota
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
		return "unknown"
	}
}

type categorical struct {
	values []string
	seen   map[string]struct{}
}

// Index maps attribute names to their observed domains.
type Index struct {
	kinds       map[string]Kind
	categorical map[string]*categorical
	continuous  map[string]columnar.Range
	hasRange    map[string]bool
}

// New creates an empty index.
func New() *Index {
	return &Index{
		kinds:       make(map[string]Kind),
		categorical: make(map[string]*categorical),
		continuous:  make(map[string]columnar.Range),
		hasRange:    make(map[string]bool),
	}
}

// Kind returns the kind of an indexed attribute.
func (x *Index) Kind(attr string) Kind {
	return x.kinds[attr]
}

// Has reports whether attr is indexed.
func (x *Index) Has(attr string) bool {
	_, ok := x.kinds[attr]
	return ok
}

// AddCategorical registers a categorical attribute with its values in
// first-seen order. Values already known are ignored.
func (x *Index) AddCategorical(attr string, values []string) {
	c, ok := x.categorical[attr]
	if !ok {
		c = &categorical{seen: make(map[string]struct{})}
		x.categorical[attr] = c
		x.kinds[attr] = KindCategorical
	}
	for _, v := range values {
		if _, dup := c.seen[v]; dup {
			continue
		}
		c.seen[v] = struct{}{}
		c.values = append(c.values, v)
	}
}

// ObserveRange registers a continuous attribute and widens its range.
// ok=false registers the attribute without an observed range (all null).
func (x *Index) ObserveRange(attr string, r columnar.Range, ok bool) {
	if _, known := x.kinds[attr]; !known {
		x.kinds[attr] = KindContinuous
	}
	if !ok {
		return
	}
	if !x.hasRange[attr] {
		x.continuous[attr] = r
		x.hasRange[attr] = true
		return
	}
	cur := x.continuous[attr]
	if r.Min < cur.Min {
		cur.Min = r.Min
	}
	if r.Max > cur.Max {
		cur.Max = r.Max
	}
	x.continuous[attr] = cur
}

// Values returns the distinct values of a categorical attribute in
// first-seen order. The slice must not be modified.
func (x *Index) Values(attr string) []string {
	if c, ok := x.categorical[attr]; ok {
		return c.values
	}
	return nil
}

// Range returns the observed range of a continuous attribute.
func (x *Index) Range(attr string) (columnar.Range, bool) {
	if !x.hasRange[attr] {
		return columnar.Range{}, false
	}
	return x.continuous[attr], true
}

// ApplyAppend folds the result of a table append into the index.
func (x *Index) ApplyAppend(res *columnar.Appended) {
	for attr, values := range res.NewValues {
		x.AddCategorical(attr, values)
	}
	for attr, r := range res.Ranges {
		x.ObserveRange(attr, r, true)
	}
}

// IndexStringColumn registers a freshly materialized categorical column.
func (x *Index) IndexStringColumn(attr string, col *columnar.StringColumn) {
	x.AddCategorical(attr, col.Dictionary())
}

// IndexFloatColumn registers a freshly materialized continuous column.
func (x *Index) IndexFloatColumn(attr string, col *columnar.FloatColumn) {
	min, max, ok := col.Range()
	x.ObserveRange(attr, columnar.Range{Min: min, Max: max}, ok)
}
