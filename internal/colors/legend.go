package colors

import (
	"github.com/ajitpratap0/constellation/internal/attrindex"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

// gradientStops is the number of swatches describing a continuous gradient.
const gradientStops = 5

// Entry is one categorical legend row.
type Entry struct {
	Value string `json:"value"`
	Color string `json:"color"`
}

// Stop is one point of a continuous gradient legend.
type Stop struct {
	Value float32 `json:"value"`
	Color string  `json:"color"`
}

// Legend describes how an attribute is colored.
type Legend struct {
	Attribute string  `json:"attribute"`
	Kind      string  `json:"kind"`
	Entries   []Entry `json:"entries,omitempty"`
	// Remainder counts categorical values beyond the displayed entries
	Remainder int    `json:"remainder,omitempty"`
	Stops     []Stop `json:"stops,omitempty"`
}

// Legend builds the legend of attr from the attribute index. Categorical
// legends list at most maxEntries values in first-seen order.
func (a *Assignor) Legend(attr string, maxEntries int) (*Legend, error) {
	switch a.index.Kind(attr) {
	case attrindex.KindCategorical:
		values := a.index.Values(attr)
		shown := values
		if maxEntries >= 0 && len(shown) > maxEntries {
			shown = shown[:maxEntries]
		}
		l := &Legend{
			Attribute: attr,
			Kind:      attrindex.KindCategorical.String(),
			Entries:   make([]Entry, len(shown)),
			Remainder: len(values) - len(shown),
		}
		for i, v := range shown {
			l.Entries[i] = Entry{Value: v, Color: a.Categorical(attr, v).Hex()}
		}
		return l, nil

	case attrindex.KindContinuous:
		l := &Legend{
			Attribute: attr,
			Kind:      attrindex.KindContinuous.String(),
		}
		r, ok := a.index.Range(attr)
		if !ok {
			return l, nil
		}
		if r.Max <= r.Min {
			l.Stops = []Stop{{Value: r.Min, Color: Gradient(0).Hex()}}
			return l, nil
		}
		for i := 0; i < gradientStops; i++ {
			n := float64(i) / float64(gradientStops-1)
			v := r.Min + float32(n)*(r.Max-r.Min)
			l.Stops = append(l.Stops, Stop{Value: v, Color: Gradient(n).Hex()})
		}
		return l, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "attribute %q is not indexed", attr)
	}
}
