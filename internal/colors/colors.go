// Package colors assigns display colors to attribute values and builds
// legends from the attribute index.
//
// Categorical values receive a default color derived from a polynomial hash
// of their UTF-8 bytes, so a value keeps its color across sessions unless an
// override is set. Continuous values are mapped through a fixed hue
// gradient over the attribute's observed range.
package colors

import (
	"fmt"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ajitpratap0/constellation/internal/attrindex"
	"github.com/ajitpratap0/constellation/pkg/errors"
)

// RGB is an 8-bit color.
type RGB [3]uint8

// Hex returns the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// NullColor is used for records without a value.
var NullColor = RGB{128, 128, 128}

const (
	gradientTurns      = 0.7
	gradientSaturation = 0.8
	gradientLightness  = 0.5

	randomSaturation = 0.7
	randomLightness  = 0.55
)

// Hash is the polynomial string hash h = h*31 + b over the bytes of s,
// wrapping at 32 bits.
func Hash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// Default returns the hash-derived color of a categorical value.
func Default(value string) RGB {
	h := Hash(value)
	hue := float64(h % 360)
	sat := 0.55 + float64((h>>8)%30)/100
	light := 0.45 + float64((h>>16)%20)/100
	return hsl(hue, sat, light)
}

// Gradient maps a normalized position n in [0, 1] to the continuous
// gradient: hue = (1-n)*0.7 turns.
func Gradient(n float64) RGB {
	if n < 0 || n != n {
		n = 0
	} else if n > 1 {
		n = 1
	}
	return hsl((1-n)*gradientTurns*360, gradientSaturation, gradientLightness)
}

// Normalize maps v into [0, 1] over [min, max]; a degenerate range maps to 0.
func Normalize(v, min, max float32) float64 {
	if max <= min {
		return 0
	}
	return float64(v-min) / float64(max-min)
}

func hsl(h, s, l float64) RGB {
	r, g, b := colorful.Hsl(h, s, l).Clamped().RGB255()
	return RGB{r, g, b}
}

type key struct {
	attr  string
	value string
}

// Assignor resolves colors for attribute values.
type Assignor struct {
	index      *attrindex.Index
	overrides  map[key]RGB
	cache      map[string]RGB
	generation uint64
}

// NewAssignor creates an assignor reading attribute kinds and ranges from
// index.
func NewAssignor(index *attrindex.Index) *Assignor {
	return &Assignor{
		index:     index,
		overrides: make(map[key]RGB),
		cache:     make(map[string]RGB),
	}
}

// Generation increases whenever overrides change, so renderers can tell
// when already-colored points must be recolored.
func (a *Assignor) Generation() uint64 { return a.generation }

// Categorical returns the color of a categorical value: the override if
// one is set, otherwise the cached hash-derived default.
func (a *Assignor) Categorical(attr, value string) RGB {
	if c, ok := a.overrides[key{attr, value}]; ok {
		return c
	}
	if c, ok := a.cache[value]; ok {
		return c
	}
	c := Default(value)
	a.cache[value] = c
	return c
}

// Continuous returns the gradient color of v within attr's observed range.
func (a *Assignor) Continuous(attr string, v float32, ok bool) RGB {
	if !ok {
		return NullColor
	}
	r, known := a.index.Range(attr)
	if !known {
		return Gradient(0)
	}
	return Gradient(Normalize(v, r.Min, r.Max))
}

// SetOverride fixes the color of one categorical value.
func (a *Assignor) SetOverride(attr, value string, c RGB) {
	a.overrides[key{attr, value}] = c
	a.generation++
}

// Override returns the override for a value, if any.
func (a *Assignor) Override(attr, value string) (RGB, bool) {
	c, ok := a.overrides[key{attr, value}]
	return c, ok
}

// ClearOverrides drops every override.
func (a *Assignor) ClearOverrides() {
	if len(a.overrides) == 0 {
		return
	}
	a.overrides = make(map[key]RGB)
	a.generation++
}

// Randomize assigns evenly spaced hues in random order to every known value
// of a categorical attribute, replacing its overrides.
func (a *Assignor) Randomize(attr string, rng *rand.Rand) error {
	switch a.index.Kind(attr) {
	case attrindex.KindCategorical:
	case attrindex.KindContinuous:
		return errors.Newf(errors.ErrorTypeCapability, "cannot randomize colors of continuous attribute %q", attr)
	default:
		return errors.Newf(errors.ErrorTypeValidation, "attribute %q is not indexed", attr)
	}

	values := a.index.Values(attr)
	for k := range a.overrides {
		if k.attr == attr {
			delete(a.overrides, k)
		}
	}

	n := len(values)
	perm := rng.Perm(n)
	for i, v := range values {
		hue := float64(perm[i]) * 360 / float64(n)
		a.overrides[key{attr, v}] = hsl(hue, randomSaturation, randomLightness)
	}
	a.generation++
	return nil
}
