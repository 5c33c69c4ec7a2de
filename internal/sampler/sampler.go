// Package sampler reduces the visible-index set to the render budget.
package sampler

import (
	"fmt"
	"strings"
)

// Policy selects how an over-budget visible set is reduced.
type Policy string

const (
	// PolicyStride keeps records at evenly spaced positions of the visible
	// order, so every region of the load order is represented
	PolicyStride Policy = "stride"
	// PolicyPrefix keeps the first Budget visible records. Shards are
	// shuffled at build time, so a prefix is an unbiased sample.
	PolicyPrefix Policy = "prefix"
)

// ParsePolicy maps a configuration string to a Policy; "" selects stride.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStride, nil
	case PolicyStride, PolicyPrefix:
		return p, nil
	default:
		return "", fmt.Errorf("unknown sampling policy %q", s)
	}
}

// Sampler holds the current rendered-index set.
type Sampler struct {
	policy   Policy
	budget   int
	rendered []uint32
}

// New creates a sampler.
func New(policy Policy, budget int) (*Sampler, error) {
	s := &Sampler{}
	if err := s.SetPolicy(policy); err != nil {
		return nil, err
	}
	if err := s.SetBudget(budget); err != nil {
		return nil, err
	}
	return s, nil
}

// SetBudget changes the render budget. Takes effect on the next Sample.
func (s *Sampler) SetBudget(budget int) error {
	if budget <= 0 {
		return fmt.Errorf("render budget must be positive, got %d", budget)
	}
	s.budget = budget
	return nil
}

// SetPolicy changes the reduction policy. Takes effect on the next Sample.
func (s *Sampler) SetPolicy(p Policy) error {
	switch p {
	case PolicyStride, PolicyPrefix:
		s.policy = p
		return nil
	default:
		return fmt.Errorf("unknown sampling policy %q", p)
	}
}

// Budget returns the render budget.
func (s *Sampler) Budget() int { return s.budget }

// Policy returns the reduction policy.
func (s *Sampler) Policy() Policy { return s.policy }

// Sample computes and stores the rendered subset of visible. When the
// visible set fits the budget it is returned in full; otherwise exactly
// Budget records are chosen, preserving visible order. The visible slice is
// never modified and the result does not alias it.
func (s *Sampler) Sample(visible []uint32) []uint32 {
	v, b := len(visible), s.budget

	var out []uint32
	switch {
	case v <= b:
		out = append(make([]uint32, 0, v), visible...)
	case s.policy == PolicyPrefix:
		out = append(make([]uint32, 0, b), visible[:b]...)
	default:
		out = make([]uint32, b)
		for k := range out {
			out[k] = visible[uint64(k)*uint64(v)/uint64(b)]
		}
	}
	s.rendered = out
	return out
}

// Rendered returns the current rendered-index set.
func (s *Sampler) Rendered() []uint32 { return s.rendered }

// Len returns the size of the rendered-index set.
func (s *Sampler) Len() int { return len(s.rendered) }

// RecordAt maps a position on the rendering surface back to the record
// index it displays.
func (s *Sampler) RecordAt(local int) (uint32, bool) {
	if local < 0 || local >= len(s.rendered) {
		return 0, false
	}
	return s.rendered[local], true
}
