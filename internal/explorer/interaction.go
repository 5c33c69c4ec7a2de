package explorer

import (
	"context"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/colors"
	"github.com/ajitpratap0/constellation/internal/filter"
	"github.com/ajitpratap0/constellation/internal/sampler"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/observability"
)

// Filter mutations only change the filter list. The visible set is
// recomputed by a debounced refresh so that a burst of edits costs one
// evaluation; call Refresh to evaluate immediately.

// AddFilter appends an unset filter. Unset filters impose no constraint.
func (s *Session) AddFilter() filter.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Add()
}

// RemoveFilter deletes a filter and schedules a refresh.
func (s *Session) RemoveFilter(id filter.ID) error {
	s.mu.Lock()
	err := s.filters.Remove(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.scheduleRefresh()
	return nil
}

// ClearFilters removes every filter and schedules a refresh.
func (s *Session) ClearFilters() {
	s.mu.Lock()
	s.filters.Clear()
	s.mu.Unlock()
	s.scheduleRefresh()
}

// SetFilterAttribute attaches a filter to attr, materializing the column
// first when needed. The filter starts out passing every observed value.
// An empty attr detaches the filter. ErrMaterializing is returned when the
// column is being materialized by another caller.
func (s *Session) SetFilterAttribute(ctx context.Context, id filter.ID, attr string) error {
	if attr != "" {
		if err := s.requireColumn(ctx, attr); err != nil {
			return err
		}
	}
	s.mu.Lock()
	err := s.filters.SetAttribute(id, attr)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.scheduleRefresh()
	return nil
}

// SetFilterValues replaces the accepted values of a categorical filter.
// An empty set rejects every record.
func (s *Session) SetFilterValues(id filter.ID, values []string) error {
	s.mu.Lock()
	err := s.filters.SetValues(id, values)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.scheduleRefresh()
	return nil
}

// SetFilterRange sets the inclusive bounds of a continuous filter.
// Inverted bounds are swapped.
func (s *Session) SetFilterRange(id filter.ID, min, max float32) error {
	s.mu.Lock()
	err := s.filters.SetRange(id, min, max)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.scheduleRefresh()
	return nil
}

// Filters returns the filter list in order.
func (s *Session) Filters() []filter.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Filters()
}

// FilterDescriptors describes the filters for a UI layer.
func (s *Session) FilterDescriptors() []filter.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Descriptors()
}

// RefreshPending reports whether a debounced refresh is scheduled.
func (s *Session) RefreshPending() bool { return s.debouncer.Pending() }

// Refresh cancels any scheduled refresh and re-evaluates the filters now.
func (s *Session) Refresh(ctx context.Context) error {
	s.debouncer.Cancel()
	return s.refresh(ctx)
}

func (s *Session) scheduleRefresh() {
	s.debouncer.Trigger(func() {
		if err := s.refresh(context.Background()); err != nil {
			s.logger.Error("filter refresh failed", zap.Error(err))
		}
	})
}

func (s *Session) refresh(ctx context.Context) (err error) {
	_, span := observability.StartSpan(ctx, "explorer.evaluate", attribute.String("dataset", s.ds.Name))
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	if err = s.evaluateLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	visible, rendered := len(s.visible), s.sampler.Len()
	s.mu.Unlock()

	s.logger.Debug("filters evaluated", zap.Int("visible", visible), zap.Int("rendered", rendered))
	if s.onRefresh != nil {
		s.onRefresh(visible, rendered)
	}
	return nil
}

// requireColumn materializes attr, mapping a dropped request to
// ErrMaterializing.
func (s *Session) requireColumn(ctx context.Context, attr string) error {
	res, err := s.EnsureColumn(ctx, attr)
	if err != nil {
		return err
	}
	if res.Dropped {
		return ErrMaterializing
	}
	return nil
}

// SetBudget changes the render budget and resamples the visible set.
func (s *Session) SetBudget(budget int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sampler.SetBudget(budget); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid render budget").
			WithDetail("budget", budget)
	}
	s.resampleLocked()
	return nil
}

// SetSamplingPolicy changes how an over-budget visible set is reduced.
func (s *Session) SetSamplingPolicy(policy string) error {
	p, err := sampler.ParsePolicy(policy)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid render policy")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sampler.SetPolicy(p); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid render policy")
	}
	s.resampleLocked()
	return nil
}

// ColorAttribute returns the attribute points are colored by.
func (s *Session) ColorAttribute() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colorAttr
}

// SetColorAttribute colors points by attr, materializing it when needed.
// An empty attr paints every point with the null color.
func (s *Session) SetColorAttribute(ctx context.Context, attr string) error {
	if attr != "" {
		if s.ds.IsCoordinate(attr) {
			return errors.Newf(errors.ErrorTypeCapability, "cannot color by coordinate column %q", attr)
		}
		if err := s.requireColumn(ctx, attr); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.colorAttr = attr
	s.mu.Unlock()
	return nil
}

// ColorFor returns the color of a categorical value.
func (s *Session) ColorFor(attr, value string) colors.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colors.Categorical(attr, value)
}

// ContinuousColorFor returns the gradient color of v within attr's
// observed range.
func (s *Session) ContinuousColorFor(attr string, v float32) colors.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colors.Continuous(attr, v, v == v)
}

// SetColorOverride fixes the color of one categorical value. Rendered
// points pick it up on the next frame.
func (s *Session) SetColorOverride(attr, value string, c colors.RGB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.table.StringColumn(attr); !ok {
		return errors.Newf(errors.ErrorTypeCapability, "attribute %q is not a materialized categorical column", attr).
			WithDetail("attribute", attr)
	}
	s.colors.SetOverride(attr, value, c)
	return nil
}

// RandomizeColors assigns evenly spaced hues in random order to every
// known value of a categorical attribute. Continuous attributes are
// rejected and left unchanged.
func (s *Session) RandomizeColors(attr string, seed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.colors.Randomize(attr, rand.New(rand.NewSource(seed))); err != nil {
		s.logger.Warn("color randomization rejected", zap.String("attribute", attr), zap.Error(err))
		return err
	}
	return nil
}

// ClearColorOverrides drops every color override.
func (s *Session) ClearColorOverrides() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colors.ClearOverrides()
}

// Legend describes how attr is colored. An empty attr selects the current
// color attribute.
func (s *Session) Legend(attr string) (*colors.Legend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attr == "" {
		attr = s.colorAttr
	}
	if attr == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "no color attribute selected")
	}
	return s.colors.Legend(attr, s.cfg.Render.MaxLegendEntries)
}

// ResetCamera makes the next frame refit the camera.
func (s *Session) ResetCamera() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = nil
	s.fitPending = true
}
