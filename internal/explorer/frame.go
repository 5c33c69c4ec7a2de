package explorer

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/camera"
	"github.com/ajitpratap0/constellation/internal/colors"
)

// Frame is what the rendering surface draws: the rendered-index set with
// paired position and color buffers.
type Frame struct {
	// Indices maps surface-local positions to record indices
	Indices []uint32 `json:"indices"`
	// Positions holds x, y, z per rendered point
	Positions []float32 `json:"positions"`
	// Colors holds r, g, b per rendered point
	Colors []uint8 `json:"colors"`
	// Camera is set when this frame refit the camera
	Camera          *camera.Pose `json:"camera,omitempty"`
	ColorAttribute  string       `json:"color_attribute,omitempty"`
	ColorGeneration uint64       `json:"color_generation"`
	Visible         int          `json:"visible"`
	Records         int          `json:"records"`
}

// Len returns the number of rendered points.
func (f *Frame) Len() int { return len(f.Indices) }

// Frame builds the buffers for the current rendered-index set. The camera
// is fit over the rendered points on the first non-empty frame and after
// ResetCamera or RemapCoordinates; other frames leave it alone.
func (s *Session) Frame() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	rendered := s.sampler.Rendered()
	f := &Frame{
		Indices:         append([]uint32(nil), rendered...),
		Positions:       make([]float32, 0, 3*len(rendered)),
		Colors:          make([]uint8, 0, 3*len(rendered)),
		ColorAttribute:  s.colorAttr,
		ColorGeneration: s.colors.Generation(),
		Visible:         len(s.visible),
		Records:         s.table.Len(),
	}

	paint := s.painterLocked()
	for _, i := range rendered {
		p := s.table.Position(i)
		f.Positions = append(f.Positions, p[0], p[1], p[2])
		c := paint(i)
		f.Colors = append(f.Colors, c[0], c[1], c[2])
	}

	if s.fitPending && len(rendered) > 0 {
		if pose, ok := camera.Fit(s.table.Bounds(rendered), s.cameraParams()); ok {
			s.pose = &pose
			s.fitPending = false
			fitted := pose
			f.Camera = &fitted
			s.logger.Debug("camera fitted",
				zap.Int("view_axis", pose.ViewAxis),
				zap.Float64("distance", pose.Distance))
		}
	}
	return f
}

// painterLocked returns the color function for the current color
// attribute. Records lacking a value, and every record while the attribute
// is not materialized, get the null color.
func (s *Session) painterLocked() func(i uint32) colors.RGB {
	attr := s.colorAttr
	if col, ok := s.table.StringColumn(attr); ok {
		return func(i uint32) colors.RGB {
			v, ok := col.Value(i)
			if !ok {
				return colors.NullColor
			}
			return s.colors.Categorical(attr, v)
		}
	}
	if col, ok := s.table.FloatColumn(attr); ok {
		return func(i uint32) colors.RGB {
			v, ok := col.Value(i)
			return s.colors.Continuous(attr, v, ok)
		}
	}
	return func(uint32) colors.RGB { return colors.NullColor }
}

func (s *Session) cameraParams() camera.Params {
	return camera.Params{
		FOVDegrees:  s.cfg.Camera.FOVDegrees,
		Margin:      s.cfg.Camera.Margin,
		MinDistance: s.cfg.Camera.MinDistance,
	}
}

// Camera returns the last fitted camera pose.
func (s *Session) Camera() (camera.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pose == nil {
		return camera.Pose{}, false
	}
	return *s.pose, true
}

// Visible returns a copy of the visible-index set.
func (s *Session) Visible() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.visible...)
}

// Rendered returns a copy of the rendered-index set.
func (s *Session) Rendered() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.sampler.Rendered()...)
}

// RecordAt maps a surface-local point position back to its record index,
// as needed for picking and hover.
func (s *Session) RecordAt(local int) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampler.RecordAt(local)
}

// Record is the materialized view of one record.
type Record struct {
	Index       uint32             `json:"index"`
	Position    [3]float32         `json:"position"`
	Categorical map[string]string  `json:"categorical,omitempty"`
	Continuous  map[string]float32 `json:"continuous,omitempty"`
}

// Record returns the materialized attributes of record i. Null values are
// omitted.
func (s *Session) Record(i uint32) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(i) >= s.table.Len() {
		return nil, false
	}
	r := &Record{
		Index:       i,
		Position:    s.table.Position(i),
		Categorical: make(map[string]string),
		Continuous:  make(map[string]float32),
	}
	for _, name := range s.table.StringColumns() {
		col, _ := s.table.StringColumn(name)
		if v, ok := col.Value(i); ok {
			r.Categorical[name] = v
		}
	}
	for _, name := range s.table.FloatColumns() {
		col, _ := s.table.FloatColumn(name)
		if v, ok := col.Value(i); ok {
			r.Continuous[name] = v
		}
	}
	return r, true
}
