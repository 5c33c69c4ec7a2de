// Package camera computes the auto-fit camera placement for a point set.
package camera

import (
	"math"

	"github.com/ajitpratap0/constellation/pkg/columnar"
)

// Params controls the fit.
type Params struct {
	// FOVDegrees is the vertical field of view
	FOVDegrees float64
	// Margin scales the distance so points do not touch the frame edge
	Margin float64
	// MinDistance floors the distance for tiny or degenerate boxes
	MinDistance float64
}

// DefaultParams returns a 60° field of view, 1.2 margin and unit floor.
func DefaultParams() Params {
	return Params{FOVDegrees: 60, Margin: 1.2, MinDistance: 1}
}

// Pose is a camera placement looking at Target from Position.
type Pose struct {
	Target   [3]float64 `json:"target"`
	Position [3]float64 `json:"position"`
	Up       [3]float64 `json:"up"`
	// ViewAxis is the axis the camera looks along (0=x, 1=y, 2=z)
	ViewAxis int     `json:"view_axis"`
	Distance float64 `json:"distance"`
}

// Fit places the camera above the center of b along the axis orthogonal to
// the two largest extents, far enough that the larger in-plane extent fills
// the field of view. The in-plane axis with the smaller extent is used as
// the up vector. It returns false for an empty box.
func Fit(b columnar.Bounds, p Params) (Pose, bool) {
	if b.Empty {
		return Pose{}, false
	}

	var center, extent [3]float64
	for k := 0; k < 3; k++ {
		lo, hi := float64(b.Min[k]), float64(b.Max[k])
		center[k] = (lo + hi) / 2
		extent[k] = hi - lo
	}

	// Smallest extent wins; ties prefer z, then y.
	view := 2
	for k := 1; k >= 0; k-- {
		if extent[k] < extent[view] {
			view = k
		}
	}
	a, c := (view+1)%3, (view+2)%3
	inPlane := math.Max(extent[a], extent[c])
	upAxis := a
	if extent[c] < extent[a] || (extent[c] == extent[a] && c > a) {
		upAxis = c
	}

	fov := p.FOVDegrees * math.Pi / 180
	dist := (inPlane / 2) / math.Tan(fov/2) * p.Margin
	if dist < p.MinDistance || math.IsNaN(dist) {
		dist = p.MinDistance
	}

	pose := Pose{
		Target:   center,
		Position: center,
		ViewAxis: view,
		Distance: dist,
	}
	pose.Position[view] += dist
	pose.Up[upAxis] = 1
	return pose, true
}
