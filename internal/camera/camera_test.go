package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/constellation/pkg/columnar"
)

func TestFitFlatSlab(t *testing.T) {
	b := columnar.Bounds{
		Min: [3]float32{-10, -5, 0},
		Max: [3]float32{10, 5, 1},
	}
	pose, ok := Fit(b, DefaultParams())
	require.True(t, ok)

	assert.Equal(t, [3]float64{0, 0, 0.5}, pose.Target)
	assert.Equal(t, 2, pose.ViewAxis)

	want := 10 / math.Tan(math.Pi/6) * 1.2
	assert.InDelta(t, want, pose.Distance, 1e-9)
	assert.InDelta(t, 0.5+want, pose.Position[2], 1e-9)
	assert.Equal(t, 0.0, pose.Position[0])
	// y spans less than x, so y is up.
	assert.Equal(t, [3]float64{0, 1, 0}, pose.Up)
}

func TestFitPicksSmallestExtentAxis(t *testing.T) {
	b := columnar.Bounds{
		Min: [3]float32{0, 0, 0},
		Max: [3]float32{1, 8, 4},
	}
	pose, ok := Fit(b, DefaultParams())
	require.True(t, ok)
	assert.Equal(t, 0, pose.ViewAxis)
	assert.Equal(t, [3]float64{0, 0, 1}, pose.Up)
	assert.Greater(t, pose.Position[0], pose.Target[0])
}

func TestFitIdempotent(t *testing.T) {
	b := columnar.Bounds{
		Min: [3]float32{-3, 2, 7},
		Max: [3]float32{4, 9, 8},
	}
	first, ok := Fit(b, DefaultParams())
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		again, _ := Fit(b, DefaultParams())
		assert.Equal(t, first, again)
	}
}

func TestFitFloorAndEmpty(t *testing.T) {
	point := columnar.Bounds{Min: [3]float32{2, 2, 2}, Max: [3]float32{2, 2, 2}}
	pose, ok := Fit(point, Params{FOVDegrees: 60, Margin: 1.2, MinDistance: 3})
	require.True(t, ok)
	assert.Equal(t, 3.0, pose.Distance)
	assert.Equal(t, 2, pose.ViewAxis)

	_, ok = Fit(columnar.Bounds{Empty: true}, DefaultParams())
	assert.False(t, ok)
}
