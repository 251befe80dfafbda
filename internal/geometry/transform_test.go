package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolarToPlanar(t *testing.T) {
	pts := PolarToPlanar([]Sample{
		{Angle: 0, Distance: 1000},
		{Angle: 90, Distance: 500},
		{Angle: 180, Distance: 2},
		{Angle: 270, Distance: 3},
	})
	require.Len(t, pts, 4)

	assert.InDelta(t, 1000, pts[0].X, 1e-9)
	assert.InDelta(t, 0, pts[0].Y, 1e-9)
	assert.InDelta(t, 0, pts[1].X, 1e-9)
	assert.InDelta(t, 500, pts[1].Y, 1e-9)
	assert.InDelta(t, -2, pts[2].X, 1e-9)
	assert.InDelta(t, -3, pts[3].Y, 1e-9)

	assert.Nil(t, PolarToPlanar(nil))
}

func TestAngularCenter(t *testing.T) {
	tests := []struct {
		name   string
		angles []float64
		want   float64
	}{
		{"east", []float64{-5 + 360, 0, 5}, 0},
		{"north", []float64{85, 90, 95}, 90},
		{"west", []float64{175, 180, 185}, 180},
		{"south", []float64{265, 270, 275}, 270},
		{"straddles zero", []float64{350, 355, 5, 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]Sample, len(tt.angles))
			for i, a := range tt.angles {
				samples[i] = Sample{Angle: a, Distance: 1000}
			}
			got, err := AngularCenter(PolarToPlanar(samples))
			require.NoError(t, err)
			assert.InDelta(t, 0, AngleDiff(got, tt.want), 1e-6)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
		})
	}
}

func TestAngularCenter_Empty(t *testing.T) {
	_, err := AngularCenter(nil)
	assert.ErrorIs(t, err, ErrNoPoints)
}

func TestNormalizeAngle(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeAngle(360))
	assert.Equal(t, 350.0, NormalizeAngle(-10))
	assert.Equal(t, 10.0, NormalizeAngle(730))
	got := NormalizeAngle(-1e-15)
	assert.True(t, got >= 0 && got < 360, "got %v", got)
}

func TestAngleDiff_ShortestArc(t *testing.T) {
	assert.InDelta(t, 20, AngleDiff(10, 350), 1e-9)
	assert.InDelta(t, -20, AngleDiff(350, 10), 1e-9)
	assert.InDelta(t, 180, AngleDiff(0, 180), 1e-9)
	assert.InDelta(t, 180, AngleDiff(180, 0), 1e-9)
	assert.InDelta(t, 0, AngleDiff(359.999, 359.999), 1e-9)
}

func TestRecenter_Range(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		a := rng.Float64() * 360
		c := rng.Float64() * 360
		got := Recenter([]Sample{{Angle: a, Distance: 1}}, c)[0].Angle
		if got <= -180 || got > 180 {
			t.Fatalf("Recenter(%v, %v) = %v, outside (-180,180]", a, c, got)
		}
	}
	// Boundary angles.
	for _, c := range []float64{0, 90, 180, 270, 359.5} {
		got := Recenter([]Sample{{Angle: NormalizeAngle(c + 180), Distance: 1}}, c)[0].Angle
		assert.InDelta(t, 180, got, 1e-9, "center %v", c)
	}
}

func TestRecenter_CenterMapsToZero(t *testing.T) {
	for _, c := range []float64{0, 0.5, 45, 179.9, 180, 300, 359.99} {
		got := Recenter([]Sample{{Angle: c, Distance: 42}}, c)
		assert.Equal(t, 0.0, got[0].Angle, "center %v", c)
		assert.Equal(t, 42.0, got[0].Distance)
	}
}

func TestRecenter_DoesNotMutateInput(t *testing.T) {
	in := []Sample{{Angle: 10, Distance: 1}}
	_ = Recenter(in, 5)
	assert.Equal(t, 10.0, in[0].Angle)
}

func TestToPlanar_RoundTripBearing(t *testing.T) {
	for a := 0.0; a < 360; a += 7.5 {
		p := ToPlanar(Sample{Angle: a, Distance: 2000})
		back := NormalizeAngle(math.Atan2(p.Y, p.X) * 180 / math.Pi)
		assert.InDelta(t, 0, AngleDiff(back, a), 1e-9)
	}
}
