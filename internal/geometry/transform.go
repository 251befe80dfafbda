// Package geometry converts between the polar samples a 2D LiDAR produces and
// planar coordinates, and provides the angle arithmetic used when clusters
// are recentred for classification. All angles are in degrees.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrNoPoints is returned when a centre is requested for an empty point set.
var ErrNoPoints = errors.New("geometry: no points")

// Sample is one LiDAR return: an angle in [0,360) and a distance in
// millimetres.
type Sample struct {
	Angle    float64 `json:"angle"`
	Distance float64 `json:"distance"`
}

// Point is a planar position in the sensor frame, in millimetres.
type Point struct {
	X, Y float64
}

// ToPlanar converts a single sample to planar coordinates.
func ToPlanar(s Sample) Point {
	rad := s.Angle * math.Pi / 180.0
	return Point{
		X: s.Distance * math.Cos(rad),
		Y: s.Distance * math.Sin(rad),
	}
}

// PolarToPlanar converts samples to planar points, preserving order.
func PolarToPlanar(samples []Sample) []Point {
	if len(samples) == 0 {
		return nil
	}
	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = ToPlanar(s)
	}
	return points
}

// AngularCenter returns the bearing of the mean position of points,
// normalised to [0,360). The bearing uses the same convention as
// PolarToPlanar, so a cluster sampled around 90° has a centre near 90°.
func AngularCenter(points []Point) (float64, error) {
	if len(points) == 0 {
		return 0, ErrNoPoints
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	meanX := stat.Mean(xs, nil)
	meanY := stat.Mean(ys, nil)
	return NormalizeAngle(math.Atan2(meanY, meanX) * 180.0 / math.Pi), nil
}

// NormalizeAngle folds a into [0,360).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	// Mod of a tiny negative value can round up to exactly 360.
	if a >= 360 {
		a -= 360
	}
	return a
}

// AngleDiff returns the signed shortest arc from b to a, in (-180,180].
func AngleDiff(a, b float64) float64 {
	d := NormalizeAngle(a - b)
	if d > 180 {
		d -= 360
	}
	return d
}

// Recenter returns a copy of samples with every angle replaced by its
// shortest-arc offset from center, so the result lies in (-180,180].
// Distances are unchanged.
func Recenter(samples []Sample, center float64) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = Sample{Angle: AngleDiff(s.Angle, center), Distance: s.Distance}
	}
	return out
}
