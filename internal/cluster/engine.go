// Package cluster groups the foreground samples of a scan into spatial
// clusters using DBSCAN over per-axis standardised planar coordinates.
package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/rania-fds/fds/internal/geometry"
)

const (
	// DefaultEps is the neighbourhood radius in standardised units.
	DefaultEps = 0.5
	// DefaultMinPts is the neighbourhood size, the point itself included,
	// that makes a core point.
	DefaultMinPts = 6
)

// Params holds the DBSCAN tunables.
type Params struct {
	Eps    float64
	MinPts int
}

// DefaultParams returns the low-power pass defaults.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, MinPts: DefaultMinPts}
}

// Validate rejects parameters DBSCAN cannot run with.
func (p Params) Validate() error {
	if p.Eps <= 0 {
		return fmt.Errorf("cluster: eps must be positive, got %v", p.Eps)
	}
	if p.MinPts < 1 {
		return fmt.Errorf("cluster: min_pts must be at least 1, got %d", p.MinPts)
	}
	return nil
}

// Cluster is one group of samples believed to come from a single object.
// Samples keep their original scan order.
type Cluster struct {
	Label   int
	Samples []geometry.Sample
	// Points holds the planar (unnormalised) position of each sample.
	Points []geometry.Point
	// Center is the bearing of the cluster's mean planar position. It is
	// only populated by Engine.ClusterWithCenters.
	Center    float64
	HasCenter bool
}

// Len returns the number of samples in the cluster.
func (c Cluster) Len() int { return len(c.Samples) }

// Result is the outcome of one clustering pass.
type Result struct {
	Clusters []Cluster
	Noise    []geometry.Sample
	// Labels holds the per-input-sample label, Noise for unclustered.
	Labels []int
}

// Engine runs clustering passes. It holds no state between calls beyond its
// parameters, so one Engine may serve a single consumer goroutine for the
// life of a room.
type Engine struct {
	params Params
}

// NewEngine returns an Engine using params.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params}, nil
}

// NewDefaultEngine returns an Engine with DefaultParams.
func NewDefaultEngine() *Engine {
	return &Engine{params: DefaultParams()}
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Cluster partitions samples into clusters and noise. It is the basic pass
// used in low-power mode: cluster centres are not computed.
func (e *Engine) Cluster(samples []geometry.Sample) Result {
	return e.run(samples, false)
}

// ClusterWithCenters is the advanced pass used in high-power mode. Each
// returned cluster carries the angular centre of its own planar points.
func (e *Engine) ClusterWithCenters(samples []geometry.Sample) Result {
	return e.run(samples, true)
}

func (e *Engine) run(samples []geometry.Sample, centers bool) Result {
	if len(samples) == 0 {
		return Result{}
	}

	planar := geometry.PolarToPlanar(samples)
	labels := dbscan(Standardize(planar), e.params.Eps, e.params.MinPts)

	maxLabel := Noise
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	groups := make([]Cluster, maxLabel+1)
	var noise []geometry.Sample
	for i, l := range labels {
		if l == Noise {
			noise = append(noise, samples[i])
			continue
		}
		groups[l].Label = l
		groups[l].Samples = append(groups[l].Samples, samples[i])
		groups[l].Points = append(groups[l].Points, planar[i])
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, c := range groups {
		if c.Len() == 0 {
			continue
		}
		if centers {
			ctr, err := geometry.AngularCenter(c.Points)
			if err != nil {
				continue
			}
			c.Center = ctr
			c.HasCenter = true
		}
		clusters = append(clusters, c)
	}

	return Result{Clusters: clusters, Noise: noise, Labels: labels}
}

// Standardize rescales each axis of points to zero mean and unit variance
// using only the statistics of this batch. An axis with zero spread is
// centred but not scaled.
func Standardize(points []geometry.Point) []geometry.Point {
	if len(points) == 0 {
		return nil
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	mx, sx := stat.PopMeanStdDev(xs, nil)
	my, sy := stat.PopMeanStdDev(ys, nil)
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	out := make([]geometry.Point, len(points))
	for i, p := range points {
		out[i] = geometry.Point{X: (p.X - mx) / sx, Y: (p.Y - my) / sy}
	}
	return out
}

// LabelPlanar runs DBSCAN directly on planar points, without
// standardisation, so eps is in the units of the points. The calibration
// procedure uses it to drop stray returns from merged background scans.
func LabelPlanar(points []geometry.Point, params Params) ([]int, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return dbscan(points, params.Eps, params.MinPts), nil
}
