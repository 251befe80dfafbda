package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rania-fds/fds/internal/cluster"
	"github.com/rania-fds/fds/internal/geometry"
)

// CalibrateOptions tunes the bounds calibration procedure.
type CalibrateOptions struct {
	Scans   int
	Sectors int
	// Eps and MinPts drive the noise removal pass over the merged scans,
	// in millimetres.
	Eps    float64
	MinPts int
	// Margin is subtracted from each sector minimum so the background
	// itself is culled reliably.
	Margin float64
	// MaxRange bounds sectors that saw no background at all.
	MaxRange float64
	// Backoff is the first delay after a failed read. It doubles up to
	// maxCalibrateBackoff and resets after a good scan.
	Backoff time.Duration
}

const maxCalibrateBackoff = 5 * time.Second

// DefaultCalibrateOptions merges 20 scans into 36 sectors.
func DefaultCalibrateOptions() CalibrateOptions {
	return CalibrateOptions{
		Scans:    20,
		Sectors:  36,
		Eps:      50,
		MinPts:   5,
		Margin:   50,
		MaxRange: 12000,
		Backoff:  100 * time.Millisecond,
	}
}

// Calibrate captures opts.Scans scans of an empty room and derives a bounds
// calibration. The sensor must already be scanning, otherwise
// ErrNotScanning is returned. Other read errors are retried with backoff;
// the context bounds the whole capture.
func Calibrate(ctx context.Context, s Sensor, opts CalibrateOptions) (*BoundsCalibration, error) {
	if opts.Scans < 1 || opts.Sectors < 1 {
		return nil, fmt.Errorf("calibrate: need at least one scan and one sector")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultCalibrateOptions().Backoff
	}
	backoff := opts.Backoff
	var merged []geometry.Sample
	for got := 0; got < opts.Scans; {
		scan, err := s.GetRawScan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrNotScanning) {
				return nil, fmt.Errorf("calibrate: %w", err)
			}
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			backoff = min(backoff*2, maxCalibrateBackoff)
			continue
		}
		backoff = opts.Backoff
		merged = append(merged, scan...)
		got++
	}
	return BoundsFromSamples(merged, opts)
}

// BoundsFromSamples computes per-sector minimum distances over samples
// after dropping DBSCAN noise.
func BoundsFromSamples(samples []geometry.Sample, opts CalibrateOptions) (*BoundsCalibration, error) {
	sorted := append([]geometry.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Angle < sorted[j].Angle })

	labels, err := cluster.LabelPlanar(geometry.PolarToPlanar(sorted), cluster.Params{Eps: opts.Eps, MinPts: opts.MinPts})
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}

	span := 360 / float64(opts.Sectors)
	bounds := make([]Bound, opts.Sectors)
	mins := make([]float64, opts.Sectors)
	for i := range bounds {
		bounds[i].ArcEnd = span * float64(i+1)
		mins[i] = math.Inf(1)
	}
	bounds[len(bounds)-1].ArcEnd = 360

	for i, smp := range sorted {
		if labels[i] == cluster.Noise {
			continue
		}
		sec := sectorOf(bounds, smp.Angle)
		mins[sec] = math.Min(mins[sec], smp.Distance)
	}

	for i, m := range mins {
		bounds[i].Distance = opts.MaxRange
		if !math.IsInf(m, 1) {
			bounds[i].Distance = math.Max(0, m-opts.Margin)
		}
	}
	return NewBoundsCalibration(bounds)
}

// sectorOf returns the bound whose interval (previous ArcEnd, ArcEnd]
// holds angle, the same assignment Filter makes. Angles past the last
// bound belong to it.
func sectorOf(bounds []Bound, angle float64) int {
	i := sort.Search(len(bounds), func(i int) bool { return angle <= bounds[i].ArcEnd })
	if i == len(bounds) {
		i = len(bounds) - 1
	}
	return i
}
