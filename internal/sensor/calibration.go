package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rania-fds/fds/internal/geometry"
)

// CalibrationType names a calibration scheme in configuration and files.
type CalibrationType string

const (
	CalibrationNone   CalibrationType = ""
	CalibrationBounds CalibrationType = "bounds"
)

// Calibration separates foreground samples from known background. A
// Calibration is immutable once loaded and safe for concurrent use.
type Calibration interface {
	Type() CalibrationType
	Filter(scan []geometry.Sample) (foreground, culled []geometry.Sample)
}

// Filter applies cal to scan. A nil calibration passes every sample
// through as foreground.
func Filter(scan []geometry.Sample, cal Calibration) (foreground, culled []geometry.Sample) {
	if cal == nil {
		return scan, nil
	}
	return cal.Filter(scan)
}

// Bound is one arc interval of a BoundsCalibration. The interval runs from
// the previous bound's ArcEnd (or 0) up to and including ArcEnd.
type Bound struct {
	ArcEnd   float64 `json:"arc_end"`
	Distance float64 `json:"distance"`
}

// BoundsCalibration culls any sample farther than the distance bound of
// its arc interval. Bounds are in increasing ArcEnd order and the last one
// ends at 360.
type BoundsCalibration struct {
	Bounds []Bound
}

// NewBoundsCalibration validates bounds and returns the calibration.
func NewBoundsCalibration(bounds []Bound) (*BoundsCalibration, error) {
	c := &BoundsCalibration{Bounds: append([]Bound(nil), bounds...)}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// UniformBounds returns a calibration of n equal sectors all bounded at
// distance.
func UniformBounds(n int, distance float64) *BoundsCalibration {
	if n < 1 {
		n = 1
	}
	bounds := make([]Bound, n)
	for i := range bounds {
		bounds[i] = Bound{ArcEnd: 360 * float64(i+1) / float64(n), Distance: distance}
	}
	return &BoundsCalibration{Bounds: bounds}
}

func (c *BoundsCalibration) Type() CalibrationType { return CalibrationBounds }

// Validate checks the bounds cover [0,360] in strictly increasing order.
func (c *BoundsCalibration) Validate() error {
	if len(c.Bounds) == 0 {
		return fmt.Errorf("%w: no bounds", ErrInvalidCalibration)
	}
	prev := 0.0
	for i, b := range c.Bounds {
		if math.IsNaN(b.ArcEnd) || math.IsNaN(b.Distance) {
			return fmt.Errorf("%w: bound %d is NaN", ErrInvalidCalibration, i)
		}
		if b.ArcEnd <= prev || b.ArcEnd > 360 {
			return fmt.Errorf("%w: bound %d ends at %v after %v", ErrInvalidCalibration, i, b.ArcEnd, prev)
		}
		if b.Distance < 0 {
			return fmt.Errorf("%w: bound %d has negative distance", ErrInvalidCalibration, i)
		}
		prev = b.ArcEnd
	}
	if prev != 360 {
		return fmt.Errorf("%w: bounds end at %v, want 360", ErrInvalidCalibration, prev)
	}
	return nil
}

// Filter walks the bounds in step with the samples. Samples are expected in
// increasing angle; when the angle goes backwards the walk restarts from
// the first bound, so a scan that wraps past 360 is still handled.
func (c *BoundsCalibration) Filter(scan []geometry.Sample) (foreground, culled []geometry.Sample) {
	foreground = make([]geometry.Sample, 0, len(scan))
	last := len(c.Bounds) - 1
	i := 0
	prevAngle := math.Inf(-1)
	for _, s := range scan {
		if s.Angle < prevAngle {
			i = 0
		}
		prevAngle = s.Angle
		for i < last && s.Angle > c.Bounds[i].ArcEnd {
			i++
		}
		if s.Distance > c.Bounds[i].Distance {
			culled = append(culled, s)
		} else {
			foreground = append(foreground, s)
		}
	}
	return foreground, culled
}

// maxCalibrationFileSize bounds what LoadCalibration will read.
const maxCalibrationFileSize = 1 << 20

type calibrationFile struct {
	Type   CalibrationType `json:"type"`
	Bounds [][2]float64    `json:"bounds,omitempty"`
}

// LoadCalibration reads a calibration file and checks it is of the expected
// type.
func LoadCalibration(path string, want CalibrationType) (Calibration, error) {
	clean := filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(clean)); ext != ".json" {
		return nil, fmt.Errorf("calibration file must be .json, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxCalibrationFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return DecodeCalibration(data, want)
}

// DecodeCalibration parses calibration JSON of the expected type.
func DecodeCalibration(data []byte, want CalibrationType) (Calibration, error) {
	var f calibrationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalibration, err)
	}
	if f.Type != want {
		return nil, fmt.Errorf("%w: file holds %q, expected %q", ErrCalibrationType, f.Type, want)
	}
	switch f.Type {
	case CalibrationBounds:
		bounds := make([]Bound, len(f.Bounds))
		for i, b := range f.Bounds {
			bounds[i] = Bound{ArcEnd: b[0], Distance: b[1]}
		}
		return NewBoundsCalibration(bounds)
	}
	return nil, fmt.Errorf("%w: unsupported type %q", ErrCalibrationType, f.Type)
}

// SaveCalibration writes cal as JSON.
func SaveCalibration(path string, cal Calibration) error {
	f := calibrationFile{Type: cal.Type()}
	bc, ok := cal.(*BoundsCalibration)
	if !ok {
		return fmt.Errorf("%w: cannot save %T", ErrCalibrationType, cal)
	}
	for _, b := range bc.Bounds {
		f.Bounds = append(f.Bounds, [2]float64{b.ArcEnd, b.Distance})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to replace calibration: %w", err), os.Remove(tmp))
	}
	return nil
}
