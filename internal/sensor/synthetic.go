package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rania-fds/fds/internal/geometry"
	"github.com/rania-fds/fds/internal/timeutil"
)

// Object is a solid target in a synthetic scene, occupying Span degrees
// centred on Angle at a fixed Distance.
type Object struct {
	Angle    float64 `yaml:"angle" json:"angle"`
	Span     float64 `yaml:"span" json:"span"`
	Distance float64 `yaml:"distance" json:"distance"`
}

// Scene describes what a synthetic sensor sees.
type Scene struct {
	// Background is the wall distance in millimetres; zero means open space
	// with no background returns.
	Background float64 `yaml:"background" json:"background"`
	// Resolution is the angular step between samples in degrees.
	Resolution float64 `yaml:"resolution" json:"resolution"`
	// Interval is the time one revolution takes.
	Interval time.Duration `yaml:"interval" json:"interval"`
	Objects  []Object      `yaml:"objects" json:"objects"`
}

// DefaultScene is a 4 m room scanned at 1 degree, 10 revolutions a second.
func DefaultScene() Scene {
	return Scene{Background: 4000, Resolution: 1, Interval: 100 * time.Millisecond}
}

// Synthetic is a simulated LiDAR used for development and tests. The scene
// can be changed while scanning.
type Synthetic struct {
	id    int
	cal   Calibration
	clock timeutil.Clock

	mu       sync.Mutex
	scene    Scene
	scanning bool
	scans    uint64
}

// NewSynthetic returns a synthetic sensor showing scene.
func NewSynthetic(id int, scene Scene, cal Calibration, clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if scene.Resolution <= 0 {
		scene.Resolution = 1
	}
	return &Synthetic{id: id, cal: cal, clock: clock, scene: scene}
}

func (s *Synthetic) ID() int                  { return s.id }
func (s *Synthetic) Calibration() Calibration { return s.cal }

func (s *Synthetic) StartScanning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = true
	return ctx.Err()
}

func (s *Synthetic) StopScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
	return nil
}

// SetScene replaces the scene from the next revolution on.
func (s *Synthetic) SetScene(scene Scene) {
	if scene.Resolution <= 0 {
		scene.Resolution = 1
	}
	s.mu.Lock()
	s.scene = scene
	s.mu.Unlock()
}

// SetObjects replaces only the objects of the scene.
func (s *Synthetic) SetObjects(objs ...Object) {
	s.mu.Lock()
	s.scene.Objects = append([]Object(nil), objs...)
	s.mu.Unlock()
}

// Scans returns the number of revolutions produced.
func (s *Synthetic) Scans() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

// GetRawScan waits one revolution interval and renders the scene.
func (s *Synthetic) GetRawScan(ctx context.Context) ([]geometry.Sample, error) {
	s.mu.Lock()
	scanning, interval := s.scanning, s.scene.Interval
	s.mu.Unlock()
	if !scanning {
		return nil, ErrNotScanning
	}

	if interval > 0 {
		t := s.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C():
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return Render(s.scene), nil
}

// Render produces one revolution of scene in increasing angle order.
// Where objects overlap the nearest one wins.
func Render(scene Scene) []geometry.Sample {
	res := scene.Resolution
	if res <= 0 {
		res = 1
	}
	n := int(math.Round(360 / res))
	out := make([]geometry.Sample, 0, n)
	for i := 0; i < n; i++ {
		a := float64(i) * res
		d := scene.Background
		for _, o := range scene.Objects {
			if math.Abs(geometry.AngleDiff(a, o.Angle)) <= o.Span/2 {
				if d == 0 || o.Distance < d {
					d = o.Distance
				}
			}
		}
		if d > 0 {
			out = append(out, geometry.Sample{Angle: a, Distance: d})
		}
	}
	return out
}
