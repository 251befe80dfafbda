package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rania-fds/fds/internal/geometry"
	"github.com/rania-fds/fds/internal/timeutil"
)

func ring(n int, dist float64) []geometry.Sample {
	out := make([]geometry.Sample, n)
	for i := range out {
		out[i] = geometry.Sample{Angle: 360 * float64(i) / float64(n), Distance: dist}
	}
	return out
}

func TestBoundsFilter_EmptyRoomCullsEverything(t *testing.T) {
	// Background at 2000 mm behind a bound drawn just in front of it.
	cal := UniformBounds(36, 1800)
	fg, culled := cal.Filter(ring(360, 2000))
	assert.Empty(t, fg)
	assert.Len(t, culled, 360)
}

func TestBoundsFilter_KeepsSamplesWithinBound(t *testing.T) {
	cal := UniformBounds(36, 2500)
	fg, culled := cal.Filter(ring(360, 2000))
	assert.Len(t, fg, 360)
	assert.Empty(t, culled)
}

func TestBoundsFilter_PerArcBounds(t *testing.T) {
	cal, err := NewBoundsCalibration([]Bound{
		{ArcEnd: 90, Distance: 1000},
		{ArcEnd: 180, Distance: 3000},
		{ArcEnd: 360, Distance: 500},
	})
	require.NoError(t, err)

	scan := []geometry.Sample{
		{Angle: 10, Distance: 900},   // fg
		{Angle: 90, Distance: 1100},  // culled, interval end is inclusive
		{Angle: 95, Distance: 2000},  // fg
		{Angle: 200, Distance: 600},  // culled
		{Angle: 359, Distance: 100},  // fg
		{Angle: 5, Distance: 1200},   // wrapped to the next revolution: culled
		{Angle: 100, Distance: 2900}, // fg
	}
	fg, culled := cal.Filter(scan)
	assert.Equal(t, []geometry.Sample{scan[0], scan[2], scan[4], scan[6]}, fg)
	assert.Equal(t, []geometry.Sample{scan[1], scan[3], scan[5]}, culled)
}

func TestFilter_NilCalibrationPassesThrough(t *testing.T) {
	scan := ring(8, 100)
	fg, culled := Filter(scan, nil)
	assert.Equal(t, scan, fg)
	assert.Empty(t, culled)
}

func TestBoundsCalibration_Validate(t *testing.T) {
	cases := []struct {
		name   string
		bounds []Bound
	}{
		{"empty", nil},
		{"not increasing", []Bound{{180, 1}, {180, 1}, {360, 1}}},
		{"short of 360", []Bound{{180, 1}, {350, 1}}},
		{"past 360", []Bound{{180, 1}, {361, 1}}},
		{"negative distance", []Bound{{360, -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBoundsCalibration(tc.bounds)
			assert.ErrorIs(t, err, ErrInvalidCalibration)
		})
	}
}

func TestCalibration_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lidar0.json")
	want := UniformBounds(4, 1234)
	require.NoError(t, SaveCalibration(path, want))

	got, err := LoadCalibration(path, CalibrationBounds)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("calibration mismatch (-want +got):\n%s", diff)
	}

	_, err = LoadCalibration(path, "polygon")
	assert.ErrorIs(t, err, ErrCalibrationType)

	_, err = LoadCalibration(filepath.Join(dir, "lidar0.pkl"), CalibrationBounds)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"bounds","bounds":[[90,1]]}`), 0o644))
	_, err = LoadCalibration(bad, CalibrationBounds)
	assert.ErrorIs(t, err, ErrInvalidCalibration)
}

func TestRegistry_Open(t *testing.T) {
	dir := t.TempDir()
	calPath := filepath.Join(dir, "cal.json")
	require.NoError(t, SaveCalibration(calPath, UniformBounds(36, 1800)))

	reg := DefaultRegistry(func(string, PortOptions) (Port, error) {
		return newFakePort(nil), nil
	}, timeutil.RealClock{})
	assert.Equal(t, []string{"lidar/rplidar", "lidar/synthetic"}, reg.Supported())

	s, err := reg.Open(Info{ID: 4, Class: ClassLidar, Device: DeviceRPLidar,
		CalibrationType: CalibrationBounds, CalibrationPath: calPath})
	require.NoError(t, err)
	assert.Equal(t, 4, s.ID())
	require.IsType(t, &RPLidar{}, s)
	assert.Equal(t, CalibrationBounds, s.Calibration().Type())

	s, err = reg.Open(Info{ID: 5, Class: ClassLidar, Device: DeviceSynthetic})
	require.NoError(t, err)
	assert.Nil(t, s.Calibration())

	_, err = reg.Open(Info{ID: 6, Class: ClassLidar, Device: "velodyne"})
	assert.ErrorIs(t, err, ErrUnknownSensorType)

	_, err = reg.Open(Info{ID: 7, Class: "radar", Device: DeviceRPLidar})
	assert.ErrorIs(t, err, ErrUnknownSensorType)

	_, err = reg.Open(Info{ID: 8, Class: ClassLidar, Device: DeviceRPLidar,
		CalibrationType: "polygon", CalibrationPath: calPath})
	assert.ErrorIs(t, err, ErrCalibrationType)

	_, err = reg.Open(Info{ID: 9, Class: ClassLidar, Device: DeviceRPLidar,
		CalibrationType: CalibrationBounds})
	assert.ErrorIs(t, err, ErrInvalidCalibration)
}

func TestRender(t *testing.T) {
	scene := Scene{
		Background: 2000,
		Resolution: 1,
		Objects:    []Object{{Angle: 90, Span: 10, Distance: 500}},
	}
	scan := Render(scene)
	require.Len(t, scan, 360)
	near := 0
	for _, s := range scan {
		if s.Distance == 500 {
			near++
			assert.InDelta(t, 90, s.Angle, 5)
		}
	}
	assert.Equal(t, 11, near)

	// Open space: only the object returns.
	scene.Background = 0
	assert.Len(t, Render(scene), 11)
}

func TestSynthetic_Scanning(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewSynthetic(1, Scene{Background: 1000, Resolution: 10, Interval: time.Second}, nil, clock)
	ctx := context.Background()

	_, err := s.GetRawScan(ctx)
	assert.ErrorIs(t, err, ErrNotScanning)

	require.NoError(t, s.StartScanning(ctx))
	done := make(chan []geometry.Sample)
	go func() {
		scan, _ := s.GetRawScan(ctx)
		done <- scan
	}()
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	scan := <-done
	assert.Len(t, scan, 36)
	assert.Equal(t, uint64(1), s.Scans())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.GetRawScan(cctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrate_DerivesSectorMinimums(t *testing.T) {
	scene := Scene{Background: 3000, Resolution: 0.5}
	s := NewSynthetic(1, scene, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.StartScanning(ctx))

	opts := DefaultCalibrateOptions()
	opts.Scans = 3
	cal, err := Calibrate(ctx, s, opts)
	require.NoError(t, err)
	require.Len(t, cal.Bounds, 36)
	for _, b := range cal.Bounds {
		assert.Equal(t, 2950.0, b.Distance)
	}
	assert.Equal(t, 360.0, cal.Bounds[35].ArcEnd)

	// The calibrated empty room filters to nothing; a person in it does not.
	fg, _ := cal.Filter(Render(scene))
	assert.Empty(t, fg)
	s.SetObjects(Object{Angle: 45, Span: 10, Distance: 1200})
	scan, err := s.GetRawScan(ctx)
	require.NoError(t, err)
	fg, _ = cal.Filter(scan)
	assert.Len(t, fg, 21)
}

func TestBoundsFromSamples_DropsNoiseAndFillsEmptySectors(t *testing.T) {
	var samples []geometry.Sample
	// Dense wall over the first half only.
	for a := 0.0; a < 180; a += 0.5 {
		samples = append(samples, geometry.Sample{Angle: a, Distance: 2000})
	}
	// A single stray return in front of the wall.
	samples = append(samples, geometry.Sample{Angle: 45.25, Distance: 300})

	opts := DefaultCalibrateOptions()
	opts.Sectors = 4
	cal, err := BoundsFromSamples(samples, opts)
	require.NoError(t, err)
	assert.Equal(t, []Bound{
		{ArcEnd: 90, Distance: 1950},
		{ArcEnd: 180, Distance: 1950},
		{ArcEnd: 270, Distance: opts.MaxRange},
		{ArcEnd: 360, Distance: opts.MaxRange},
	}, cal.Bounds)
}

func TestBoundsFromSamples_EdgeSamplesMatchFilter(t *testing.T) {
	// The wall steps from 3000 mm to 1000 mm exactly on the 10 degree sector
	// edge, where a Q6 angle can land.
	var room []geometry.Sample
	for a := 0.0; a < 20; a += 0.25 {
		d := 3000.0
		if a >= 10 {
			d = 1000
		}
		room = append(room, geometry.Sample{Angle: a, Distance: d})
	}
	merged := append(append([]geometry.Sample(nil), room...), room...)

	opts := DefaultCalibrateOptions()
	opts.Eps = 200
	cal, err := BoundsFromSamples(merged, opts)
	require.NoError(t, err)
	assert.Equal(t, Bound{ArcEnd: 10, Distance: 950}, cal.Bounds[0])
	assert.Equal(t, Bound{ArcEnd: 20, Distance: 950}, cal.Bounds[1])

	fg, culled := cal.Filter(room)
	assert.Empty(t, fg, "a calibrated empty room has no foreground")
	assert.Len(t, culled, len(room))
}

func TestSectorOf(t *testing.T) {
	bounds := UniformBounds(4, 1000).Bounds
	for _, tc := range []struct {
		angle float64
		want  int
	}{
		{0, 0}, {45, 0}, {90, 0}, {90.015625, 1}, {180, 1}, {270, 2}, {359.9, 3}, {360, 3}, {361, 3},
	} {
		assert.Equal(t, tc.want, sectorOf(bounds, tc.angle), "angle %v", tc.angle)
	}
}

// flakySensor fails its first reads with ErrTimeout.
type flakySensor struct {
	*Synthetic
	failures int
	calls    int
}

func (f *flakySensor) GetRawScan(ctx context.Context) ([]geometry.Sample, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, ErrTimeout
	}
	return f.Synthetic.GetRawScan(ctx)
}

func TestCalibrate_RetriesTransientErrors(t *testing.T) {
	s := &flakySensor{Synthetic: NewSynthetic(1, Scene{Background: 3000}, nil, nil), failures: 3}
	ctx := context.Background()
	require.NoError(t, s.StartScanning(ctx))

	opts := DefaultCalibrateOptions()
	opts.Scans = 2
	opts.Backoff = time.Millisecond
	cal, err := Calibrate(ctx, s, opts)
	require.NoError(t, err)
	assert.Len(t, cal.Bounds, opts.Sectors)
	assert.Equal(t, 5, s.calls)
}

func TestCalibrate_NotScanningFailsFast(t *testing.T) {
	s := NewSynthetic(1, Scene{Background: 3000}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := Calibrate(ctx, s, DefaultCalibrateOptions())
	assert.ErrorIs(t, err, ErrNotScanning)
	assert.Less(t, time.Since(start), time.Second)
}
