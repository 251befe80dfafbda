// Command fds-calibrate captures scans of an empty room and writes a bounds
// calibration file for one configured sensor.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rania-fds/fds/internal/config"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/timeutil"
)

var (
	configPath = flag.String("config", "fds.yaml", "Path to the YAML configuration")
	sensorID   = flag.Int("sensor", 0, "ID of the sensor to calibrate")
	outPath    = flag.String("out", "", "Output file (defaults to the sensor's calibration_path)")
	scans      = flag.Int("scans", 20, "Number of scans to merge")
	sectors    = flag.Int("sectors", 36, "Number of angular sectors")
	margin     = flag.Float64("margin", 50, "Distance subtracted from each sector minimum (mm)")
	maxRange   = flag.Float64("max-range", 12000, "Bound for sectors that saw no background (mm)")
	timeout    = flag.Duration("timeout", time.Minute, "Give up after this long")
	verbose    = flag.Bool("v", false, "Debug logging")
)

func main() {
	flag.Parse()
	level := monitoring.LevelInfo
	if *verbose {
		level = monitoring.LevelDebug
	}
	log := monitoring.New(os.Stderr, level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	sc, ok := cfg.Sensor(*sensorID)
	if !ok {
		log.Errorf("sensor %d is not configured", *sensorID)
		os.Exit(1)
	}
	path := *outPath
	if path == "" {
		path = sc.CalibrationPath
	}
	if path == "" {
		log.Errorf("sensor %d has no calibration_path; pass -out", sc.ID)
		os.Exit(1)
	}

	opts := sensor.DefaultCalibrateOptions()
	opts.Scans = *scans
	opts.Sectors = *sectors
	opts.Margin = *margin
	opts.MaxRange = *maxRange

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	s, err := openUncalibrated(sc, sensor.DefaultRegistry(nil, timeutil.RealClock{}))
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	log.Infof("calibrating sensor %d from %d scans; keep the room empty", sc.ID, opts.Scans)
	cal, err := calibrate(ctx, s, opts, path)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	for _, b := range cal.Bounds {
		log.Debugf("arc to %6.1f: %.0f mm", b.ArcEnd, b.Distance)
	}
	log.Infof("wrote %d sectors to %s", len(cal.Bounds), path)
}

// openUncalibrated opens the sensor without loading its calibration, which
// may not exist yet.
func openUncalibrated(sc config.SensorConfig, reg *sensor.Registry) (sensor.Sensor, error) {
	info := sc.Info()
	info.CalibrationType = sensor.CalibrationNone
	info.CalibrationPath = ""
	s, err := reg.Open(info)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor %d: %w", sc.ID, err)
	}
	return s, nil
}

// calibrate runs the capture on s and saves the result to path.
func calibrate(ctx context.Context, s sensor.Sensor, opts sensor.CalibrateOptions, path string) (*sensor.BoundsCalibration, error) {
	if err := s.StartScanning(ctx); err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}
	defer s.StopScanning()

	cal, err := sensor.Calibrate(ctx, s, opts)
	if err != nil {
		return nil, fmt.Errorf("calibration failed: %w", err)
	}
	if err := sensor.SaveCalibration(path, cal); err != nil {
		return nil, fmt.Errorf("failed to save calibration: %w", err)
	}
	return cal, nil
}
