package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rania-fds/fds/internal/config"
	"github.com/rania-fds/fds/internal/sensor"
)

func TestCalibrate_WritesLoadableFile(t *testing.T) {
	s := sensor.NewSynthetic(2, sensor.Scene{Background: 2500, Resolution: 1}, nil, nil)
	path := filepath.Join(t.TempDir(), "cal.json")

	opts := sensor.DefaultCalibrateOptions()
	opts.Scans = 2
	cal, err := calibrate(context.Background(), s, opts, path)
	require.NoError(t, err)
	require.Len(t, cal.Bounds, opts.Sectors)

	loaded, err := sensor.LoadCalibration(path, sensor.CalibrationBounds)
	require.NoError(t, err)
	assert.Equal(t, cal, loaded)
}

func TestCalibrate_ContextCancelled(t *testing.T) {
	s := sensor.NewSynthetic(2, sensor.DefaultScene(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := calibrate(ctx, s, sensor.DefaultCalibrateOptions(), filepath.Join(t.TempDir(), "cal.json"))
	assert.Error(t, err)
}

func TestOpenUncalibrated_IgnoresMissingFile(t *testing.T) {
	sc := config.SensorConfig{
		ID:              4,
		Class:           sensor.ClassLidar,
		Device:          sensor.DeviceSynthetic,
		CalibrationType: sensor.CalibrationBounds,
		CalibrationPath: filepath.Join(t.TempDir(), "missing.json"),
	}
	s, err := openUncalibrated(sc, sensor.DefaultRegistry(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 4, s.ID())
	assert.Nil(t, s.Calibration())
}
