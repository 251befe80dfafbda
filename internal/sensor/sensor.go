// Package sensor defines the ranging-sensor capability the room pipeline
// depends on, the calibration that separates background from foreground,
// and the concrete devices selected through a Registry.
package sensor

import (
	"context"
	"errors"

	"github.com/rania-fds/fds/internal/geometry"
)

var (
	// ErrUnknownSensorType is returned when no factory is registered for a
	// (class, device) pair.
	ErrUnknownSensorType = errors.New("sensor: unknown sensor class or device type")
	// ErrCalibrationType is returned when a calibration does not match the
	// type the sensor was configured with or the device supports.
	ErrCalibrationType = errors.New("sensor: calibration type mismatch")
	// ErrInvalidCalibration is returned for malformed calibration data.
	ErrInvalidCalibration = errors.New("sensor: invalid calibration")
	// ErrTimeout is returned when a device does not answer in time.
	ErrTimeout = errors.New("sensor: timeout")
	// ErrBadPacket is returned when a device sends data that cannot be
	// decoded.
	ErrBadPacket = errors.New("sensor: bad packet")
	// ErrNotScanning is returned by GetRawScan before StartScanning.
	ErrNotScanning = errors.New("sensor: not scanning")
)

// Class is the broad kind of sensor.
type Class string

const ClassLidar Class = "lidar"

// Device is the concrete device model within a class.
type Device string

const (
	DeviceRPLidar   Device = "rplidar"
	DeviceSynthetic Device = "synthetic"
)

// Sensor is the capability a room needs from a ranging device. Sensors are
// driven by a single producer goroutine; implementations need not be safe
// for concurrent GetRawScan calls.
type Sensor interface {
	ID() int
	StartScanning(ctx context.Context) error
	StopScanning() error
	// GetRawScan blocks until one full revolution is available and returns
	// it in increasing angle order. Transient failures return ErrTimeout or
	// ErrBadPacket and the caller may simply poll again.
	GetRawScan(ctx context.Context) ([]geometry.Sample, error)
	Calibration() Calibration
}
