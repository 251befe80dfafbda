package sensor

import (
	"fmt"
	"sort"

	"github.com/rania-fds/fds/internal/timeutil"
)

// Info describes one configured sensor.
type Info struct {
	ID              int
	Path            string
	Class           Class
	Device          Device
	CalibrationType CalibrationType
	CalibrationPath string
	Port            PortOptions
	MinScanLen      int
	// Scene configures DeviceSynthetic sensors.
	Scene *Scene
}

// Factory builds a sensor from its description and loaded calibration.
type Factory func(info Info, cal Calibration) (Sensor, error)

type registryKey struct {
	class  Class
	device Device
}

type registryEntry struct {
	factory      Factory
	calibrations []CalibrationType
}

// Registry is the dispatch table from (class, device) to a factory, along
// with the calibration types each device accepts.
type Registry struct {
	entries map[registryKey]registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]registryEntry)}
}

// Register adds a factory. Registering the same pair twice replaces it.
func (r *Registry) Register(class Class, device Device, f Factory, calibrations ...CalibrationType) {
	r.entries[registryKey{class, device}] = registryEntry{factory: f, calibrations: calibrations}
}

// Supported lists the registered (class, device) pairs as "class/device".
func (r *Registry) Supported() []string {
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, string(k.class)+"/"+string(k.device))
	}
	sort.Strings(out)
	return out
}

// Open loads the sensor's calibration, checks the device accepts it, and
// builds the sensor. All failures are fatal configuration errors.
func (r *Registry) Open(info Info) (Sensor, error) {
	entry, ok := r.entries[registryKey{info.Class, info.Device}]
	if !ok {
		return nil, fmt.Errorf("%w: sensor %d is %s/%s", ErrUnknownSensorType, info.ID, info.Class, info.Device)
	}

	var cal Calibration
	if info.CalibrationType != CalibrationNone {
		supported := false
		for _, t := range entry.calibrations {
			if t == info.CalibrationType {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("%w: %s/%s does not support %q calibration",
				ErrCalibrationType, info.Class, info.Device, info.CalibrationType)
		}
		if info.CalibrationPath == "" {
			return nil, fmt.Errorf("%w: sensor %d has no calibration path", ErrInvalidCalibration, info.ID)
		}
		loaded, err := LoadCalibration(info.CalibrationPath, info.CalibrationType)
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", info.ID, err)
		}
		cal = loaded
	}
	return entry.factory(info, cal)
}

// DefaultRegistry registers the RPLidar (opened with open) and synthetic
// LiDAR devices.
func DefaultRegistry(open Opener, clock timeutil.Clock) *Registry {
	if open == nil {
		open = OpenSerial
	}
	r := NewRegistry()
	r.Register(ClassLidar, DeviceRPLidar, func(info Info, cal Calibration) (Sensor, error) {
		port, err := open(info.Path, info.Port)
		if err != nil {
			return nil, err
		}
		return NewRPLidar(info.ID, port, cal, RPLidarOptions{MinScanLen: info.MinScanLen}), nil
	}, CalibrationBounds)
	r.Register(ClassLidar, DeviceSynthetic, func(info Info, cal Calibration) (Sensor, error) {
		scene := DefaultScene()
		if info.Scene != nil {
			scene = *info.Scene
		}
		return NewSynthetic(info.ID, scene, cal, clock), nil
	}, CalibrationBounds)
	return r
}
