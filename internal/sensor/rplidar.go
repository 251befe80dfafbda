package sensor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rania-fds/fds/internal/geometry"
)

// RPLidar serial protocol constants (A-series, legacy scan mode).
const (
	rplSync      = 0xA5
	rplSyncReply = 0x5A
	rplCmdScan   = 0x20
	rplCmdStop   = 0x25
	rplNodeLen   = 5

	// DefaultMinScanLen is the number of measurements a revolution needs to
	// be reported as a scan.
	DefaultMinScanLen = 5
	// DefaultReadTimeout bounds each serial read.
	DefaultReadTimeout = time.Second

	// maxResyncBytes is how far the decoder slides looking for a valid node
	// before giving up on a read.
	maxResyncBytes = 4096
)

// rplScanDescriptor is the response descriptor to a scan request: 5-byte
// nodes, multiple-response mode, data type 0x81.
var rplScanDescriptor = []byte{rplSync, rplSyncReply, 0x05, 0x00, 0x00, 0x40, 0x81}

// RPLidarOptions tunes the driver.
type RPLidarOptions struct {
	MinScanLen  int
	ReadTimeout time.Duration
}

// RPLidar drives a Slamtec RPLidar over a serial port.
type RPLidar struct {
	id   int
	port Port
	cal  Calibration
	opts RPLidarOptions

	scanning bool
	// primed is set once a scan start flag has been seen, so the partial
	// revolution in flight when scanning began is never reported.
	primed  bool
	pending []geometry.Sample
	node    [rplNodeLen]byte
}

// NewRPLidar wraps an open port. The caller keeps ownership of port until
// Close.
func NewRPLidar(id int, port Port, cal Calibration, opts RPLidarOptions) *RPLidar {
	if opts.MinScanLen <= 0 {
		opts.MinScanLen = DefaultMinScanLen
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return &RPLidar{id: id, port: port, cal: cal, opts: opts}
}

func (r *RPLidar) ID() int                  { return r.id }
func (r *RPLidar) Calibration() Calibration { return r.cal }

// StartScanning spins the motor up and requests a continuous scan.
func (r *RPLidar) StartScanning(ctx context.Context) error {
	if r.scanning {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.port.SetReadTimeout(r.opts.ReadTimeout); err != nil {
		return fmt.Errorf("rplidar %d: set read timeout: %w", r.id, err)
	}
	// DTR low powers the motor on the A-series USB adapter.
	if err := r.port.SetDTR(false); err != nil {
		return fmt.Errorf("rplidar %d: start motor: %w", r.id, err)
	}
	if err := r.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("rplidar %d: reset input: %w", r.id, err)
	}
	if _, err := r.port.Write([]byte{rplSync, rplCmdScan}); err != nil {
		return fmt.Errorf("rplidar %d: scan request: %w", r.id, err)
	}

	desc := make([]byte, len(rplScanDescriptor))
	if err := r.readFull(desc); err != nil {
		return fmt.Errorf("rplidar %d: scan descriptor: %w", r.id, err)
	}
	if !bytes.Equal(desc, rplScanDescriptor) {
		return fmt.Errorf("rplidar %d: %w: unexpected descriptor % x", r.id, ErrBadPacket, desc)
	}

	r.scanning = true
	r.primed = false
	r.pending = nil
	return nil
}

// StopScanning stops the scan and the motor.
func (r *RPLidar) StopScanning() error {
	r.scanning = false
	r.primed = false
	r.pending = nil
	if _, err := r.port.Write([]byte{rplSync, rplCmdStop}); err != nil {
		return fmt.Errorf("rplidar %d: stop request: %w", r.id, err)
	}
	if err := r.port.SetDTR(true); err != nil {
		return fmt.Errorf("rplidar %d: stop motor: %w", r.id, err)
	}
	return nil
}

// Close stops scanning and releases the port.
func (r *RPLidar) Close() error {
	stopErr := r.StopScanning()
	if err := r.port.Close(); err != nil {
		return err
	}
	return stopErr
}

// GetRawScan reads measurement nodes until one revolution with more than
// MinScanLen valid measurements is complete. Zero-quality and zero-distance
// measurements are dropped.
func (r *RPLidar) GetRawScan(ctx context.Context) ([]geometry.Sample, error) {
	if !r.scanning {
		return nil, ErrNotScanning
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := r.readMeasurement()
		if err != nil {
			return nil, fmt.Errorf("rplidar %d: %w", r.id, err)
		}
		if m.start {
			var done []geometry.Sample
			if r.primed && len(r.pending) > r.opts.MinScanLen {
				done = r.pending
			}
			r.primed = true
			r.pending = make([]geometry.Sample, 0, len(r.pending)+8)
			r.keep(m)
			if done != nil {
				return done, nil
			}
			continue
		}
		if r.primed {
			r.keep(m)
		}
	}
}

func (r *RPLidar) keep(m measurement) {
	if m.quality == 0 || m.distance == 0 {
		return
	}
	r.pending = append(r.pending, geometry.Sample{
		Angle:    geometry.NormalizeAngle(m.angle),
		Distance: m.distance,
	})
}

type measurement struct {
	start    bool
	quality  uint8
	angle    float64
	distance float64
}

// decodeNode parses one 5-byte scan node. Byte 0 carries the start flag,
// its inverse and a 6-bit quality; byte 1 bit 0 is a check bit that is
// always set. Angle is Q6 degrees and distance Q2 millimetres.
func decodeNode(b []byte) (measurement, error) {
	start := b[0]&0x01 != 0
	inverse := b[0]&0x02 != 0
	if start == inverse {
		return measurement{}, fmt.Errorf("%w: start flags mismatch", ErrBadPacket)
	}
	if b[1]&0x01 != 1 {
		return measurement{}, fmt.Errorf("%w: check bit not set", ErrBadPacket)
	}
	angleQ6 := uint16(b[1])>>1 | uint16(b[2])<<7
	distQ2 := uint16(b[3]) | uint16(b[4])<<8
	return measurement{
		start:    start,
		quality:  b[0] >> 2,
		angle:    float64(angleQ6) / 64,
		distance: float64(distQ2) / 4,
	}, nil
}

// readMeasurement reads the next valid node, sliding one byte at a time to
// recover alignment after corruption. A resync discards the revolution in
// progress.
func (r *RPLidar) readMeasurement() (measurement, error) {
	if err := r.readFull(r.node[:]); err != nil {
		return measurement{}, err
	}
	for skipped := 0; ; skipped++ {
		m, err := decodeNode(r.node[:])
		if err == nil {
			if skipped > 0 {
				r.primed = false
				r.pending = nil
			}
			return m, nil
		}
		if skipped >= maxResyncBytes {
			r.primed = false
			r.pending = nil
			_ = r.port.ResetInputBuffer()
			return measurement{}, err
		}
		copy(r.node[:], r.node[1:])
		if err := r.readFull(r.node[rplNodeLen-1:]); err != nil {
			return measurement{}, err
		}
	}
}

// readFull fills buf. go.bug.st/serial reports a read timeout as a zero
// length read with no error.
func (r *RPLidar) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := r.port.Read(buf[off:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		off += n
	}
	return nil
}
