// Package window holds the most recent LiDAR scans of a room. One producer
// pushes scans; any number of readers pull immutable snapshots without
// blocking the producer.
package window

import (
	"sync/atomic"

	"github.com/rania-fds/fds/internal/geometry"
)

// DefaultSize is the number of scans a window keeps.
const DefaultSize = 5

// Scan is one full revolution of samples, in the order the sensor produced
// them.
type Scan []geometry.Sample

// Snapshot is an immutable view of the window. Scans are ordered oldest
// first. Seq counts pushes since the window was created and identifies the
// newest scan in the snapshot.
type Snapshot struct {
	Scans []Scan
	Seq   uint64
}

// Len returns the number of scans in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Scans)
}

// Samples concatenates the scans oldest first into one sample sequence.
func (s *Snapshot) Samples() []geometry.Sample {
	if s == nil {
		return nil
	}
	n := 0
	for _, sc := range s.Scans {
		n += len(sc)
	}
	out := make([]geometry.Sample, 0, n)
	for _, sc := range s.Scans {
		out = append(out, sc...)
	}
	return out
}

// Window is a bounded FIFO of scans. Push must be called from a single
// goroutine. Pull is safe from any goroutine and never observes a partially
// pushed scan.
type Window struct {
	size int
	cur  atomic.Pointer[Snapshot]
}

// New returns an empty window holding up to size scans. A size below one
// uses DefaultSize.
func New(size int) *Window {
	if size < 1 {
		size = DefaultSize
	}
	w := &Window{size: size}
	w.cur.Store(&Snapshot{})
	return w
}

// Size returns the capacity in scans.
func (w *Window) Size() int { return w.size }

// Push appends scan, evicting the oldest scan once the window is full. The
// scan is copied, so the caller may reuse its buffer.
func (w *Window) Push(scan Scan) {
	old := w.cur.Load()
	keep := old.Scans
	if len(keep) >= w.size {
		keep = keep[len(keep)-w.size+1:]
	}
	scans := make([]Scan, 0, len(keep)+1)
	scans = append(scans, keep...)
	scans = append(scans, append(Scan(nil), scan...))
	w.cur.Store(&Snapshot{Scans: scans, Seq: old.Seq + 1})
}

// Pull returns the current snapshot. It does not remove anything from the
// window; two pulls with no push in between return the same snapshot.
func (w *Window) Pull() *Snapshot {
	return w.cur.Load()
}

// Seq returns the sequence number of the newest scan.
func (w *Window) Seq() uint64 {
	return w.cur.Load().Seq
}

// Reset empties the window without advancing Seq, so a consumer waiting
// for new data sleeps until the next Push. Like Push, it must only be
// called by the producer.
func (w *Window) Reset() {
	seq := w.cur.Load().Seq
	w.cur.Store(&Snapshot{Seq: seq})
}
