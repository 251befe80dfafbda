package window

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rania-fds/fds/internal/geometry"
)

func scanOf(id float64) Scan {
	return Scan{{Angle: id, Distance: id * 10}, {Angle: id + 0.5, Distance: id * 10}}
}

func TestNew_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, 3, New(3).Size())
	assert.Equal(t, 0, New(3).Pull().Len())
}

func TestPush_KeepsMostRecent(t *testing.T) {
	const size = 5
	for pushes := 0; pushes <= 12; pushes++ {
		w := New(size)
		for i := 1; i <= pushes; i++ {
			w.Push(scanOf(float64(i)))
		}
		snap := w.Pull()
		want := pushes
		if want > size {
			want = size
		}
		require.Equal(t, want, snap.Len(), "after %d pushes", pushes)
		assert.Equal(t, uint64(pushes), snap.Seq)

		// Oldest first, ending with the last push.
		for i, sc := range snap.Scans {
			assert.Equal(t, float64(pushes-want+i+1), sc[0].Angle)
		}
	}
}

func TestPush_CopiesScan(t *testing.T) {
	w := New(2)
	buf := scanOf(1)
	w.Push(buf)
	buf[0].Distance = -1
	assert.Equal(t, 10.0, w.Pull().Scans[0][0].Distance)
}

func TestPull_SnapshotIsStable(t *testing.T) {
	w := New(2)
	w.Push(scanOf(1))
	snap := w.Pull()
	assert.Same(t, snap, w.Pull())

	w.Push(scanOf(2))
	w.Push(scanOf(3))
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, 1.0, snap.Scans[0][0].Angle)
}

func TestSamples_Concatenates(t *testing.T) {
	w := New(3)
	w.Push(scanOf(1))
	w.Push(scanOf(2))
	got := w.Pull().Samples()
	want := []geometry.Sample{
		{Angle: 1, Distance: 10}, {Angle: 1.5, Distance: 10},
		{Angle: 2, Distance: 20}, {Angle: 2.5, Distance: 20},
	}
	assert.Equal(t, want, got)

	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Samples())
}

func TestReset_KeepsSeq(t *testing.T) {
	w := New(3)
	w.Push(scanOf(1))
	w.Reset()
	assert.Equal(t, 0, w.Pull().Len())
	assert.Equal(t, uint64(1), w.Seq())
}

func TestConcurrentPull(t *testing.T) {
	w := New(4)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := w.Pull()
				if snap.Len() > 4 {
					t.Errorf("snapshot holds %d scans", snap.Len())
					return
				}
				for _, sc := range snap.Scans {
					if len(sc) != 2 {
						t.Errorf("partial scan of %d samples", len(sc))
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 2000; i++ {
		w.Push(scanOf(float64(i)))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, uint64(2000), w.Seq())
}
