package taskgroup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroup_WaitForAll(t *testing.T) {
	g := New(nil)
	release := make(chan struct{})
	var mu sync.Mutex
	finished := 0
	for i := 0; i < 5; i++ {
		g.Go("worker", func() {
			<-release
			mu.Lock()
			finished++
			mu.Unlock()
		})
	}
	assert.Equal(t, 5, g.Running())
	assert.Equal(t, []string{"worker(x5)"}, g.Names())
	assert.False(t, g.WaitTimeout(20*time.Millisecond))

	close(release)
	g.Wait()
	assert.Equal(t, 5, finished)
	assert.Equal(t, 0, g.Running())
	assert.Empty(t, g.Names())
}

func TestGroup_NamesSorted(t *testing.T) {
	g := New(nil)
	stop := make(chan struct{})
	g.Go("room 2/scan", func() { <-stop })
	g.Go("room 1/classify", func() { <-stop })
	assert.Equal(t, []string{"room 1/classify", "room 2/scan"}, g.Names())
	close(stop)
	assert.True(t, g.WaitTimeout(time.Second))
}

func TestGroup_PanicCountsAsExit(t *testing.T) {
	g := New(nil)
	g.Go("boom", func() { panic("bad") })
	assert.True(t, g.WaitTimeout(time.Second))
	assert.Equal(t, 0, g.Running())
}

func TestGroup_WaitOnEmpty(t *testing.T) {
	g := New(nil)
	assert.True(t, g.WaitTimeout(time.Millisecond))
	g.Wait()
}
