// Package taskgroup tracks the long-running goroutines of a domain so the
// owner can block until every one of them has exited.
package taskgroup

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rania-fds/fds/internal/monitoring"
)

// Group is a shared countdown of running tasks. Each task is launched
// through Go; when it returns, the count is decremented atomically and
// waiters are woken.
type Group struct {
	log     *monitoring.Logger
	running atomic.Int64

	mu    sync.Mutex
	cond  *sync.Cond
	names map[string]int
}

// New returns an empty group. A nil logger discards output.
func New(log *monitoring.Logger) *Group {
	if log == nil {
		log = monitoring.Discard()
	}
	g := &Group{log: log, names: make(map[string]int)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Go runs fn in a new goroutine registered under name. A panic in fn is
// logged and treated as the task exiting.
func (g *Group) Go(name string, fn func()) {
	g.mu.Lock()
	g.running.Add(1)
	g.names[name]++
	g.mu.Unlock()

	go func() {
		defer g.done(name)
		defer func() {
			if r := recover(); r != nil {
				g.log.Errorf("task %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

func (g *Group) done(name string) {
	g.mu.Lock()
	if g.names[name]--; g.names[name] <= 0 {
		delete(g.names, name)
	}
	g.running.Add(-1)
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Running returns the number of tasks that have not yet exited.
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Names returns the names of running tasks, sorted.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.names))
	for n, c := range g.names {
		if c == 1 {
			out = append(out, n)
			continue
		}
		out = append(out, fmt.Sprintf("%s(x%d)", n, c))
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every task has exited.
func (g *Group) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.running.Load() > 0 {
		g.cond.Wait()
	}
}

// WaitTimeout waits at most d for every task to exit and reports whether
// they did.
func (g *Group) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
