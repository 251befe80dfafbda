// Package room runs the real-time pipeline of one monitored room: a scan
// goroutine per sensor feeding a window, and a classification goroutine
// driving the LOW/HIGH/PAUSED state machine.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rania-fds/fds/internal/classify"
	"github.com/rania-fds/fds/internal/cluster"
	"github.com/rania-fds/fds/internal/geometry"
	"github.com/rania-fds/fds/internal/metrics"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/taskgroup"
	"github.com/rania-fds/fds/internal/timeutil"
	"github.com/rania-fds/fds/internal/window"
)

// Defaults for Options fields left zero.
const (
	DefaultLowPowerPeriod = 700 * time.Millisecond
	DefaultJoinTimeout    = 2 * time.Second
	DefaultBackoffMin     = 100 * time.Millisecond
	DefaultBackoffMax     = 5 * time.Second
)

// ErrStopped is returned when starting a room that has been stopped.
var ErrStopped = errors.New("room: stopped")

// Classifier labels a cluster from the advanced clustering pass.
type Classifier interface {
	Classify(c cluster.Cluster) (classify.Activity, error)
}

// Notifier receives the room's outbound events. Calls are made from the
// room's goroutines, or from the goroutine calling Pause or Resume, and
// never while the room holds its lock.
type Notifier interface {
	EmitFallEvent(roomID int)
	StateChanged(roomID int, from, to State)
}

// Options tunes a room.
type Options struct {
	WindowSize     int
	LowPowerPeriod time.Duration
	Cluster        cluster.Params
	JoinTimeout    time.Duration
	// PauseProducer also stops sensor polling while paused. By default the
	// scan goroutines keep the window fresh so a resumed room classifies
	// current data immediately.
	PauseProducer bool
	// FallCooldown suppresses repeat fall events from the room within the
	// given duration. Zero emits on every FALL cycle.
	FallCooldown time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = window.DefaultSize
	}
	if o.LowPowerPeriod <= 0 {
		o.LowPowerPeriod = DefaultLowPowerPeriod
	}
	if o.Cluster == (cluster.Params{}) {
		o.Cluster = cluster.DefaultParams()
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = DefaultBackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = DefaultBackoffMax
		if o.BackoffMax < o.BackoffMin {
			o.BackoffMax = o.BackoffMin
		}
	}
	return o
}

// Runtime carries the process-wide dependencies a room is built with.
type Runtime struct {
	Log     *monitoring.Logger
	Clock   timeutil.Clock
	Metrics *metrics.Metrics
	// Domain labels the room's metrics; the domain sets it.
	Domain int
}

// Stats is a point-in-time summary of a room.
type Stats struct {
	ID         int       `json:"id"`
	State      State     `json:"state"`
	Active     State     `json:"active"`
	Sensors    []int     `json:"sensors"`
	Cycles     uint64    `json:"cycles"`
	Scans      uint64    `json:"scans"`
	ScanErrors uint64    `json:"scan_errors"`
	Falls      uint64    `json:"falls"`
	LastFall   time.Time `json:"last_fall,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Room owns the goroutines and state machine of one monitored room.
type Room struct {
	id         int
	sensors    []sensor.Sensor
	windows    []*window.Window
	engine     *cluster.Engine
	classifier Classifier
	notifier   Notifier
	opts       Options
	log        *monitoring.Logger
	clock      timeutil.Clock
	metrics    *metrics.Metrics
	key        metrics.Room

	// data is signalled after every push; capacity one so a wake-up is
	// never lost and the producer never blocks on it.
	data chan struct{}

	cycles     atomic.Uint64
	scans      atomic.Uint64
	scanErrors atomic.Uint64
	falls      atomic.Uint64

	mu       sync.Mutex
	machine  Machine
	resumed  chan struct{} // closed on resume, replaced on pause
	stopped  bool
	cancel   context.CancelFunc
	lastFall time.Time
	failure  error

	producers sync.WaitGroup
	all       sync.WaitGroup
}

// New builds a room over its sensors. It does not start any goroutine.
func New(id int, sensors []sensor.Sensor, classifier Classifier, notifier Notifier, opts Options, rt Runtime) (*Room, error) {
	if len(sensors) == 0 {
		return nil, fmt.Errorf("room %d: no sensors assigned", id)
	}
	if classifier == nil {
		return nil, fmt.Errorf("room %d: no classifier", id)
	}
	opts = opts.withDefaults()
	engine, err := cluster.NewEngine(opts.Cluster)
	if err != nil {
		return nil, fmt.Errorf("room %d: %w", id, err)
	}
	if rt.Log == nil {
		rt.Log = monitoring.Discard()
	}
	if rt.Clock == nil {
		rt.Clock = timeutil.RealClock{}
	}

	r := &Room{
		id:         id,
		sensors:    sensors,
		windows:    make([]*window.Window, len(sensors)),
		engine:     engine,
		classifier: classifier,
		notifier:   notifier,
		opts:       opts,
		log:        rt.Log.With(fmt.Sprintf("room %d", id)),
		clock:      rt.Clock,
		metrics:    rt.Metrics,
		key:        metrics.Room{Domain: rt.Domain, ID: id},
		data:       make(chan struct{}, 1),
		resumed:    make(chan struct{}),
	}
	for i := range sensors {
		r.windows[i] = window.New(opts.WindowSize)
	}
	return r, nil
}

// ID returns the room id.
func (r *Room) ID() int { return r.id }

// Start launches one scan goroutine per sensor and the classification
// goroutine in group, then moves the room from NONE to LOW. It returns
// without waiting. A nil group gives the room a private one.
func (r *Room) Start(ctx context.Context, group *taskgroup.Group) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	next, _, err := Transition(r.machine, Event{Kind: EventStart})
	if err != nil {
		r.mu.Unlock()
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	if group == nil {
		group = taskgroup.New(r.log)
	}
	for i := range r.sensors {
		r.producers.Add(1)
		r.all.Add(1)
		group.Go(fmt.Sprintf("room %d/scan %d", r.id, r.sensors[i].ID()), func() {
			defer r.all.Done()
			defer r.producers.Done()
			r.scanLoop(ctx, i)
		})
	}
	r.all.Add(1)
	group.Go(fmt.Sprintf("room %d/classify", r.id), func() {
		defer r.all.Done()
		r.classifyLoop(ctx)
	})

	prev := r.machine
	r.machine = next
	r.mu.Unlock()

	r.log.Infof("started with %d sensor(s)", len(r.sensors))
	r.changed(prev.State, next.State)
	return nil
}

// Stop cancels both loops and waits up to the join timeout for them to
// exit. A loop that does not exit in time is logged and abandoned.
func (r *Room) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	prev := r.machine
	r.machine, _, _ = Transition(r.machine, Event{Kind: EventStop})
	cancel := r.cancel
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if !waitTimeout(&r.all, r.opts.JoinTimeout) {
		r.log.Warnf("goroutines did not exit within %s", r.opts.JoinTimeout)
	}
	r.changed(prev.State, StateNone)
}

// Pause stops the room from starting new classification cycles. A cycle
// already running completes and may still emit a fall.
func (r *Room) Pause() error {
	r.mu.Lock()
	next, _, err := Transition(r.machine, Event{Kind: EventPause})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.machine
	r.machine = next
	r.resumed = make(chan struct{})
	r.mu.Unlock()

	r.log.Infof("paused in %s", prev.State)
	r.changed(prev.State, next.State)
	return nil
}

// Resume returns the room to the mode it was paused in.
func (r *Room) Resume() error {
	r.mu.Lock()
	next, _, err := Transition(r.machine, Event{Kind: EventResume})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.machine
	r.machine = next
	close(r.resumed)
	r.mu.Unlock()

	r.log.Infof("resumed in %s", next.State)
	r.changed(prev.State, next.State)
	return nil
}

// State returns the current activity state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.State
}

// Err returns the error that ended classification, if any.
func (r *Room) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

// Stats returns counters and state for reporting.
func (r *Room) Stats() Stats {
	r.mu.Lock()
	m, last, failure := r.machine, r.lastFall, r.failure
	r.mu.Unlock()

	st := Stats{
		ID:         r.id,
		State:      m.State,
		Active:     m.Active(),
		Cycles:     r.cycles.Load(),
		Scans:      r.scans.Load(),
		ScanErrors: r.scanErrors.Load(),
		Falls:      r.falls.Load(),
		LastFall:   last,
	}
	for _, s := range r.sensors {
		st.Sensors = append(st.Sensors, s.ID())
	}
	if failure != nil {
		st.Error = failure.Error()
	}
	return st
}

func (r *Room) changed(from, to State) {
	if from == to {
		return
	}
	r.metrics.SetRoomState(r.key, int(to))
	if r.notifier != nil {
		r.notifier.StateChanged(r.id, from, to)
	}
}

// scanLoop polls one sensor, filters each scan through the sensor's
// calibration and pushes the foreground into the sensor's window.
func (r *Room) scanLoop(ctx context.Context, idx int) {
	s := r.sensors[idx]
	w := r.windows[idx]
	log := r.log.With(fmt.Sprintf("sensor %d", s.ID()))
	backoff := r.opts.BackoffMin
	started := false

	defer func() {
		if !started {
			return
		}
		if err := s.StopScanning(); err != nil {
			log.Warnf("stop scanning: %v", err)
		}
	}()

	retry := func(what string, err error) bool {
		r.scanErrors.Add(1)
		r.metrics.ScanFailed(r.key, s.ID())
		log.Warnf("%s: %v (retry in %s)", what, err, backoff)
		if !r.sleep(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > r.opts.BackoffMax {
			backoff = r.opts.BackoffMax
		}
		return true
	}

	for {
		if r.opts.PauseProducer {
			waited, ok := r.waitResumed(ctx)
			if !ok {
				return
			}
			// Scans from before the pause are stale by now.
			if waited {
				w.Reset()
			}
		}
		if ctx.Err() != nil {
			return
		}
		if !started {
			if err := s.StartScanning(ctx); err != nil {
				if ctx.Err() != nil || !retry("start scanning", err) {
					return
				}
				continue
			}
			started = true
		}

		scan, err := s.GetRawScan(ctx)
		if err != nil {
			if ctx.Err() != nil || !retry("scan", err) {
				return
			}
			continue
		}
		backoff = r.opts.BackoffMin

		fg, _ := sensor.Filter(scan, s.Calibration())
		w.Push(fg)
		r.scans.Add(1)
		r.metrics.ScanPushed(r.key, s.ID())
		select {
		case r.data <- struct{}{}:
		default:
		}
	}
}

// classifyLoop runs classification cycles until the room is stopped or a
// cycle fails. Each cycle consumes a snapshot newer than the last one, so
// the same scans are never classified twice.
func (r *Room) classifyLoop(ctx context.Context) {
	seen := make([]uint64, len(r.windows))
	for {
		if !r.waitData(ctx, seen) {
			return
		}
		active, ok := r.beginCycle(ctx)
		if !ok {
			return
		}

		samples := make([][]geometry.Sample, len(r.windows))
		for i, w := range r.windows {
			snap := w.Pull()
			seen[i] = snap.Seq
			samples[i] = snap.Samples()
		}

		if err := r.runCycle(ctx, active, samples); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.fail(err)
			return
		}
	}
}

// waitData blocks until some window holds a scan newer than seen.
func (r *Room) waitData(ctx context.Context, seen []uint64) bool {
	for {
		for i, w := range r.windows {
			if w.Seq() > seen[i] {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.data:
		}
	}
}

// waitResumed blocks while the room is paused. waited reports whether it
// had to block at all.
func (r *Room) waitResumed(ctx context.Context) (waited, ok bool) {
	for {
		r.mu.Lock()
		paused, ch := r.machine.State == StatePaused, r.resumed
		r.mu.Unlock()
		if !paused {
			return waited, ctx.Err() == nil
		}
		waited = true
		select {
		case <-ctx.Done():
			return waited, false
		case <-ch:
		}
	}
}

// beginCycle is the pause gate. The check and the cycle count happen under
// the room lock, so once Pause returns no further cycle can begin.
func (r *Room) beginCycle(ctx context.Context) (State, bool) {
	r.mu.Lock()
	for r.machine.State == StatePaused {
		ch := r.resumed
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return StateNone, false
		case <-ch:
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if ctx.Err() != nil || r.machine.State == StateNone {
		return StateNone, false
	}
	r.cycles.Add(1)
	return r.machine.State, true
}

func (r *Room) runCycle(ctx context.Context, active State, samples [][]geometry.Sample) error {
	start := r.clock.Now()
	ev := Event{Kind: EventCycle}

	switch active {
	case StateLow:
		for _, s := range samples {
			ev.Clusters += len(r.engine.Cluster(s).Clusters)
		}
	case StateHigh:
		var clusters []cluster.Cluster
		for _, s := range samples {
			clusters = append(clusters, r.engine.ClusterWithCenters(s).Clusters...)
		}
		ev.Clusters = len(clusters)
		for _, c := range clusters {
			act, err := r.classifier.Classify(c)
			if err != nil {
				return fmt.Errorf("classify cluster %d: %w", c.Label, err)
			}
			if act == classify.ActivityFall {
				ev.Fall = true
				break
			}
		}
	default:
		return fmt.Errorf("cycle started in %s", active)
	}
	r.metrics.ObserveCycle(r.key, active.String(), r.clock.Since(start))

	r.mu.Lock()
	if r.machine.State == StateNone {
		r.mu.Unlock()
		return nil
	}
	prev := r.machine
	next, out, err := Transition(r.machine, ev)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.machine = next
	r.mu.Unlock()

	if prev.Active() != next.Active() {
		r.log.Debugf("%s -> %s (%d clusters)", prev.Active(), next.Active(), ev.Clusters)
	}
	r.changed(prev.State, next.State)

	switch out.Action {
	case ActionEmitFall:
		r.emitFall()
	case ActionSleep:
		r.sleep(ctx, r.opts.LowPowerPeriod-r.clock.Since(start))
	}
	return nil
}

func (r *Room) emitFall() {
	now := r.clock.Now()
	r.mu.Lock()
	if r.opts.FallCooldown > 0 && !r.lastFall.IsZero() && now.Sub(r.lastFall) < r.opts.FallCooldown {
		r.mu.Unlock()
		r.log.Debugf("fall suppressed by cooldown")
		return
	}
	r.lastFall = now
	r.mu.Unlock()

	r.falls.Add(1)
	r.metrics.FallDetected(r.key)
	r.log.Infof("fall detected")
	if r.notifier != nil {
		r.notifier.EmitFallEvent(r.id)
	}
}

// fail ends the room after a classification error. Sensor polling is
// cancelled and joined with the join timeout.
func (r *Room) fail(err error) {
	r.log.Errorf("classification failed, stopping: %v", err)

	r.mu.Lock()
	r.failure = err
	prev := r.machine
	r.machine, _, _ = Transition(r.machine, Event{Kind: EventStop})
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	if !waitTimeout(&r.producers, r.opts.JoinTimeout) {
		r.log.Warnf("scan goroutines did not exit within %s", r.opts.JoinTimeout)
	}
	r.changed(prev.State, StateNone)
}

// sleep waits for d on the room clock. It returns false if ctx ended
// first.
func (r *Room) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := r.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
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
