// Package domain owns the rooms of one monitored site. It starts their
// goroutines, routes pause and resume commands to them, and forwards their
// fall and state events to the configured sink.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/metrics"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/room"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/taskgroup"
	"github.com/rania-fds/fds/internal/timeutil"
)

var (
	ErrUnknownRoom    = errors.New("domain: unknown room")
	ErrUnknownCommand = errors.New("domain: unknown command")
	ErrWrongDomain    = errors.New("domain: command addressed to another domain")
	ErrAlreadyStarted = errors.New("domain: already started")
)

const (
	DefaultEventBuffer = 64
	publishTimeout     = 5 * time.Second
	receiveBackoff     = time.Second
)

// RoomConfig assigns sensors to a room.
type RoomConfig struct {
	ID      int
	Sensors []sensor.Sensor
	Options room.Options
}

// Config describes a domain. Sink and Commands may be nil.
type Config struct {
	ID         int
	Rooms      []RoomConfig
	Classifier room.Classifier
	Sink       events.Sink
	Commands   events.CommandSource
	// EventBuffer is the capacity of the outbound event queue. Events
	// raised while it is full are dropped.
	EventBuffer int
}

// Domain is the orchestrator for a set of rooms.
type Domain struct {
	id       int
	rooms    map[int]*room.Room
	order    []int
	sink     events.Sink
	commands events.CommandSource
	handlers map[string]func(events.Command) error

	log     *monitoring.Logger
	clock   timeutil.Clock
	metrics *metrics.Metrics
	group   *taskgroup.Group
	queue   chan events.Event

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New builds every room of cfg. Any room failing to build aborts the
// domain.
func New(cfg Config, rt room.Runtime) (*Domain, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("domain %d: no classifier", cfg.ID)
	}
	if len(cfg.Rooms) == 0 {
		return nil, fmt.Errorf("domain %d: no rooms", cfg.ID)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if rt.Log == nil {
		rt.Log = monitoring.Discard()
	}
	if rt.Clock == nil {
		rt.Clock = timeutil.RealClock{}
	}
	rt.Domain = cfg.ID

	d := &Domain{
		id:       cfg.ID,
		rooms:    make(map[int]*room.Room, len(cfg.Rooms)),
		sink:     cfg.Sink,
		commands: cfg.Commands,
		log:      rt.Log.With(fmt.Sprintf("domain %d", cfg.ID)),
		clock:    rt.Clock,
		metrics:  rt.Metrics,
		queue:    make(chan events.Event, cfg.EventBuffer),
	}
	d.group = taskgroup.New(d.log)
	d.handlers = map[string]func(events.Command) error{
		events.CommandPause:  d.roomCommand(d.Pause),
		events.CommandResume: d.roomCommand(d.Resume),
	}

	for _, rc := range cfg.Rooms {
		if _, dup := d.rooms[rc.ID]; dup {
			return nil, fmt.Errorf("domain %d: room %d configured twice", cfg.ID, rc.ID)
		}
		r, err := room.New(rc.ID, rc.Sensors, cfg.Classifier, d, rc.Options, rt)
		if err != nil {
			return nil, fmt.Errorf("domain %d: %w", cfg.ID, err)
		}
		d.rooms[rc.ID] = r
		d.order = append(d.order, rc.ID)
	}
	sort.Ints(d.order)
	return d, nil
}

// ID returns the domain id.
func (d *Domain) ID() int { return d.id }

// Start launches the event goroutine, the command listener and every
// room, then returns.
func (d *Domain) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.group.Go(fmt.Sprintf("domain %d/events", d.id), func() { d.eventLoop(loopCtx) })
	if d.commands != nil {
		d.group.Go(fmt.Sprintf("domain %d/commands", d.id), func() { d.commandLoop(loopCtx) })
	}

	for i, id := range d.order {
		if err := d.rooms[id].Start(ctx, d.group); err != nil {
			for _, prev := range d.order[:i] {
				d.rooms[prev].Stop()
			}
			cancel()
			return fmt.Errorf("domain %d: start room %d: %w", d.id, id, err)
		}
	}
	d.log.Infof("started %d room(s)", len(d.order))
	return nil
}

// ReturnWait blocks until every goroutine the domain and its rooms started
// has exited.
func (d *Domain) ReturnWait() {
	d.group.Wait()
}

// Stop stops every room, then the event and command goroutines. Events
// raised while the rooms shut down are still delivered.
func (d *Domain) Stop() {
	for _, id := range d.order {
		d.rooms[id].Stop()
	}
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Tasks lists the goroutines still running.
func (d *Domain) Tasks() []string { return d.group.Names() }

// Pause pauses room id.
func (d *Domain) Pause(id int) error {
	r, err := d.room(id)
	if err != nil {
		return err
	}
	return r.Pause()
}

// Resume resumes room id.
func (d *Domain) Resume(id int) error {
	r, err := d.room(id)
	if err != nil {
		return err
	}
	return r.Resume()
}

func (d *Domain) room(id int) (*room.Room, error) {
	r, ok := d.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRoom, id)
	}
	return r, nil
}

// Rooms returns the stats of every room ordered by id.
func (d *Domain) Rooms() []room.Stats {
	out := make([]room.Stats, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.rooms[id].Stats())
	}
	return out
}

// EmitFallEvent queues a fall event for room id.
func (d *Domain) EmitFallEvent(id int) {
	d.log.Warnf("fall detected in room %d", id)
	d.enqueue(events.NewFall(d.id, id, d.clock.Now()))
}

// StateChanged queues a state event for room id.
func (d *Domain) StateChanged(id int, from, to room.State) {
	d.enqueue(events.NewState(d.id, id, from.String(), to.String(), d.clock.Now()))
}

func (d *Domain) enqueue(ev events.Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warnf("event queue full, dropping %s for room %d", ev.Type, ev.Data.RoomID)
		d.metrics.EventDropped("queue")
	}
}

func (d *Domain) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.publish(ev)
				default:
					return
				}
			}
		case ev := <-d.queue:
			d.publish(ev)
		}
	}
}

func (d *Domain) publish(ev events.Event) {
	if d.sink == nil {
		return
	}
	// Shutdown events are published after the loop context ends.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := d.sink.Publish(ctx, ev); err != nil {
		d.log.Warnf("publish %s for room %d: %v", ev.Type, ev.Data.RoomID, err)
	}
}

func (d *Domain) commandLoop(ctx context.Context) {
	for {
		dlv, err := d.commands.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, events.ErrClosed) {
				return
			}
			d.log.Warnf("receive command: %v", err)
			t := d.clock.NewTimer(receiveBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C():
			}
			continue
		}
		reply, _ := d.HandleCommand(ctx, dlv.Command)
		if dlv.Reply != nil {
			if err := dlv.Reply(ctx, reply); err != nil {
				d.log.Warnf("reply to command %s: %v", dlv.Command.ID, err)
			}
		}
	}
}

// HandleCommand runs cmd and returns the reply to send back. Unknown
// command types are logged and answered with an error; they never stop
// the listener.
func (d *Domain) HandleCommand(_ context.Context, cmd events.Command) (events.Reply, error) {
	err := d.dispatch(cmd)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		d.log.Warnf("ignoring command %q: %v", cmd.Type, err)
		d.metrics.CommandHandled("unknown", err)
	case err != nil:
		d.log.Infof("command %s failed: %v", cmd.Type, err)
		d.metrics.CommandHandled(cmd.Type, err)
	default:
		d.metrics.CommandHandled(cmd.Type, nil)
	}
	return events.ReplyTo(cmd, err), err
}

func (d *Domain) dispatch(cmd events.Command) error {
	if cmd.DomainID != d.id {
		return fmt.Errorf("%w: %d", ErrWrongDomain, cmd.DomainID)
	}
	h, ok := d.handlers[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return h(cmd)
}

func (d *Domain) roomCommand(fn func(int) error) func(events.Command) error {
	return func(cmd events.Command) error {
		id, err := cmd.RoomID()
		if err != nil {
			return err
		}
		return fn(id)
	}
}
