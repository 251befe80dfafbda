package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rania-fds/fds/internal/classify"
	"github.com/rania-fds/fds/internal/config"
	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/events/kafkasink"
	"github.com/rania-fds/fds/internal/events/redisbus"
	"github.com/rania-fds/fds/internal/metrics"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/room"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/store"
)

// closers are released in reverse order at shutdown.
type closers []func()

func (c *closers) add(name string, log *monitoring.Logger, fn func() error) {
	*c = append(*c, func() {
		if err := fn(); err != nil {
			log.Warnf("close %s: %v", name, err)
		}
	})
}

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// loadClassifier loads the training set and checks it against the tuning.
func loadClassifier(cfg *config.Config) (*classify.Classifier, error) {
	set, err := classify.LoadTrainingSet(cfg.GetTrainingPath())
	if err != nil {
		return nil, err
	}
	if want := cfg.Tuning.GetKeypoints(); set.Keypoints != want {
		return nil, fmt.Errorf("%w: training set has %d keypoints, tuning expects %d",
			classify.ErrTrainingShape, set.Keypoints, want)
	}
	return classify.New(set, cfg.Tuning.ClassifierOptions())
}

// outputs are the event transports built from the config.
type outputs struct {
	hub   *events.Hub
	store *store.Store
	bus   *redisbus.Bus
	sink  events.Sink
}

func buildOutputs(ctx context.Context, cfg *config.Config, met *metrics.Metrics, log *monitoring.Logger, cl *closers) (*outputs, error) {
	out := &outputs{hub: events.NewHub(64)}
	sinks := []events.Named{{Name: "hub", Sink: out.hub}}

	if path := cfg.GetDBPath(); path != "" {
		st, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		cl.add("store", log, st.Close)
		out.store = st
		sinks = append(sinks, events.Named{Name: "store", Sink: st})
	}

	if r := cfg.Redis; r != nil && r.Addr != "" {
		bus, err := redisbus.Dial(ctx, redisbus.Options{
			Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix,
		}, log)
		if err != nil {
			return nil, err
		}
		cl.add("redis", log, bus.Close)
		out.bus = bus
		sinks = append(sinks, events.Named{Name: "redis", Sink: bus})
	}

	if k := cfg.Kafka; k != nil && k.Brokers != "" {
		ks, err := kafkasink.New(kafkasink.Options{Brokers: k.Brokers, Topic: k.Topic}, log)
		if err != nil {
			return nil, err
		}
		cl.add("kafka", log, func() error { ks.Close(); return nil })
		sinks = append(sinks, events.Named{
			Name:  "kafka",
			Sink:  ks,
			Types: []events.Type{events.TypeFallStart},
		})
	}

	out.sink = events.NewMultiSink(met.EventPublished, sinks...)
	return out, nil
}

// openSensors opens every configured sensor through the registry.
func openSensors(cfg *config.Config, reg *sensor.Registry, log *monitoring.Logger, cl *closers) (map[int]sensor.Sensor, error) {
	out := make(map[int]sensor.Sensor, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		s, err := reg.Open(sc.Info())
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", sc.ID, err)
		}
		if c, ok := s.(io.Closer); ok {
			cl.add(fmt.Sprintf("sensor %d", sc.ID), log, c.Close)
		}
		out[sc.ID] = s
		log.Infof("sensor %d: %s/%s %s", sc.ID, sc.Class, sc.Device, sc.Path)
	}
	return out, nil
}

// buildDomains builds every configured domain. commands, when non-nil,
// supplies the command source of a domain.
func buildDomains(
	cfg *config.Config,
	sensors map[int]sensor.Sensor,
	classifier room.Classifier,
	sink events.Sink,
	commands func(domainID int) (events.CommandSource, error),
	rt room.Runtime,
) (*domain.Set, error) {
	var ds []*domain.Domain
	for _, dc := range cfg.Domains {
		dcfg := domain.Config{
			ID:          dc.ID,
			Classifier:  classifier,
			Sink:        sink,
			EventBuffer: cfg.Tuning.GetEventBuffer(),
		}
		for _, rc := range dc.Rooms {
			r := domain.RoomConfig{ID: rc.ID, Options: cfg.Tuning.RoomOptions()}
			for _, id := range rc.Sensors {
				s, ok := sensors[id]
				if !ok {
					return nil, fmt.Errorf("domain %d room %d: sensor %d not open", dc.ID, rc.ID, id)
				}
				r.Sensors = append(r.Sensors, s)
			}
			dcfg.Rooms = append(dcfg.Rooms, r)
		}
		if commands != nil {
			src, err := commands(dc.ID)
			if err != nil {
				return nil, err
			}
			dcfg.Commands = src
		}
		d, err := domain.New(dcfg, rt)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return domain.NewSet(ds...)
}
