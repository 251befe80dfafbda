package config

import (
	"fmt"
	"time"

	"github.com/rania-fds/fds/internal/classify"
	"github.com/rania-fds/fds/internal/cluster"
	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/room"
	"github.com/rania-fds/fds/internal/window"
)

// Tuning holds the processing parameters shared by every room. Fields
// omitted from the file fall back to the defaults returned by the Get
// methods, so partial configs are safe.
type Tuning struct {
	WindowSize     *int     `yaml:"window_size,omitempty"`
	LowPowerPeriod *string  `yaml:"low_power_period,omitempty"` // duration string like "700ms"
	DBSCANEps      *float64 `yaml:"dbscan_eps,omitempty"`
	DBSCANMinPts   *int     `yaml:"dbscan_min_pts,omitempty"`
	KNNNeighbors   *int     `yaml:"knn_neighbors,omitempty"`
	KNNP           *float64 `yaml:"knn_p,omitempty"`
	Keypoints      *int     `yaml:"keypoints,omitempty"`
	JoinTimeout    *string  `yaml:"join_timeout,omitempty"`
	PauseProducer  *bool    `yaml:"pause_producer,omitempty"`
	FallCooldown   *string  `yaml:"fall_cooldown,omitempty"`
	EventBuffer    *int     `yaml:"event_buffer,omitempty"`
}

// Validate checks the values that are set.
func (t *Tuning) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"window_size", t.WindowSize},
		{"dbscan_min_pts", t.DBSCANMinPts},
		{"knn_neighbors", t.KNNNeighbors},
		{"keypoints", t.Keypoints},
		{"event_buffer", t.EventBuffer},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}
	if t.DBSCANEps != nil && *t.DBSCANEps <= 0 {
		return fmt.Errorf("dbscan_eps must be positive, got %f", *t.DBSCANEps)
	}
	if t.KNNP != nil && *t.KNNP < 1 {
		return fmt.Errorf("knn_p must be at least 1, got %f", *t.KNNP)
	}
	for _, d := range []struct {
		name string
		v    *string
	}{
		{"low_power_period", t.LowPowerPeriod},
		{"join_timeout", t.JoinTimeout},
		{"fall_cooldown", t.FallCooldown},
	} {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, v)
		}
	}
	return nil
}

func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func (t *Tuning) GetWindowSize() int {
	if t.WindowSize == nil {
		return window.DefaultSize
	}
	return *t.WindowSize
}

func (t *Tuning) GetLowPowerPeriod() time.Duration {
	return duration(t.LowPowerPeriod, room.DefaultLowPowerPeriod)
}

func (t *Tuning) GetDBSCANEps() float64 {
	if t.DBSCANEps == nil {
		return cluster.DefaultEps
	}
	return *t.DBSCANEps
}

func (t *Tuning) GetDBSCANMinPts() int {
	if t.DBSCANMinPts == nil {
		return cluster.DefaultMinPts
	}
	return *t.DBSCANMinPts
}

func (t *Tuning) GetKNNNeighbors() int {
	if t.KNNNeighbors == nil {
		return classify.DefaultNeighbors
	}
	return *t.KNNNeighbors
}

func (t *Tuning) GetKNNP() float64 {
	if t.KNNP == nil {
		return classify.DefaultMinkowskiP
	}
	return *t.KNNP
}

// GetKeypoints returns the number of keypoints per cluster. It must match
// the training set.
func (t *Tuning) GetKeypoints() int {
	if t.Keypoints == nil {
		return classify.DefaultKeypoints
	}
	return *t.Keypoints
}

func (t *Tuning) GetJoinTimeout() time.Duration {
	return duration(t.JoinTimeout, room.DefaultJoinTimeout)
}

func (t *Tuning) GetPauseProducer() bool {
	return t.PauseProducer != nil && *t.PauseProducer
}

func (t *Tuning) GetFallCooldown() time.Duration {
	return duration(t.FallCooldown, 0)
}

func (t *Tuning) GetEventBuffer() int {
	if t.EventBuffer == nil {
		return domain.DefaultEventBuffer
	}
	return *t.EventBuffer
}

// RoomOptions converts the tuning into room options.
func (t *Tuning) RoomOptions() room.Options {
	return room.Options{
		WindowSize:     t.GetWindowSize(),
		LowPowerPeriod: t.GetLowPowerPeriod(),
		Cluster:        cluster.Params{Eps: t.GetDBSCANEps(), MinPts: t.GetDBSCANMinPts()},
		JoinTimeout:    t.GetJoinTimeout(),
		PauseProducer:  t.GetPauseProducer(),
		FallCooldown:   t.GetFallCooldown(),
	}
}

// ClassifierOptions converts the tuning into classifier options.
func (t *Tuning) ClassifierOptions() classify.Options {
	return classify.Options{Neighbors: t.GetKNNNeighbors(), P: t.GetKNNP()}
}
