package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/room"
)

var ErrUnknownDomain = errors.New("domain: unknown domain")

// RoomStatus is a room's stats tagged with its domain.
type RoomStatus struct {
	Domain int `json:"dom_id"`
	room.Stats
}

// Set is the collection of domains hosted by one process.
type Set struct {
	byID  map[int]*Domain
	order []int
}

// NewSet indexes domains by id. Duplicate ids are an error.
func NewSet(domains ...*Domain) (*Set, error) {
	s := &Set{byID: make(map[int]*Domain, len(domains))}
	for _, d := range domains {
		if _, dup := s.byID[d.ID()]; dup {
			return nil, fmt.Errorf("domain %d configured twice", d.ID())
		}
		s.byID[d.ID()] = d
		s.order = append(s.order, d.ID())
	}
	sort.Ints(s.order)
	return s, nil
}

// Get returns domain id.
func (s *Set) Get(id int) (*Domain, error) {
	d, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, id)
	}
	return d, nil
}

// All returns the domains ordered by id.
func (s *Set) All() []*Domain {
	out := make([]*Domain, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Rooms returns the status of every room in every domain.
func (s *Set) Rooms() []RoomStatus {
	var out []RoomStatus
	for _, d := range s.All() {
		for _, st := range d.Rooms() {
			out = append(out, RoomStatus{Domain: d.ID(), Stats: st})
		}
	}
	return out
}

// Dispatch routes cmd to the domain it names.
func (s *Set) Dispatch(ctx context.Context, cmd events.Command) (events.Reply, error) {
	d, err := s.Get(cmd.DomainID)
	if err != nil {
		return events.ReplyTo(cmd, err), err
	}
	return d.HandleCommand(ctx, cmd)
}

// Start starts every domain. On error the domains already started are
// stopped.
func (s *Set) Start(ctx context.Context) error {
	all := s.All()
	for i, d := range all {
		if err := d.Start(ctx); err != nil {
			for _, prev := range all[:i] {
				prev.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every domain.
func (s *Set) Stop() {
	for _, d := range s.All() {
		d.Stop()
	}
}

// ReturnWait waits for every domain's goroutines.
func (s *Set) ReturnWait() {
	for _, d := range s.All() {
		d.ReturnWait()
	}
}
