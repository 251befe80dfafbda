package events

import (
	"context"
	"errors"
)

// ErrClosed is returned by a CommandSource that will deliver no more
// commands.
var ErrClosed = errors.New("events: source closed")

// Delivery is a received command and the means to answer it.
type Delivery struct {
	Command Command
	// Reply sends the answer back over the transport. It may be a no-op.
	Reply func(ctx context.Context, r Reply) error
}

// CommandSource delivers inbound commands to a domain's command listener.
type CommandSource interface {
	// Receive blocks until a command arrives, ctx ends, or the source is
	// closed.
	Receive(ctx context.Context) (Delivery, error)
}

// ChanSource is an in-process CommandSource.
type ChanSource struct {
	ch chan Delivery
}

// NewChanSource returns a source buffering up to n undelivered commands.
func NewChanSource(n int) *ChanSource {
	return &ChanSource{ch: make(chan Delivery, n)}
}

func (s *ChanSource) Receive(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case d := <-s.ch:
		return d, nil
	}
}

// Send delivers cmd and waits for the reply.
func (s *ChanSource) Send(ctx context.Context, cmd Command) (Reply, error) {
	replies := make(chan Reply, 1)
	d := Delivery{
		Command: cmd,
		Reply: func(_ context.Context, r Reply) error {
			replies <- r
			return nil
		},
	}
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case s.ch <- d:
	}
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case r := <-replies:
		return r, nil
	}
}
