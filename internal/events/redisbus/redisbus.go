// Package redisbus carries events and commands over Redis pub/sub. Events
// are published on <prefix>:events and kept in a capped list for late
// subscribers; each domain listens for commands on
// <prefix>:commands:<domain id>.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/monitoring"
)

const (
	DefaultPrefix = "fds"
	// DefaultRecent is how many events the recent list keeps.
	DefaultRecent = 100
)

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Recent   int
}

// Bus publishes events to Redis and subscribes to commands.
type Bus struct {
	client *redis.Client
	prefix string
	recent int64
	log    *monitoring.Logger
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, opts Options, log *monitoring.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return New(client, opts, log), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts Options, log *monitoring.Logger) *Bus {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecent
	}
	if log == nil {
		log = monitoring.Discard()
	}
	return &Bus{client: client, prefix: opts.Prefix, recent: int64(opts.Recent), log: log.With("redis")}
}

// EventsChannel is the pub/sub channel events are published on.
func (b *Bus) EventsChannel() string { return b.prefix + ":events" }

// RecentKey is the list holding the most recent events, newest first.
func (b *Bus) RecentKey() string { return b.prefix + ":events:recent" }

// CommandsChannel is the channel the domain listens on.
func (b *Bus) CommandsChannel(domainID int) string {
	return b.prefix + ":commands:" + strconv.Itoa(domainID)
}

func (b *Bus) replyChannel(id string) string { return b.prefix + ":replies:" + id }

// Publish sends ev to subscribers and records it in the recent list.
func (b *Bus) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.Publish(ctx, b.EventsChannel(), data)
	pipe.LPush(ctx, b.RecentKey(), data)
	pipe.LTrim(ctx, b.RecentKey(), 0, b.recent-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent events, newest first.
func (b *Bus) Recent(ctx context.Context, n int) ([]events.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := b.client.LRange(ctx, b.RecentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	out := make([]events.Event, 0, len(raw))
	for _, r := range raw {
		var ev events.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			b.log.Warnf("skipping undecodable event in %s: %v", b.RecentKey(), err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Commands subscribes to the domain's command channel.
func (b *Bus) Commands(ctx context.Context, domainID int) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.CommandsChannel(domainID))
	// Wait for the subscription confirmation so no command published after
	// this returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.CommandsChannel(domainID), err)
	}
	return &Subscription{bus: b, ps: ps}, nil
}

// Request publishes cmd to its domain and waits for the reply.
func (b *Bus) Request(ctx context.Context, cmd events.Command) (events.Reply, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	cmd.ReplyTo = b.replyChannel(cmd.ID)

	ps := b.client.Subscribe(ctx, cmd.ReplyTo)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return events.Reply{}, fmt.Errorf("failed to subscribe for reply: %w", err)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return events.Reply{}, err
	}
	n, err := b.client.Publish(ctx, b.CommandsChannel(cmd.DomainID), data).Result()
	if err != nil {
		return events.Reply{}, fmt.Errorf("failed to publish command: %w", err)
	}
	if n == 0 {
		return events.Reply{}, fmt.Errorf("no listener for domain %d", cmd.DomainID)
	}

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		return events.Reply{}, fmt.Errorf("waiting for reply: %w", err)
	}
	return decodeReply([]byte(msg.Payload))
}

// Close closes the client.
func (b *Bus) Close() error { return b.client.Close() }

// Subscription is an events.CommandSource backed by a Redis subscription.
type Subscription struct {
	bus *Bus
	ps  *redis.PubSub
}

// Receive returns the next decodable command. Undecodable messages are
// logged and skipped.
func (s *Subscription) Receive(ctx context.Context) (events.Delivery, error) {
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return events.Delivery{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return events.Delivery{}, events.ErrClosed
			}
			return events.Delivery{}, err
		}
		cmd, err := decodeCommand([]byte(msg.Payload))
		if err != nil {
			s.bus.log.Warnf("dropping command on %s: %v", msg.Channel, err)
			continue
		}
		return events.Delivery{Command: cmd, Reply: s.replier(cmd)}, nil
	}
}

func (s *Subscription) replier(cmd events.Command) func(context.Context, events.Reply) error {
	if cmd.ReplyTo == "" {
		return func(context.Context, events.Reply) error { return nil }
	}
	return func(ctx context.Context, r events.Reply) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return s.bus.client.Publish(ctx, cmd.ReplyTo, data).Err()
	}
}

// Close ends the subscription; a blocked Receive returns events.ErrClosed.
func (s *Subscription) Close() error { return s.ps.Close() }

func decodeCommand(data []byte) (events.Command, error) {
	var cmd events.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return cmd, errors.New("decode command: missing type")
	}
	return cmd, nil
}

func decodeReply(data []byte) (events.Reply, error) {
	var r events.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}
