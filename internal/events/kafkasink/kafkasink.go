// Package kafkasink publishes fall events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/monitoring"
)

// DefaultTopic receives events when Options.Topic is empty.
const DefaultTopic = "fds.events"

// Options configures the producer.
type Options struct {
	Brokers      string
	Topic        string
	Acks         string
	FlushTimeout time.Duration
}

// Sink produces events to Kafka. Delivery reports are consumed in the
// background and failures logged.
type Sink struct {
	producer *kafka.Producer
	topic    string
	flush    time.Duration
	log      *monitoring.Logger
	delivery chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates the producer. Brokers are not contacted until the first
// message.
func New(opts Options, log *monitoring.Logger) (*Sink, error) {
	if opts.Brokers == "" {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Acks == "" {
		opts.Acks = "all"
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if log == nil {
		log = monitoring.Discard()
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   opts.Brokers,
		"acks":                opts.Acks,
		"enable.idempotence":  true,
		"linger.ms":           5,
		"request.timeout.ms":  10000,
		"delivery.timeout.ms": 30000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		producer: p,
		topic:    opts.Topic,
		flush:    opts.FlushTimeout,
		log:      log.With("kafka"),
		delivery: make(chan kafka.Event, 256),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.handleDeliveryReports(ctx)
	s.log.Infof("producer initialised, topic %s, brokers %s", opts.Topic, opts.Brokers)
	return s, nil
}

func (s *Sink) handleDeliveryReports(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.delivery:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				s.failed.Add(1)
				s.log.Warnf("delivery failed: %v", m.TopicPartition.Error)
				continue
			}
			s.acked.Add(1)
		}
	}
}

// Publish queues ev for delivery. It returns once the message is queued,
// not when it is acknowledged.
func (s *Sink) Publish(_ context.Context, ev events.Event) error {
	msg, err := message(s.topic, ev)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, s.delivery); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	s.sent.Add(1)
	return nil
}

// Counts returns messages sent, acknowledged and failed.
func (s *Sink) Counts() (sent, acked, failed int64) {
	return s.sent.Load(), s.acked.Load(), s.failed.Load()
}

// Close flushes queued messages and shuts the producer down.
func (s *Sink) Close() {
	if remaining := s.producer.Flush(int(s.flush.Milliseconds())); remaining > 0 {
		s.log.Warnf("%d messages still queued after flush", remaining)
	}
	s.cancel()
	s.wg.Wait()
	s.producer.Close()
	sent, acked, failed := s.Counts()
	s.log.Infof("producer closed: sent %d, acked %d, failed %d", sent, acked, failed)
}

// message builds the Kafka record for ev. Records are keyed by domain and
// room so one room's events stay ordered within a partition.
func message(topic string, ev events.Event) (*kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	key := strconv.Itoa(ev.DomainID) + "/" + strconv.Itoa(ev.Data.RoomID)
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
		Timestamp:      ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
