// Package events publishes domain events to Kafka, so that other services can follow
// what happens on the platform without polling the database.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the topic events are written to unless configured otherwise
const DefaultTopic = "kumii_events"

// all published event types
const (
	TypeNotificationCreated = "notification.created"
	TypeModerationAction    = "moderation.action"
	TypeMessageCreated      = "message.created"
	TypePostCreated         = "post.created"
)

// Event is a domain event. Events with the same key end up on the same partition and
// keep their order.
type Event struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New returns a new event with the current time. Payload can be an object or a []byte
func New(eventType, key string, payload interface{}) Event {
	data, ok := payload.([]byte)
	if !ok {
		data, _ = json.Marshal(payload)
	}
	return Event{Type: eventType, Key: key, Timestamp: time.Now().UTC(), Payload: data}
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop returns a publisher which drops all events
func Nop() Publisher {
	return nop{}
}

type nop struct{}

func (nop) Publish(ctx context.Context, events ...Event) error { return nil }
func (nop) Close() error                                       { return nil }

// writeTimeout bounds a background write to the broker
const writeTimeout = 10 * time.Second

// KafkaPublisher writes events to a Kafka topic
type KafkaPublisher struct {
	writer   *kafka.Writer
	inflight sync.WaitGroup
}

// NewKafkaPublisher returns a publisher for the comma separated list of brokers. An empty
// topic selects DefaultTopic.
func NewKafkaPublisher(brokers string, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	logger.Default().Infof("publishing events to kafka topic %s on %s", topic, strings.Join(addrs, ","))
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(addrs...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Message converts an event into the Kafka message written for it
func Message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(e.Key),
		Value:   value,
		Time:    e.Timestamp,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}, nil
}

// Publish hands events to a background write and returns without waiting for the
// broker. Write failures are logged with the logger of ctx.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		m, err := Message(e)
		if err != nil {
			return err
		}
		messages = append(messages, m)
	}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		if err := p.write(context.WithoutCancel(ctx), messages); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 5101: cannot publish %d events", len(messages))
		}
	}()
	return nil
}

func (p *KafkaPublisher) write(ctx context.Context, messages []kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, messages...)
}

// Close waits for background writes and closes the connection
func (p *KafkaPublisher) Close() error {
	p.inflight.Wait()
	return p.writer.Close()
}
