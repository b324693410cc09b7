// Package kafkasink mirrors verdict events onto a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrNilEvent is returned when Publish is given a nil payload.
var ErrNilEvent = errors.New("nil event")

const (
	writeTimeout = 10 * time.Second
	// Publish writes one message at a time; the writer's default 1s batch
	// window would stall every call.
	batchTimeout = 10 * time.Millisecond
)

// Keyed payloads choose their own partition key.
type Keyed interface {
	PartitionKey() string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON events to one topic. The NATS subject travels in the
// "subject" header.
type Publisher struct {
	w     messageWriter
	topic string
}

// NewPublisher creates a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	return &Publisher{w: newWriter(brokers, topic), topic: topic}, nil
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           batchTimeout,
	}
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) Publish(subject string, data any) error {
	if data == nil {
		return ErrNilEvent
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := kafka.Message{
		Value:   payload,
		Headers: []kafka.Header{{Key: "subject", Value: []byte(subject)}},
	}
	if k, ok := data.(Keyed); ok {
		msg.Key = []byte(k.PartitionKey())
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
