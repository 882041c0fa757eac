package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Headers set on every visit event, so consumers can route a message
// without decoding its body.
const (
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"

	eventContentType = "application/json"
)

// VisitMessage is one encoded visit event. ClientID is the message key:
// events of one client land on the same partition and keep their order.
type VisitMessage struct {
	Topic      string
	ClientID   string
	EventType  string
	Payload    []byte
	OccurredAt time.Time
}

type KafkaProducer interface {
	PublishVisitEvent(ctx context.Context, msg VisitMessage) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(broker string) (KafkaProducer, error) {
	if broker == "" {
		broker = "localhost:9092"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	// Проверка подключения
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	return &kafkaProducer{writer: writer}, nil
}

func (k *kafkaProducer) PublishVisitEvent(ctx context.Context, msg VisitMessage) error {
	if err := k.writer.WriteMessages(ctx, NewVisitMessage(msg)); err != nil {
		return fmt.Errorf("publish %s for client %s: %w", msg.EventType, msg.ClientID, err)
	}
	return nil
}

func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}

// NewVisitMessage builds the wire message for a visit event.
func NewVisitMessage(msg VisitMessage) kafka.Message {
	return kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.ClientID),
		Value: msg.Payload,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
			{Key: HeaderContentType, Value: []byte(eventContentType)},
		},
	}
}

// EventType reads the event-type header, "unknown" when it is absent.
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return "unknown"
}
