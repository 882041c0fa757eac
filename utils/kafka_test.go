package utils

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewVisitMessage(t *testing.T) {
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	msg := NewVisitMessage(VisitMessage{
		Topic:      "visit_events",
		ClientID:   "cba2e1e26d0e1e9b7e984b80eb42e3f3",
		EventType:  "visit_recorded",
		Payload:    []byte(`{"event":"visit_recorded"}`),
		OccurredAt: at,
	})

	assert.Equal(t, "visit_events", msg.Topic)
	assert.Equal(t, []byte("cba2e1e26d0e1e9b7e984b80eb42e3f3"), msg.Key)
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "visit_recorded", EventType(msg))
	assert.Contains(t, msg.Headers, kafka.Header{Key: HeaderContentType, Value: []byte("application/json")})
}

func TestEventTypeWithoutHeader(t *testing.T) {
	assert.Equal(t, "unknown", EventType(kafka.Message{Value: []byte("{}")}))
	assert.Equal(t, "unknown", EventType(kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType}}}))
}
