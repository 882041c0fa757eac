package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/utils"
)

// Event names published on the visit topic.
const (
	EventVisitRecorded = "visit_recorded"
	EventVisitUpdated  = "visit_updated"
	EventVisitsDeleted = "visits_deleted"
)

// VisitEvent is the Kafka message body. Removed lists deleted rows; on a
// visit_updated event these are rows of the same client collapsed by the
// legacy upsert.
type VisitEvent struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Visit      *models.Visit  `json:"visit,omitempty"`
	Removed    []models.Visit `json:"removed,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func newEvent(name string, now time.Time) VisitEvent {
	return VisitEvent{
		ID:         uuid.NewString(),
		Event:      name,
		OccurredAt: now.UTC(),
	}
}

// publish sends the event in the background; failures are logged and never
// reach the caller, the store write has already succeeded.
func (l *Ledger) publish(key string, event VisitEvent) {
	if l.events == nil {
		return
	}

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		jsonData, err := json.Marshal(event)
		if err != nil {
			l.logger.Printf("Failed to marshal Kafka event: %v", err)
			return
		}

		err = l.events.PublishVisitEvent(ctx, utils.VisitMessage{
			Topic:      l.topic,
			ClientID:   key,
			EventType:  event.Event,
			Payload:    jsonData,
			OccurredAt: event.OccurredAt,
		})
		if err != nil {
			monitoring.EventsPublished.WithLabelValues(event.Event, "error").Inc()
			l.logger.Printf("Failed to send Kafka message: %v", err)
			return
		}
		monitoring.EventsPublished.WithLabelValues(event.Event, "ok").Inc()
	}()
}
