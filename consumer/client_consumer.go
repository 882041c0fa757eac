// Package consumer mirrors visit events from Kafka into the relational
// database, the search index and the Redis visit cache.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/service"
	"marketing-analytics/utils"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	Repo  models.Repository
	Cache utils.RedisClient
	ES    utils.ElasticsearchClient
	Index string

	CacheTTL   time.Duration
	RetryDelay time.Duration
	Logger     *log.Logger
}

type VisitConsumer struct {
	repo  models.Repository
	cache utils.RedisClient
	es    utils.ElasticsearchClient
	index string

	cacheTTL   time.Duration
	retryDelay time.Duration
	logger     *log.Logger

	reader MessageReader
	done   chan struct{}
}

// NewReader opens a group reader on topic.
func NewReader(broker, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
		MaxWait: 10 * time.Second,
	})
}

func NewVisitConsumer(reader MessageReader, opts Options) *VisitConsumer {
	c := &VisitConsumer{
		repo:       opts.Repo,
		cache:      opts.Cache,
		es:         opts.ES,
		index:      opts.Index,
		cacheTTL:   opts.CacheTTL,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		reader:     reader,
		done:       make(chan struct{}),
	}
	if c.index == "" {
		c.index = "visits"
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = 24 * time.Hour
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 5 * time.Second
	}
	if c.logger == nil {
		c.logger = log.New(os.Stdout, "CONSUMER: ", log.LstdFlags|log.Lshortfile)
	}
	return c
}

// Start processes messages until ctx is cancelled. Done is closed when the
// loop has exited.
func (c *VisitConsumer) Start(ctx context.Context) {
	c.logger.Println("Starting Kafka consumer...")

	go func() {
		defer close(c.done)
		for ctx.Err() == nil {
			c.processMessage(ctx)
		}
	}()
}

func (c *VisitConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *VisitConsumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close Kafka reader: %w", err)
	}
	return nil
}

func (c *VisitConsumer) processMessage(ctx context.Context) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Printf("Kafka read error: %v (will retry)", err)
		sleep(ctx, c.retryDelay)
		return
	}

	var event service.VisitEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// битое сообщение не лечится повтором, пропускаем его
		eventType := utils.EventType(msg)
		c.logger.Printf("Failed to unmarshal %s message at offset %d: %v", eventType, msg.Offset, err)
		monitoring.EventsConsumed.WithLabelValues(eventType, "invalid").Inc()
		c.commit(ctx, msg)
		return
	}

	if err := c.HandleEvent(ctx, event); err != nil {
		monitoring.EventsConsumed.WithLabelValues(event.Event, "error").Inc()
		c.logger.Printf("Failed to handle %s event %s: %v (will retry)", event.Event, event.ID, err)
		utils.CaptureError(err, map[string]interface{}{
			"event":  event.Event,
			"id":     event.ID,
			"offset": msg.Offset,
		})
		// offset не коммитим: сообщение будет прочитано снова
		sleep(ctx, c.retryDelay)
		return
	}

	monitoring.EventsConsumed.WithLabelValues(event.Event, "ok").Inc()
	c.commit(ctx, msg)
}

func (c *VisitConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Printf("Failed to commit offset %d: %v", msg.Offset, err)
	}
}

// HandleEvent applies one event to every configured mirror. Only a database
// failure is returned; the database is the mirror other sinks are rebuilt from.
func (c *VisitConsumer) HandleEvent(ctx context.Context, event service.VisitEvent) error {
	switch event.Event {
	case service.EventVisitRecorded, service.EventVisitUpdated:
		if event.Visit == nil {
			return fmt.Errorf("%s event %s carries no visit", event.Event, event.ID)
		}
		if len(event.Removed) > 0 {
			if err := c.handleVisitsDeleted(ctx, event.Removed); err != nil {
				return err
			}
		}
		return c.handleVisitSaved(ctx, *event.Visit)
	case service.EventVisitsDeleted:
		return c.handleVisitsDeleted(ctx, event.Removed)
	default:
		c.logger.Printf("Unknown event type: %s", event.Event)
		return nil
	}
}

func (c *VisitConsumer) handleVisitSaved(ctx context.Context, visit models.Visit) error {
	// 1. Сохраняем в PostgreSQL
	if c.repo != nil {
		if err := c.repo.SaveVisit(&visit); err != nil {
			return fmt.Errorf("save visit %s: %w", visit.VisitID, err)
		}
	}

	// 2. Сохраняем в Redis
	if c.cache != nil {
		visitJSON, err := json.Marshal(visit)
		if err != nil {
			c.logger.Printf("Failed to marshal visit to JSON: %v", err)
		} else if err := c.cache.SetToCache(ctx, models.VisitCacheKey(visit.VisitID), string(visitJSON), c.cacheTTL); err != nil {
			c.logger.Printf("Failed to cache visit: %v", err)
		}
	}

	// 3. Индексируем в Elasticsearch
	if c.es != nil {
		if err := c.es.IndexDocument(ctx, c.index, visit.VisitID, visit); err != nil {
			c.logger.Printf("Failed to index visit in Elasticsearch: %v", err)
		}
	}

	c.logger.Printf("Processed visit %s of client %s", visit.VisitID, visit.ClientID)
	return nil
}

func (c *VisitConsumer) handleVisitsDeleted(ctx context.Context, removed []models.Visit) error {
	ids := make([]string, 0, len(removed))
	keys := make([]string, 0, len(removed))
	for _, v := range removed {
		ids = append(ids, v.VisitID)
		keys = append(keys, models.VisitCacheKey(v.VisitID))
	}

	if c.repo != nil {
		if err := c.repo.DeleteVisits(ids); err != nil {
			return fmt.Errorf("delete %d visits: %w", len(ids), err)
		}
	}

	if c.cache != nil {
		if err := c.cache.DeleteFromCache(ctx, keys...); err != nil {
			c.logger.Printf("Failed to delete visits from cache: %v", err)
		}
	}

	if c.es != nil {
		var failed []error
		for _, id := range ids {
			if err := c.es.DeleteDocument(ctx, c.index, id); err != nil {
				failed = append(failed, err)
			}
		}
		if err := errors.Join(failed...); err != nil {
			c.logger.Printf("Failed to delete visits from Elasticsearch: %v", err)
		}
	}

	c.logger.Printf("Processed deletion of %d visits", len(ids))
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
