package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/service"
	"marketing-analytics/utils"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeCache struct {
	data map[string]string
}

func (c *fakeCache) GetFromCache(ctx context.Context, key string) (string, error) {
	v, ok := c.data[key]
	if !ok {
		return "", utils.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) SetToCache(ctx context.Context, key, value string, expiration time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteFromCache(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (c *fakeCache) Close() error                                        { return nil }

type fakeIndex struct {
	docs map[string]interface{}
}

func (f *fakeIndex) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	f.docs[index+"/"+id] = document
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, index string, query map[string]interface{}) ([]json.RawMessage, error) {
	return nil, nil
}

func (f *fakeIndex) DeleteDocument(ctx context.Context, index, id string) error {
	delete(f.docs, index+"/"+id)
	return nil
}

func (f *fakeIndex) Close() error { return nil }

type brokenRepo struct {
	models.Repository
}

func (brokenRepo) SaveVisit(*models.Visit) error { return errors.New("connection refused") }

type sinks struct {
	repo  *models.PostgresRepository
	cache *fakeCache
	index *fakeIndex
}

func newSinks(t *testing.T) sinks {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo, err := models.NewGormRepository(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return sinks{
		repo:  repo,
		cache: &fakeCache{data: map[string]string{}},
		index: &fakeIndex{docs: map[string]interface{}{}},
	}
}

func (s sinks) consumer(reader MessageReader) *VisitConsumer {
	return NewVisitConsumer(reader, Options{
		Repo:       s.repo,
		Cache:      s.cache,
		ES:         s.index,
		Index:      "visits",
		RetryDelay: time.Millisecond,
		Logger:     log.New(io.Discard, "", 0),
	})
}

func testVisit(id, service string, price int) models.Visit {
	return models.Visit{
		VisitID:    id,
		ClientID:   "client-1",
		Date:       "2026-10-19 10:00:00",
		Direction:  models.DirectionChop,
		ClientName: "Ivan",
		Phone:      "1",
		Service:    service,
		Price:      price,
	}
}

func message(t *testing.T, offset int64, event service.VisitEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	msg := utils.NewVisitMessage(utils.VisitMessage{
		Topic:     "visit_events",
		EventType: event.Event,
		Payload:   data,
	})
	msg.Offset = offset
	return msg
}

func TestHandleEventMirrorsVisit(t *testing.T) {
	ctx := context.Background()
	s := newSinks(t)
	c := s.consumer(&fakeReader{})

	v := testVisit("v1", "Haircut", 900)
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &v}))

	got, err := s.repo.GetVisitByID("v1")
	require.NoError(t, err)
	assert.Equal(t, v, *got)
	assert.Contains(t, s.cache.data, models.VisitCacheKey("v1"))
	assert.Contains(t, s.index.docs, "visits/v1")

	// повтор события не создаёт дубликатов
	v.Service, v.Price = "Beard", 500
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitUpdated, Visit: &v}))
	visits, err := s.repo.ListClientVisits("client-1")
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "Beard", visits[0].Service)
}

func TestHandleEventDeletesVisits(t *testing.T) {
	ctx := context.Background()
	s := newSinks(t)
	c := s.consumer(&fakeReader{})

	a, b := testVisit("v1", "Haircut", 900), testVisit("v2", "Beard", 500)
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &a}))
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &b}))

	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{
		Event:   service.EventVisitsDeleted,
		Removed: []models.Visit{a, b},
	}))

	visits, err := s.repo.ListClientVisits("client-1")
	require.NoError(t, err)
	assert.Empty(t, visits)
	assert.Empty(t, s.cache.data)
	assert.Empty(t, s.index.docs)
}

func TestHandleEventUpdateDropsCollapsedRows(t *testing.T) {
	ctx := context.Background()
	s := newSinks(t)
	c := s.consumer(&fakeReader{})

	a, b := testVisit("v1", "Haircut", 900), testVisit("v2", "Beard", 500)
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &a}))
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &b}))

	a.Service, a.Price = "VIP", 1400
	require.NoError(t, c.HandleEvent(ctx, service.VisitEvent{
		Event:   service.EventVisitUpdated,
		Visit:   &a,
		Removed: []models.Visit{b},
	}))

	visits, err := s.repo.ListClientVisits("client-1")
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "VIP", visits[0].Service)
	assert.NotContains(t, s.cache.data, models.VisitCacheKey("v2"))
	assert.NotContains(t, s.index.docs, "visits/v2")
}

func TestHandleEventRejectsRecordWithoutVisit(t *testing.T) {
	c := newSinks(t).consumer(&fakeReader{})
	err := c.HandleEvent(context.Background(), service.VisitEvent{ID: "e1", Event: service.EventVisitRecorded})
	assert.Error(t, err)
}

func TestHandleEventIgnoresUnknownType(t *testing.T) {
	c := newSinks(t).consumer(&fakeReader{})
	assert.NoError(t, c.HandleEvent(context.Background(), service.VisitEvent{Event: "client_created"}))
}

func TestProcessMessageCommitsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	s := newSinks(t)
	v := testVisit("v1", "Haircut", 900)
	reader := &fakeReader{messages: []kafka.Message{
		message(t, 7, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &v}),
		{Offset: 8, Value: []byte("{broken")},
	}}
	reader.messages[1].Headers = []kafka.Header{{Key: utils.HeaderEventType, Value: []byte(service.EventVisitUpdated)}}
	invalid := monitoring.EventsConsumed.WithLabelValues(service.EventVisitUpdated, "invalid")
	before := testutil.ToFloat64(invalid)
	c := s.consumer(reader)

	c.processMessage(ctx)
	c.processMessage(ctx)

	assert.Equal(t, []int64{7, 8}, reader.committed)
	assert.Equal(t, before+1, testutil.ToFloat64(invalid))
	_, err := s.repo.GetVisitByID("v1")
	assert.NoError(t, err)
}

func TestProcessMessageLeavesFailedEventUncommitted(t *testing.T) {
	v := testVisit("v1", "Haircut", 900)
	reader := &fakeReader{messages: []kafka.Message{
		message(t, 3, service.VisitEvent{Event: service.EventVisitRecorded, Visit: &v}),
	}}
	c := NewVisitConsumer(reader, Options{
		Repo:       brokenRepo{},
		RetryDelay: time.Millisecond,
		Logger:     log.New(io.Discard, "", 0),
	})

	c.processMessage(context.Background())

	assert.Empty(t, reader.committed)
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newSinks(t).consumer(&fakeReader{})

	c.Start(ctx)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
