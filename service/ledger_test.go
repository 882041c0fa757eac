package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketing-analytics/models"
	"marketing-analytics/stats"
	"marketing-analytics/utils"
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	visits  []models.Visit
	loads   int
	saves   int
	saveErr error
}

func (s *memStore) Load() (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return models.NewTable(append([]models.Visit(nil), s.visits...)...), nil
}

func (s *memStore) Save(t *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.visits = t.Snapshot()
	return nil
}

type sentMessage struct {
	topic string
	key   string
	event VisitEvent
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (p *fakeProducer) PublishVisitEvent(ctx context.Context, msg utils.VisitMessage) error {
	var event VisitEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return err
	}
	if event.Event != msg.EventType {
		return fmt.Errorf("event-type header %q, body %q", msg.EventType, event.Event)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{topic: msg.Topic, key: msg.ClientID, event: event})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) GetFromCache(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", utils.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) SetToCache(ctx context.Context, key, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteFromCache(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(c.data[key], 10, 64)
	n++
	c.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (c *fakeCache) Close() error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func newTestLedger(t *testing.T, store models.Store, mutate func(*Options)) *Ledger {
	t.Helper()
	c := &clock{now: testNow}
	opts := Options{
		Store:  store,
		Logger: log.New(io.Discard, "", 0),
		Now:    c.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	l, err := NewLedger(opts)
	require.NoError(t, err)
	return l
}

func chopVisit(name, phone, service string) models.VisitInput {
	return models.VisitInput{Direction: "Chop", ClientName: name, Phone: phone, Service: service}
}

func TestAddVisitReportsRepeatVisits(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &memStore{}, nil)

	first, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)
	assert.True(t, first.NewClient)
	assert.Equal(t, 1, first.VisitCount)

	second, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Beard"))
	require.NoError(t, err)
	assert.False(t, second.NewClient)
	assert.Equal(t, 2, second.VisitCount)
	assert.Equal(t, first.Visit.ClientID, second.Visit.ClientID)
	assert.NotEqual(t, first.Visit.VisitID, second.Visit.VisitID)

	visits, err := ledger.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, visits, 2)
}

func TestAddVisitRejectsBeforeTouchingStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	ledger := newTestLedger(t, store, nil)
	loads := store.loads

	_, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Massage"))
	assert.ErrorIs(t, err, models.ErrUnknownService)

	_, err = ledger.AddVisit(ctx, models.VisitInput{Direction: "Chop", Service: "VIP"})
	assert.ErrorIs(t, err, models.ErrMissingRequiredField)

	assert.Equal(t, loads, store.loads)
	assert.Zero(t, store.saves)
}

func TestAddVisitPersistenceFailure(t *testing.T) {
	store := &memStore{saveErr: fmt.Errorf("%w: disk full", models.ErrPersistence)}
	producer := &fakeProducer{}
	ledger := newTestLedger(t, store, func(o *Options) { o.Events = producer })

	_, err := ledger.AddVisit(context.Background(), chopVisit("Ivan", "1", "Haircut"))

	assert.ErrorIs(t, err, models.ErrPersistence)
	ledger.Wait()
	assert.Empty(t, producer.sent)
}

func TestLegacyUpsertKeepsOneRowPerClient(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &memStore{}, func(o *Options) { o.LegacyUpsert = true })

	first, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)
	assert.False(t, first.Updated)

	second, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Beard"))
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.False(t, second.NewClient)
	assert.Equal(t, 1, second.VisitCount)
	assert.Equal(t, first.Visit.VisitID, second.Visit.VisitID)

	visits, err := ledger.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "Beard", visits[0].Service)
}

func TestLegacyUpsertCollapsesAppendModeRows(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	appendMode := newTestLedger(t, store, nil)

	first, err := appendMode.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)
	_, err = appendMode.AddVisit(ctx, chopVisit("Anna", "2", "Beard"))
	require.NoError(t, err)
	second, err := appendMode.AddVisit(ctx, chopVisit("Ivan", "1", "Beard"))
	require.NoError(t, err)

	producer := &fakeProducer{}
	legacy := newTestLedger(t, store, func(o *Options) {
		o.LegacyUpsert = true
		o.Events = producer
	})
	result, err := legacy.AddVisit(ctx, chopVisit("Ivan", "1", "VIP"))
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, 1, result.VisitCount)
	assert.Equal(t, first.Visit.VisitID, result.Visit.VisitID)

	history, err := legacy.ClientHistory(ctx, "Ivan")
	require.NoError(t, err)
	require.Len(t, history.Visits, 1)
	assert.Equal(t, "VIP", history.Visits[0].Service)

	legacy.Wait()
	require.Len(t, producer.sent, 1)
	event := producer.sent[0].event
	assert.Equal(t, EventVisitUpdated, event.Event)
	require.Len(t, event.Removed, 1)
	assert.Equal(t, second.Visit.VisitID, event.Removed[0].VisitID)
}

func TestEventsPublishedPerWrite(t *testing.T) {
	ctx := context.Background()
	producer := &fakeProducer{}
	ledger := newTestLedger(t, &memStore{}, func(o *Options) {
		o.Events = producer
		o.Topic = "visits"
	})

	recorded, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)
	_, err = ledger.AddMailingContact(ctx, models.MailingInput{ClientName: "Ivan", MailingConsent: models.ConsentYes})
	require.NoError(t, err)
	removed, err := ledger.DeleteClients(ctx, []string{"Ivan"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ledger.Wait()
	require.Len(t, producer.sent, 4)

	byEvent := map[string]int{}
	for _, m := range producer.sent {
		assert.Equal(t, "visits", m.topic)
		assert.NotEmpty(t, m.event.ID)
		byEvent[m.event.Event]++
		if m.event.Event == EventVisitsDeleted {
			require.Len(t, m.event.Removed, 1)
			assert.Equal(t, m.key, m.event.Removed[0].ClientID)
		}
		if m.event.Visit != nil && m.event.Visit.VisitID == recorded.Visit.VisitID {
			assert.Equal(t, recorded.Visit.ClientID, m.key)
		}
	}
	assert.Equal(t, 2, byEvent[EventVisitRecorded])
	assert.Equal(t, 2, byEvent[EventVisitsDeleted])
}

func TestDeleteMailingContacts(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &memStore{}, nil)

	_, err := ledger.AddVisit(ctx, chopVisit("Maria", "1", "Haircut"))
	require.NoError(t, err)
	_, err = ledger.AddMailingContact(ctx, models.MailingInput{ClientName: "Maria", MailingConsent: models.ConsentNo})
	require.NoError(t, err)

	removed, err := ledger.DeleteMailingContacts(ctx, []string{"Maria"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	contacts, err := ledger.MailingContacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)

	removed, err = ledger.DeleteMailingContacts(ctx, []string{"Maria"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestClientHistoryByName(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &memStore{}, nil)

	for _, service := range []string{"Haircut", "Beard", "Haircut+beard"} {
		_, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", service))
		require.NoError(t, err)
	}

	h, err := ledger.ClientHistory(ctx, "Ivan")
	require.NoError(t, err)
	assert.Equal(t, 3, h.TotalVisits)
	assert.Equal(t, 2800, h.TotalSpent)
	assert.Equal(t, "Haircut+beard", h.Visits[0].Service)

	_, err = ledger.ClientHistory(ctx, "Nobody")
	assert.ErrorIs(t, err, models.ErrClientNotFound)

	byID, err := ledger.HistoryByClientID(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, byID.TotalVisits)
	assert.Zero(t, byID.AverageSpent)
}

func TestStatsAreCachedUntilNextWrite(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	cache := newFakeCache()
	ledger := newTestLedger(t, store, func(o *Options) { o.Cache = cache })

	_, err := ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)

	day, err := ledger.TodayStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 900, day.Income)

	loads := store.loads
	again, err := ledger.TodayStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, day, again)
	assert.Equal(t, loads, store.loads, "second read must be served from cache")

	_, err = ledger.AddVisit(ctx, chopVisit("Anna", "2", "Beard"))
	require.NoError(t, err)

	day, err = ledger.TodayStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1400, day.Income)
	assert.Equal(t, 2, day.Clients)
	assert.Equal(t, 560.0, day.Salary)

	month, err := ledger.MonthStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10", month.Month)
	assert.Equal(t, 1400, month.Income)
	assert.Equal(t, 1400, month.Direction(models.DirectionChop).Income)
}

func TestBrowseAndMonths(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &memStore{}, nil)

	months, err := ledger.Months(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10"}, months)

	_, err = ledger.AddVisit(ctx, chopVisit("Ivan", "1", "Haircut"))
	require.NoError(t, err)
	_, err = ledger.AddVisit(ctx, models.VisitInput{
		Direction: "Study", ClientName: "Anna", Phone: "2", Service: "Kids", ReferredBy: "Ivan",
	})
	require.NoError(t, err)
	_, err = ledger.AddMailingContact(ctx, models.MailingInput{ClientName: "Maria", MailingConsent: models.ConsentYes})
	require.NoError(t, err)

	browse, err := ledger.Browse(ctx, stats.Filter{Directions: []models.Direction{models.DirectionStudy}})
	require.NoError(t, err)
	assert.Equal(t, stats.Overview{Income: 1700, Clients: 2, Services: 2, AverageCheck: 850}, browse.Overview)
	require.Len(t, browse.Rows, 1)
	assert.Equal(t, "Ivan", browse.Rows[0].ReferredBy)

	names, err := ledger.ReferrerCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna", "Ivan", "Maria"}, names)
}

func TestConcurrentWritersLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := models.NewCSVStore(filepath.Join(t.TempDir(), "db.csv"))
	ledger := newTestLedger(t, store, nil)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.AddVisit(ctx, chopVisit(fmt.Sprintf("Client %d", i), strconv.Itoa(i), "VIP"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	table, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, writers, table.Len())
}

func TestNewLedgerRequiresStore(t *testing.T) {
	_, err := NewLedger(Options{})
	assert.Error(t, err)
}

func TestNewLedgerSurfacesMalformedStore(t *testing.T) {
	_, err := NewLedger(Options{Store: failingStore{err: models.ErrMalformedStore}})
	assert.True(t, errors.Is(err, models.ErrMalformedStore))
}

type failingStore struct{ err error }

func (f failingStore) Load() (*models.Table, error) { return nil, f.err }
func (f failingStore) Save(*models.Table) error     { return f.err }
