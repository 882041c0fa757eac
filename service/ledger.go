// Package service is the single entry point both front ends use to read and
// change the visit store.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/stats"
	"marketing-analytics/utils"
)

type Options struct {
	Store     models.Store
	Normalize models.Normalizer
	// LegacyUpsert keeps one row per client and overwrites it on a repeat visit.
	LegacyUpsert bool

	Events utils.KafkaProducer
	Topic  string

	Cache    utils.RedisClient
	CacheTTL time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

// Ledger serialises every load-modify-save cycle of the store behind one
// mutex, so the dashboard and the bot can share it inside one process.
type Ledger struct {
	mu sync.Mutex

	store        models.Store
	normalize    models.Normalizer
	legacyUpsert bool

	events   utils.KafkaProducer
	topic    string
	inflight sync.WaitGroup

	cache    utils.RedisClient
	cacheTTL time.Duration

	logger *log.Logger
	now    func() time.Time
}

// VisitResult describes a recorded visit for confirmation messages.
type VisitResult struct {
	Visit     models.Visit `json:"visit"`
	NewClient bool         `json:"new_client"`
	// VisitCount is the number of rows of this client after the write.
	VisitCount int `json:"visit_count"`
	// Updated is set when legacy mode overwrote an existing row.
	Updated bool `json:"updated"`
}

// NewLedger loads the store once so that any legacy backfill happens before
// the first request.
func NewLedger(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	l := &Ledger{
		store:        opts.Store,
		normalize:    opts.Normalize,
		legacyUpsert: opts.LegacyUpsert,
		events:       opts.Events,
		topic:        opts.Topic,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if l.normalize == nil {
		l.normalize = models.RawIdentity
	}
	if l.topic == "" {
		l.topic = "visit_events"
	}
	if l.cacheTTL <= 0 {
		l.cacheTTL = 5 * time.Minute
	}
	if l.logger == nil {
		l.logger = log.New(os.Stdout, "LEDGER: ", log.LstdFlags)
	}
	if l.now == nil {
		l.now = time.Now
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Wait blocks until every background event has been sent.
func (l *Ledger) Wait() {
	l.inflight.Wait()
}

func (l *Ledger) load() (*models.Table, error) {
	start := time.Now()
	defer func() {
		monitoring.StoreDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	}()
	return l.store.Load()
}

func (l *Ledger) save(t *models.Table) error {
	start := time.Now()
	defer func() {
		monitoring.StoreDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	}()
	return l.store.Save(t)
}

// AddVisit validates in, prices it from the service table and records it.
// Validation happens before the store is touched.
func (l *Ledger) AddVisit(ctx context.Context, in models.VisitInput) (VisitResult, error) {
	visit, err := models.NewVisit(in, l.now(), l.normalize)
	if err != nil {
		return VisitResult{}, err
	}

	l.mu.Lock()
	table, err := l.load()
	if err != nil {
		l.mu.Unlock()
		return VisitResult{}, err
	}

	previous := len(table.ByClient(visit.ClientID))
	result := VisitResult{NewClient: previous == 0}
	var dropped []models.Visit
	if l.legacyUpsert {
		result.Visit, dropped, result.Updated = table.UpsertByClient(visit)
		result.VisitCount = len(table.ByClient(visit.ClientID))
	} else {
		result.Visit = table.Append(visit)
		result.VisitCount = previous + 1
	}

	if err := l.save(table); err != nil {
		l.mu.Unlock()
		return VisitResult{}, err
	}
	l.mu.Unlock()

	mode := "append"
	event := newEvent(EventVisitRecorded, l.now())
	if result.Updated {
		mode = "upsert"
		event.Event = EventVisitUpdated
	}
	monitoring.VisitsRecorded.WithLabelValues(string(result.Visit.Direction), mode).Inc()
	stored := result.Visit
	event.Visit = &stored
	// строки, схлопнутые при upsert, уходят в том же событии
	event.Removed = dropped
	l.publish(stored.ClientID, event)
	l.invalidate(ctx)

	return result, nil
}

func (l *Ledger) AddMailingContact(ctx context.Context, in models.MailingInput) (models.Visit, error) {
	visit, err := models.NewMailingContact(in, l.now(), l.normalize)
	if err != nil {
		return models.Visit{}, err
	}

	l.mu.Lock()
	table, err := l.load()
	if err != nil {
		l.mu.Unlock()
		return models.Visit{}, err
	}
	visit = table.Append(visit)
	if err := l.save(table); err != nil {
		l.mu.Unlock()
		return models.Visit{}, err
	}
	l.mu.Unlock()

	monitoring.VisitsRecorded.WithLabelValues(string(visit.Direction), "append").Inc()
	event := newEvent(EventVisitRecorded, l.now())
	event.Visit = &visit
	l.publish(visit.ClientID, event)
	l.invalidate(ctx)

	return visit, nil
}

// DeleteClients permanently removes every row carrying one of names.
func (l *Ledger) DeleteClients(ctx context.Context, names []string) (int, error) {
	return l.deleteWhere(ctx, "client", func(t *models.Table) []models.Visit {
		return t.DeleteClients(names)
	})
}

// DeleteMailingContacts removes only Mailing rows carrying one of names.
func (l *Ledger) DeleteMailingContacts(ctx context.Context, names []string) (int, error) {
	return l.deleteWhere(ctx, "mailing", func(t *models.Table) []models.Visit {
		return t.DeleteMailingContacts(names)
	})
}

func (l *Ledger) deleteWhere(ctx context.Context, kind string, remove func(*models.Table) []models.Visit) (int, error) {
	l.mu.Lock()
	table, err := l.load()
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}
	removed := remove(table)
	if len(removed) == 0 {
		l.mu.Unlock()
		return 0, nil
	}
	if err := l.save(table); err != nil {
		l.mu.Unlock()
		return 0, err
	}
	l.mu.Unlock()

	monitoring.RowsDeleted.WithLabelValues(kind).Add(float64(len(removed)))

	// одно событие на клиента, чтобы сохранить порядок в партиции
	byClient := make(map[string][]models.Visit)
	var order []string
	for _, v := range removed {
		if _, ok := byClient[v.ClientID]; !ok {
			order = append(order, v.ClientID)
		}
		byClient[v.ClientID] = append(byClient[v.ClientID], v)
	}
	for _, clientID := range order {
		event := newEvent(EventVisitsDeleted, l.now())
		event.Removed = byClient[clientID]
		l.publish(clientID, event)
	}
	l.invalidate(ctx)

	return len(removed), nil
}

// Snapshot returns a copy of every row in store order.
func (l *Ledger) Snapshot(ctx context.Context) ([]models.Visit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	table, err := l.load()
	if err != nil {
		return nil, err
	}
	return table.Snapshot(), nil
}

// Today returns the current date as stored in the Date column prefix.
func (l *Ledger) Today() string {
	return l.now().Format("2006-01-02")
}

// CurrentMonth returns the current YYYY-MM.
func (l *Ledger) CurrentMonth() string {
	return l.now().Format("2006-01")
}

func (l *Ledger) TodayStats(ctx context.Context) (stats.DayStats, error) {
	date := l.Today()
	return cachedStats(ctx, l, "today:"+date, func(visits []models.Visit) stats.DayStats {
		return stats.Today(visits, date)
	})
}

// MonthStats aggregates yearMonth (YYYY-MM); empty means the current month.
func (l *Ledger) MonthStats(ctx context.Context, yearMonth string) (stats.MonthStats, error) {
	if yearMonth == "" {
		yearMonth = l.CurrentMonth()
	}
	return cachedStats(ctx, l, "month:"+yearMonth, func(visits []models.Visit) stats.MonthStats {
		return stats.Month(visits, yearMonth)
	})
}

// ClientHistory resolves a display name to a client and returns its visits,
// newest first.
func (l *Ledger) ClientHistory(ctx context.Context, name string) (stats.ClientHistory, error) {
	l.mu.Lock()
	table, err := l.load()
	l.mu.Unlock()
	if err != nil {
		return stats.ClientHistory{}, err
	}

	name, _ = l.normalize(name, "")
	row, ok := table.FindClientByName(name)
	if !ok {
		return stats.ClientHistory{}, &models.ClientNotFoundError{Name: name}
	}
	return stats.History(table.Visits, row.ClientID), nil
}

func (l *Ledger) HistoryByClientID(ctx context.Context, clientID string) (stats.ClientHistory, error) {
	visits, err := l.Snapshot(ctx)
	if err != nil {
		return stats.ClientHistory{}, err
	}
	return stats.History(visits, clientID), nil
}

// Browse is the data view of the analytics page.
type Browse struct {
	Overview stats.Overview `json:"overview"`
	Rows     []models.Visit `json:"rows"`
}

// Browse summarises all commercial rows and returns the rows matching filter.
func (l *Ledger) Browse(ctx context.Context, filter stats.Filter) (Browse, error) {
	visits, err := l.Snapshot(ctx)
	if err != nil {
		return Browse{}, err
	}
	return Browse{
		Overview: stats.Summarize(visits),
		Rows:     filter.Apply(visits),
	}, nil
}

// Months lists the months with data, newest first, or the current month
// when the store is empty.
func (l *Ledger) Months(ctx context.Context) ([]string, error) {
	visits, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	months := stats.Months(visits)
	if len(months) == 0 {
		months = []string{l.CurrentMonth()}
	}
	return months, nil
}

func (l *Ledger) MailingContacts(ctx context.Context) ([]models.Visit, error) {
	return l.Filtered(ctx, stats.Filter{Directions: []models.Direction{models.DirectionMailing}})
}

func (l *Ledger) Filtered(ctx context.Context, filter stats.Filter) ([]models.Visit, error) {
	visits, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Apply(visits), nil
}

func (l *Ledger) ReferrerCandidates(ctx context.Context) ([]string, error) {
	visits, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return stats.ReferrerCandidates(visits), nil
}
