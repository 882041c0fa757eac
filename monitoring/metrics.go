package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	ExportsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_exports_total",
			Help: "Dashboard exports by format",
		},
		[]string{"format"},
	)

	ExportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_export_bytes_total",
			Help: "Bytes sent by dashboard exports",
		},
		[]string{"format"},
	)
)

var (
	VisitsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_visits_recorded_total",
			Help: "Rows written to the store, by direction and source",
		},
		[]string{"direction", "mode"},
	)

	RowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_rows_deleted_total",
			Help: "Rows removed from the store",
		},
		[]string{"kind"},
	)

	StoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketing_store_operation_seconds",
			Help:    "Duration of store loads and saves",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StatsCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_stats_cache_total",
			Help: "Stats cache lookups by result",
		},
		[]string{"result"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_events_published_total",
			Help: "Visit events sent to Kafka",
		},
		[]string{"event", "status"},
	)

	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_events_consumed_total",
			Help: "Visit events handled by the consumer",
		},
		[]string{"event", "status"},
	)

	BotUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketing_bot_updates_total",
			Help: "Telegram updates handled, by command",
		},
		[]string{"command"},
	)

	BotPollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketing_bot_poll_errors_total",
			Help: "Failed Telegram poll iterations",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(ExportsServed)
		prometheus.MustRegister(ExportBytes)
		prometheus.MustRegister(VisitsRecorded)
		prometheus.MustRegister(RowsDeleted)
		prometheus.MustRegister(StoreDuration)
		prometheus.MustRegister(StatsCache)
		prometheus.MustRegister(EventsPublished)
		prometheus.MustRegister(EventsConsumed)
		prometheus.MustRegister(BotUpdates)
		prometheus.MustRegister(BotPollErrors)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
