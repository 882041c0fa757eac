package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketing-analytics/bot"
	"marketing-analytics/config"
	"marketing-analytics/handlers"
	"marketing-analytics/middleware"
	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/service"
	"marketing-analytics/utils"
)

// app holds the connections shared by the subcommands. Optional integrations
// stay nil when their address is not configured.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	cache    utils.RedisClient
	producer utils.KafkaProducer
	search   utils.ElasticsearchClient
	mirror   models.Repository
	ledger   *service.Ledger

	closers []func() error
}

type appOptions struct {
	cache    bool
	events   bool
	search   bool
	database bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: utils.NewLogger("MARKETING: ", cfg.LogFile, cfg.LogMaxSizeMB),
	}
	// коллекторы нужны и боту, и консьюмеру, не только API
	monitoring.Init()

	if cfg.SentryDSN != "" {
		if err := utils.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppVersion); err != nil {
			a.logger.Printf("Sentry disabled: %v", err)
		} else {
			a.closers = append(a.closers, func() error {
				utils.FlushSentry()
				return nil
			})
		}
	}

	if err := a.connect(opts); err != nil {
		a.Close()
		return nil, err
	}

	ledger, err := service.NewLedger(service.Options{
		Store:        models.NewCSVStore(cfg.StorePath),
		Normalize:    cfg.Normalizer(),
		LegacyUpsert: cfg.LegacyUpsert,
		Events:       a.producer,
		Topic:        cfg.KafkaTopic,
		Cache:        a.cache,
		CacheTTL:     cfg.StatsCacheTTL,
		Logger:       a.logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store %s: %w", cfg.StorePath, err)
	}
	a.ledger = ledger
	// события отправляются в фоне, дожидаемся их до закрытия продюсера
	a.closers = append([]func() error{func() error {
		ledger.Wait()
		return nil
	}}, a.closers...)

	return a, nil
}

func (a *app) connect(opts appOptions) error {
	if opts.cache && a.cfg.RedisHost != "" {
		cache, err := connectRedis(a.logger, a.cfg.RedisHost, a.cfg.RedisPassword)
		if err != nil {
			return err
		}
		a.cache = cache
		a.closers = append(a.closers, cache.Close)
	}

	if opts.events && a.cfg.KafkaBroker != "" {
		producer, err := utils.NewKafkaProducer(a.cfg.KafkaBroker)
		if err != nil {
			return err
		}
		a.producer = producer
		a.closers = append(a.closers, producer.Close)
	}

	if opts.search && a.cfg.ElasticsearchURL != "" {
		es, err := utils.NewElasticsearchClient(a.cfg.ElasticsearchURL)
		if err != nil {
			return err
		}
		a.search = es
		a.closers = append(a.closers, es.Close)
	}

	if opts.database && a.cfg.DatabaseEnabled() {
		repo, err := models.NewPostgresRepository(a.cfg.Database)
		if err != nil {
			return err
		}
		a.mirror = repo
		a.closers = append(a.closers, repo.Close)
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Printf("Error during shutdown: %v", err)
		}
	}
	a.closers = nil
}

// connectRedis retries because Redis usually starts alongside the service.
func connectRedis(logger *log.Logger, host, password string) (utils.RedisClient, error) {
	var (
		client utils.RedisClient
		err    error
	)
	maxRetries := 5
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		client, err = utils.NewRedisClient(host, password)
		if err == nil {
			return client, nil
		}
		logger.Printf("Attempt %d: Failed to connect to Redis: %v", i+1, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("failed to initialize Redis after %d attempts: %w", maxRetries, err)
}

func (a *app) router() *gin.Engine {
	router := gin.New()
	router.Use(
		gin.LoggerWithWriter(a.logger.Writer()),
		gin.Recovery(),
		middleware.SentryMiddleware(),
		middleware.PrometheusMetrics("/metrics", "/api/v1/health"),
		middleware.ErrorHandler(),
	)
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	api := router.Group("/api/v1")
	api.GET("/health", a.health)
	handlers.NewClientHandler(a.ledger, a.mirror, a.cache, a.search, a.cfg.ElasticsearchIndex).Register(api)

	return router
}

// metricsRouter serves only /metrics, for commands without the dashboard.
func (a *app) metricsRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))
	return router
}

// serveMetrics starts the /metrics listener when MetricsAddr is set. It is
// shut down with the other connections in Close.
func (a *app) serveMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           a.metricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Printf("Metrics are served on %s", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("Metrics server error: %v", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func (a *app) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	details := gin.H{}
	status := http.StatusOK

	if _, err := a.ledger.Snapshot(ctx); err != nil {
		details["store"] = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		details["store"] = "available"
	}

	// Простая проверка Redis
	if a.cache != nil {
		if err := a.cache.SetToCache(ctx, "healthcheck", "ping", 10*time.Second); err != nil {
			details["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			details["redis"] = "available"
		}
	}

	if status != http.StatusOK {
		c.JSON(status, gin.H{"status": "degraded", "details": details})
		return
	}
	c.JSON(status, gin.H{"status": "ok", "details": details})
}

func (a *app) newBot() (*bot.Bot, error) {
	if a.cfg.Bot.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	var cursor bot.CursorStore = bot.NewFileCursor(a.cfg.Bot.CursorFile)
	if a.cache != nil {
		cursor = bot.NewRedisCursor(a.cache)
	}

	return bot.New(bot.Options{
		Client:      bot.NewClient(a.cfg.Bot.APIURL, a.cfg.Bot.Token, a.cfg.Bot.PollTimeout),
		Ledger:      a.ledger,
		Cursor:      cursor,
		PollTimeout: a.cfg.Bot.PollTimeout,
		IdleDelay:   a.cfg.Bot.IdleDelay,
		ErrorDelay:  a.cfg.Bot.ErrorDelay,
		Logger:      a.logger,
	}), nil
}
