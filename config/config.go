// Package config reads the service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"marketing-analytics/models"
)

type Config struct {
	Port string
	// MetricsAddr serves /metrics for the bot and consume commands; empty disables it.
	MetricsAddr  string
	StorePath    string
	LegacyUpsert bool
	// CanonicalIdentity normalises names and phones before hashing.
	CanonicalIdentity bool

	LogFile      string
	LogMaxSizeMB int

	RedisHost     string
	RedisPassword string
	StatsCacheTTL time.Duration

	KafkaBroker string
	KafkaTopic  string
	KafkaGroup  string

	ElasticsearchURL   string
	ElasticsearchIndex string

	Database models.PostgresConfig

	SentryDSN  string
	AppEnv     string
	AppVersion string

	Bot BotConfig
}

type BotConfig struct {
	Token       string
	APIURL      string
	CursorFile  string
	PollTimeout time.Duration
	IdleDelay   time.Duration
	ErrorDelay  time.Duration
}

// Load reads envFile when it exists and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		StorePath:         getEnv("STORE_PATH", "marketing_database.csv"),
		LegacyUpsert:      getBool("LEGACY_UPSERT", false, &errs),
		CanonicalIdentity: getBool("CANONICAL_IDENTITY", false, &errs),

		LogFile:      os.Getenv("LOG_FILE"),
		LogMaxSizeMB: getInt("LOG_MAX_SIZE_MB", 10, &errs),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StatsCacheTTL: getDuration("STATS_CACHE_TTL", 5*time.Minute, &errs),

		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "visit_events"),
		KafkaGroup:  getEnv("KAFKA_GROUP", "marketing-analytics"),

		ElasticsearchURL:   os.Getenv("ELASTICSEARCH_URL"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "visits"),

		Database: models.PostgresConfig{
			Host:     os.Getenv("DB_HOST"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			Port:     getEnv("DB_PORT", "5432"),
		},

		SentryDSN:  os.Getenv("SENTRY_DSN"),
		AppEnv:     getEnv("APP_ENV", "development"),
		AppVersion: getEnv("APP_VERSION", "dev"),

		Bot: BotConfig{
			Token:       os.Getenv("TELEGRAM_TOKEN"),
			APIURL:      getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			CursorFile:  getEnv("BOT_CURSOR_FILE", "bot_cursor.json"),
			PollTimeout: getDuration("BOT_POLL_TIMEOUT", 10*time.Second, &errs),
			IdleDelay:   getDuration("BOT_IDLE_DELAY", time.Second, &errs),
			ErrorDelay:  getDuration("BOT_ERROR_DELAY", 5*time.Second, &errs),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalizer returns the identity policy selected by CanonicalIdentity.
func (c *Config) Normalizer() models.Normalizer {
	if c.CanonicalIdentity {
		return models.CanonicalIdentity
	}
	return models.RawIdentity
}

// DatabaseEnabled reports whether the relational mirror is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != "" && c.Database.Name != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
