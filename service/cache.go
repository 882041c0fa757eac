package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketing-analytics/models"
	"marketing-analytics/monitoring"
	"marketing-analytics/utils"
)

// generationKey is bumped on every write; cached aggregates are keyed by it,
// so a write makes every older entry unreachable at once.
const generationKey = "stats:generation"

func cachedStats[T any](ctx context.Context, l *Ledger, key string, compute func([]models.Visit) T) (T, error) {
	var zero T
	if l.cache == nil {
		visits, err := l.Snapshot(ctx)
		if err != nil {
			return zero, err
		}
		return compute(visits), nil
	}

	fullKey := fmt.Sprintf("stats:%s:%s", l.generation(ctx), key)
	raw, err := l.cache.GetFromCache(ctx, fullKey)
	switch {
	case err == nil:
		var out T
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			monitoring.StatsCache.WithLabelValues("hit").Inc()
			return out, nil
		}
		l.logger.Printf("Discarding undecodable cache entry %s", fullKey)
	case !errors.Is(err, utils.ErrCacheMiss):
		l.logger.Printf("Stats cache read failed: %v", err)
	}
	monitoring.StatsCache.WithLabelValues("miss").Inc()

	visits, err := l.Snapshot(ctx)
	if err != nil {
		return zero, err
	}
	out := compute(visits)

	if data, err := json.Marshal(out); err == nil {
		if err := l.cache.SetToCache(ctx, fullKey, string(data), l.cacheTTL); err != nil {
			l.logger.Printf("Stats cache write failed: %v", err)
		}
	}
	return out, nil
}

func (l *Ledger) generation(ctx context.Context) string {
	gen, err := l.cache.GetFromCache(ctx, generationKey)
	if err != nil {
		if !errors.Is(err, utils.ErrCacheMiss) {
			l.logger.Printf("Stats cache generation read failed: %v", err)
		}
		return "0"
	}
	return gen
}

// invalidate drops every cached aggregate after a write.
func (l *Ledger) invalidate(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.Incr(ctx, generationKey); err != nil {
		l.logger.Printf("Stats cache invalidation failed: %v", err)
	}
}
