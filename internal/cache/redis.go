// Package cache keeps recognizer responses out of the inference hot
// path. Cached entries hold span offsets, labels and scores only; the
// matched substrings are re-derived from the in-memory text, so no
// sensitive value is ever written to Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/recognizer"
)

// SpanCache is a Redis-backed cache of recognizer results, keyed by a
// hash of (model, document). Failures are soft: a broken cache behaves
// like a permanent miss.
type SpanCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   int64
	misses int64
}

// NewSpanCache connects to Redis and verifies the connection.
func NewSpanCache(config *Config, logger *zap.Logger) (*SpanCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Span cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("default_ttl", config.DefaultTTL),
	)

	return &SpanCache{client: client, config: config, logger: logger}, nil
}

// Get returns the cached spans for a (model, text) pair.
func (sc *SpanCache) Get(ctx context.Context, model, text string) ([]recognizer.Span, bool) {
	key := sc.key(model, text)
	data, err := sc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&sc.misses, 1)
		return nil, false
	}
	if err != nil {
		sc.logger.Warn("Span cache lookup failed", zap.Error(err))
		atomic.AddInt64(&sc.misses, 1)
		return nil, false
	}

	var spans []recognizer.Span
	if err := json.Unmarshal([]byte(data), &spans); err != nil {
		sc.logger.Warn("Dropping corrupted span cache entry", zap.Error(err))
		sc.client.Del(ctx, key)
		atomic.AddInt64(&sc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&sc.hits, 1)
	return spans, true
}

// Put stores the spans for a (model, text) pair with the default TTL.
func (sc *SpanCache) Put(ctx context.Context, model, text string, spans []recognizer.Span) {
	data, err := json.Marshal(spans)
	if err != nil {
		sc.logger.Warn("Failed to marshal spans for caching", zap.Error(err))
		return
	}
	if err := sc.client.Set(ctx, sc.key(model, text), data, sc.config.DefaultTTL).Err(); err != nil {
		sc.logger.Warn("Failed to cache spans", zap.Error(err))
	}
}

// GetStats returns cache performance counters.
func (sc *SpanCache) GetStats() Stats {
	hits := atomic.LoadInt64(&sc.hits)
	misses := atomic.LoadInt64(&sc.misses)
	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total) * 100
	}
	return stats
}

// Close closes the Redis connection.
func (sc *SpanCache) Close() error {
	if sc.client != nil {
		return sc.client.Close()
	}
	return nil
}

// key hashes the model and document into a stable cache key. The raw
// text never appears in the key.
func (sc *SpanCache) key(model, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(model))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))
	sum := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:ner:%s", sc.config.KeyPrefix, sum[:32])
}

// CachedRecognizer decorates a recognizer client with the span cache.
type CachedRecognizer struct {
	inner recognizer.Client
	cache *SpanCache
}

// NewCachedRecognizer wraps client so identical (model, document)
// requests hit Redis instead of the recognition service.
func NewCachedRecognizer(client recognizer.Client, cache *SpanCache) *CachedRecognizer {
	return &CachedRecognizer{inner: client, cache: cache}
}

// Recognize implements recognizer.Client.
func (cr *CachedRecognizer) Recognize(ctx context.Context, model, text string) ([]recognizer.Span, error) {
	if spans, ok := cr.cache.Get(ctx, model, text); ok {
		return spans, nil
	}
	spans, err := cr.inner.Recognize(ctx, model, text)
	if err != nil {
		return nil, err
	}
	cr.cache.Put(ctx, model, text, spans)
	return spans, nil
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	if idx := strings.LastIndex(parts[0], ":"); idx > strings.Index(parts[0], "//")+1 {
		parts[0] = parts[0][:idx+1] + "***"
	}
	return parts[0] + "@" + parts[1]
}
