package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "memoro:embed:"

// Cache memoizes query embeddings in Redis. Repeated assistant
// questions are common, and the model round trip is the latency floor
// of every retrieval call.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to Redis and returns a ready Cache.
func NewCache(redisURL string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns a cached vector for the text, refreshing its TTL.
func (c *Cache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	data, err := c.rdb.GetEx(ctx, cacheKey(model, text), c.ttl).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("embedding cache get failed", zap.Error(err))
		}
		return nil, false
	}
	vec, err := DecodeVector(data)
	if err != nil {
		c.logger.Warn("embedding cache blob corrupt", zap.Error(err))
		return nil, false
	}
	return vec, true
}

// Set stores a vector for the text. Failures are logged and dropped;
// the cache is an optimization, never a dependency.
func (c *Cache) Set(ctx context.Context, model, text string, vec []float32) {
	if err := c.rdb.Set(ctx, cacheKey(model, text), EncodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache set failed", zap.Error(err))
	}
}

// CachedProvider wraps a Provider with a Cache. A nil cache passes
// every call straight through.
type CachedProvider struct {
	inner Provider
	cache *Cache
	model string
}

// NewCachedProvider wraps the inner provider.
func NewCachedProvider(inner Provider, cache *Cache, model string) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, model: model}
}

// Embed serves each text from the cache when possible and falls back
// to the inner provider for the rest.
func (p *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.cache == nil || len(texts) == 0 {
		return p.inner.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := p.cache.Get(ctx, p.model, t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := p.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(fresh), len(missing))
	}
	for i, vec := range fresh {
		out[missingIdx[i]] = vec
		p.cache.Set(ctx, p.model, missing[i], vec)
	}
	return out, nil
}

// Dimension delegates to the inner provider.
func (p *CachedProvider) Dimension() int {
	return p.inner.Dimension()
}
