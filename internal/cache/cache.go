// Package cache memoizes extraction results in Redis so repeated pastes
// of the same link skip the browser entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/pdd-media-scraper/internal/models"
	"github.com/maltedev/pdd-media-scraper/internal/urlx"
)

const keyPrefix = "pdd:extract:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl, logger: logger.With("component", "cache")}, nil
}

// Key derives the cache key for a product URL. Canonicalizing first makes
// share links and the direct goods page hit the same entry.
func Key(rawURL string) string {
	canonical := urlx.Canonicalize(urlx.Normalize(rawURL))
	sum := sha256.Sum256([]byte(canonical))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result for a URL, or false on miss or error.
func (c *Cache) Get(ctx context.Context, rawURL string) (*models.ProductInfo, bool) {
	payload, err := c.client.Get(ctx, Key(rawURL)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	var info models.ProductInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		c.logger.Warn("cache entry corrupt, ignoring", "error", err)
		return nil, false
	}
	return &info, true
}

// Set stores a result. Failures are logged, never surfaced: the cache is
// an optimization, not a dependency.
func (c *Cache) Set(ctx context.Context, rawURL string, info *models.ProductInfo) {
	payload, err := json.Marshal(info)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(rawURL), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
}

func (c *Cache) Close() error {
	return c.client.Close()
}
