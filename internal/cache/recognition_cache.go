/**
 * Recognition cache
 *
 * Wraps a Recognizer with a Redis cache keyed by tile content and recognition
 * parameters. Re-processing a page after a downstream failure then skips the
 * paid OCR calls for tiles already recognized. Redis faults never fail a
 * recognition; they only cost a cache miss.
 */

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/processor"
)

const defaultKeyPrefix = "vocab:ocr:"

// RecognitionCache is a caching processor.Recognizer
type RecognitionCache struct {
	next   processor.Recognizer
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
	faults atomic.Int64
}

var _ processor.Recognizer = (*RecognitionCache)(nil)

// NewRecognitionCache wraps next. ttl must be positive.
func NewRecognitionCache(next processor.Recognizer, client *redis.Client, ttl time.Duration, logger *logging.Logger) (*RecognitionCache, error) {
	if next == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %v", ttl)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &RecognitionCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
		logger: logger,
	}, nil
}

// Recognize returns cached tile-local results when present, otherwise calls
// the wrapped recognizer and stores its successful result.
func (c *RecognitionCache) Recognize(ctx context.Context, tile processor.TileInfo, cfg processor.OcrConfig) ([]processor.OcrResult, error) {
	key := c.prefix + cacheKey(tile.Data, cfg)

	if results, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return results, nil
	}
	c.misses.Add(1)

	results, err := c.next.Recognize(ctx, tile, cfg)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, results)
	return results, nil
}

func (c *RecognitionCache) lookup(ctx context.Context, key string) ([]processor.OcrResult, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.faults.Add(1)
		c.logger.Warn("recognition cache read failed", "error", err)
		return nil, false
	}

	var results []processor.OcrResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warn("discarding corrupt recognition cache entry", "key", key, "error", err)
		return nil, false
	}
	return results, true
}

func (c *RecognitionCache) store(ctx context.Context, key string, results []processor.OcrResult) {
	if results == nil {
		results = []processor.OcrResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.faults.Add(1)
		c.logger.Warn("recognition cache write failed", "error", err)
	}
}

// Stats returns hit/miss counters since start
func (c *RecognitionCache) Stats() map[string]int64 {
	return map[string]int64{
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
		"faults": c.faults.Load(),
	}
}

// cacheKey hashes the tile bytes with every parameter that changes the
// recognition output. The API key is not one of them.
func cacheKey(data []byte, cfg processor.OcrConfig) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(cfg.Language))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(cfg.OCREngine)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(cfg.Scale)))
	return hex.EncodeToString(h.Sum(nil))
}
