// Package indexcache serves built sentence indexes. Layout records are
// cached in Redis with a TTL; the built indexes live in a small in-process
// LRU since they are immutable and cheap to share.
package indexcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/docstore"
	"github.com/openclass-ai/citestream/internal/metrics"
	"github.com/openclass-ai/citestream/internal/references"
	"github.com/openclass-ai/citestream/internal/sentences"
)

const keyPrefix = "citestream:layout:"

// Loader fetches layout records when both caches miss; the docstore
// implements it.
type Loader interface {
	LoadLayout(ctx context.Context, docID uuid.UUID) ([]sentences.LayoutRecord, error)
}

type localEntry struct {
	idx      *sentences.Index
	lastUsed time.Time
}

// Cache layers the local LRU over Redis over the loader. Safe for
// concurrent use. A nil Redis client skips that layer.
type Cache struct {
	client   *redis.Client
	loader   Loader
	ttl      time.Duration
	maxLocal int
	logger   *zap.Logger

	mu    sync.Mutex
	local map[uuid.UUID]*localEntry
}

// New returns a cache. maxLocal bounds the in-process index count;
// ttl bounds the Redis layout entries.
func New(client *redis.Client, loader Loader, ttl time.Duration, maxLocal int, logger *zap.Logger) *Cache {
	if maxLocal <= 0 {
		maxLocal = 128
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		client:   client,
		loader:   loader,
		ttl:      ttl,
		maxLocal: maxLocal,
		logger:   logger,
		local:    make(map[uuid.UUID]*localEntry),
	}
}

// Index returns the document's sentence index, building it on first use.
// Propagates docstore.ErrNotFound for unknown documents.
func (c *Cache) Index(ctx context.Context, docID uuid.UUID) (*sentences.Index, error) {
	c.mu.Lock()
	if e, ok := c.local[docID]; ok {
		e.lastUsed = time.Now()
		c.mu.Unlock()
		metrics.IndexCacheLookups.WithLabelValues("local").Inc()
		return e.idx, nil
	}
	c.mu.Unlock()

	if records, ok := c.fromRedis(ctx, docID); ok {
		metrics.IndexCacheLookups.WithLabelValues("redis").Inc()
		return c.build(docID, records), nil
	}

	records, err := c.loader.LoadLayout(ctx, docID)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			metrics.IndexCacheLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.IndexCacheLookups.WithLabelValues("store").Inc()
	c.toRedis(ctx, docID, records)
	return c.build(docID, records), nil
}

// Invalidate drops a document from both cache layers, e.g. after its layout
// was re-ingested.
func (c *Cache) Invalidate(ctx context.Context, docID uuid.UUID) {
	c.mu.Lock()
	delete(c.local, docID)
	c.mu.Unlock()
	if c.client != nil {
		if err := c.client.Del(ctx, keyPrefix+docID.String()).Err(); err != nil {
			c.logger.Warn("redis invalidate failed",
				zap.String("doc_id", docID.String()), zap.Error(err))
		}
	}
}

func (c *Cache) build(docID uuid.UUID, records []sentences.LayoutRecord) *sentences.Index {
	start := time.Now()
	idx := sentences.Build(records)
	metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[docID] = &localEntry{idx: idx, lastUsed: time.Now()}
	c.evictLocked()
	return idx
}

// evictLocked drops least-recently-used entries until the local layer fits.
func (c *Cache) evictLocked() {
	for len(c.local) > c.maxLocal {
		var oldest uuid.UUID
		var oldestAt time.Time
		first := true
		for id, e := range c.local {
			if first || e.lastUsed.Before(oldestAt) {
				oldest, oldestAt, first = id, e.lastUsed, false
			}
		}
		delete(c.local, oldest)
	}
}

func (c *Cache) fromRedis(ctx context.Context, docID uuid.UUID) ([]sentences.LayoutRecord, bool) {
	if c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, keyPrefix+docID.String()).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis get failed",
			zap.String("doc_id", docID.String()), zap.Error(err))
		return nil, false
	}
	var records []sentences.LayoutRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		c.logger.Warn("redis payload corrupt, dropping",
			zap.String("doc_id", docID.String()), zap.Error(err))
		c.client.Del(ctx, keyPrefix+docID.String())
		return nil, false
	}
	return records, true
}

func (c *Cache) toRedis(ctx context.Context, docID uuid.UUID, records []sentences.LayoutRecord) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+docID.String(), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed",
			zap.String("doc_id", docID.String()), zap.Error(err))
	}
}

// Provider adapts the cache to the pipeline's index lookup: a reference's
// file id is the document UUID. References without one, or pointing at
// unknown documents, resolve to no index rather than an error.
type Provider struct {
	Cache *Cache
}

func (p *Provider) IndexFor(ctx context.Context, ref references.Reference) (*sentences.Index, error) {
	docID, err := uuid.Parse(ref.FileID)
	if err != nil {
		return nil, nil
	}
	idx, err := p.Cache.Index(ctx, docID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index for reference %s: %w", ref.FileID, err)
	}
	return idx, nil
}
