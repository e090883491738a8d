// Package urlcache keeps short-lived signed access URLs for durable media keys.
package urlcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"enrichment-pipeline/internal/telemetry"
)

// Signer issues a temporary access URL for bucket/path.
type Signer interface {
	SignURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entryKey struct {
	bucket string
	path   string
}

type entry struct {
	url     string
	expires time.Time
}

// Cache is a read-through cache of signed URLs. An entry is served only while more
// than buffer remains before it expires; otherwise it is re-signed synchronously.
type Cache struct {
	signer Signer
	clock  Clock
	ttl    time.Duration
	buffer time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	entries map[entryKey]entry
}

// New builds a cache. A nil clock uses wall time; a nil logger discards output.
func New(signer Signer, ttl, buffer time.Duration, clock Clock, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if buffer < 0 {
		buffer = 0
	}
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		signer:  signer,
		clock:   clock,
		ttl:     ttl,
		buffer:  buffer,
		log:     log,
		entries: make(map[entryKey]entry),
	}
}

// Get returns a signed URL for path in bucket. ok is false when signing failed and
// the caller should render a placeholder.
func (c *Cache) Get(ctx context.Context, path, bucket string) (string, bool) {
	key := entryKey{bucket: bucket, path: path}
	now := c.clock.Now()

	c.mu.Lock()
	e, found := c.entries[key]
	c.mu.Unlock()
	if found && e.expires.Sub(now) > c.buffer {
		telemetry.SignedURLCacheHits.Inc()
		return e.url, true
	}
	telemetry.SignedURLCacheMisses.Inc()

	url, err := c.signer.SignURL(ctx, bucket, path, c.ttl)
	if err != nil {
		telemetry.SignedURLSignErrors.Inc()
		c.log.Warn("sign url failed",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Error(err))
		return "", false
	}

	c.mu.Lock()
	c.entries[key] = entry{url: url, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return url, true
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[entryKey]entry)
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
