package provider

import (
	"context"
	"sync"
	"time"

	"pricecast/pkg/model"
)

const (
	defaultCacheTTL  = 6 * time.Hour
	defaultCacheSize = 256
)

// CachingProvider wraps a Loader with an in-memory cache keyed by symbol and range.
// Used by the server, where repeated runs for one symbol share the same
// training and testing ranges. Entries expire after the TTL and the cache
// holds at most size ranges, dropping the oldest load first.
type CachingProvider struct {
	inner Loader
	ttl   time.Duration
	size  int
	now   func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	symbol     string
	start, end string
}

type cacheEntry struct {
	series   model.PriceSeries
	loadedAt time.Time
}

// CacheOption configures a CachingProvider
type CacheOption func(*CachingProvider)

// WithCacheTTL sets how long a loaded range is served from memory
func WithCacheTTL(d time.Duration) CacheOption {
	return func(p *CachingProvider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithCacheSize caps the number of cached ranges
func WithCacheSize(n int) CacheOption {
	return func(p *CachingProvider) {
		if n > 0 {
			p.size = n
		}
	}
}

// NewCachingProvider creates a caching wrapper
func NewCachingProvider(inner Loader, opts ...CacheOption) *CachingProvider {
	p := &CachingProvider{
		inner: inner,
		ttl:   defaultCacheTTL,
		size:  defaultCacheSize,
		now:   time.Now,
		cache: make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadCloses returns the cached series or loads and caches it.
// Errors are not cached.
func (p *CachingProvider) LoadCloses(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	key := cacheKey{
		symbol: symbol,
		start:  start.Format("2006-01-02"),
		end:    end.Format("2006-01-02"),
	}

	p.mu.Lock()
	if e, ok := p.cache[key]; ok {
		if p.now().Sub(e.loadedAt) < p.ttl {
			p.mu.Unlock()
			return e.series, nil
		}
		delete(p.cache, key)
	}
	p.mu.Unlock()

	series, err := p.inner.LoadCloses(ctx, symbol, start, end)
	if err != nil {
		return model.PriceSeries{}, err
	}

	p.mu.Lock()
	p.evictLocked()
	p.cache[key] = cacheEntry{series: series, loadedAt: p.now()}
	p.mu.Unlock()

	return series, nil
}

// evictLocked drops expired entries, then the oldest ones until a new entry fits
func (p *CachingProvider) evictLocked() {
	now := p.now()
	for k, e := range p.cache {
		if now.Sub(e.loadedAt) >= p.ttl {
			delete(p.cache, k)
		}
	}
	for len(p.cache) >= p.size {
		var (
			oldest   cacheKey
			oldestAt time.Time
			found    bool
		)
		for k, e := range p.cache {
			if !found || e.loadedAt.Before(oldestAt) {
				oldest, oldestAt, found = k, e.loadedAt, true
			}
		}
		delete(p.cache, oldest)
	}
}

// Len returns the number of cached ranges
func (p *CachingProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
