// Package assets loads and caches overlay images and fullscreen clips. All
// fetching and decoding happens here, ahead of time, so the render loop only
// ever touches pixels that are already in memory.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

// Config carries the cache's tunables. Zero values select defaults.
type Config struct {
	// HTTPClient defaults to a client with FetchTimeout applied.
	HTTPClient *http.Client
	// Logger defaults to the shared logger scoped to the assets component.
	Logger *slog.Logger
	// FetchTimeout bounds one fetch; defaults to 10s.
	FetchTimeout time.Duration
	// MaxBytes caps a single asset download; defaults to 16 MiB.
	MaxBytes int64
}

// Cache is a URL-keyed store of decoded assets. Lookups hit memory; misses
// fetch through a circuit breaker, with concurrent loads for the same URL
// collapsed into one flight. A failed load never evicts a previously cached
// good entry.
type Cache struct {
	client   *http.Client
	log      *slog.Logger
	maxBytes int64

	mu     sync.RWMutex
	images map[string]*image.RGBA
	clips  map[string]domain.Clip
	closed bool

	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker
}

// New returns an empty cache.
func New(cfg Config) *Cache {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.WithComponent("assets")
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "asset-fetcher",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("asset fetcher circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			metrics.AssetBreakerStateChanges.WithLabelValues(to.String()).Inc()
		},
	})

	return &Cache{
		client:   client,
		log:      log,
		maxBytes: maxBytes,
		images:   make(map[string]*image.RGBA),
		clips:    make(map[string]domain.Clip),
		breaker:  breaker,
	}
}

// Image returns the decoded image for url, fetching and caching it on first
// use. Concurrent callers for the same URL share one fetch.
func (c *Cache) Image(ctx context.Context, url string) (*image.RGBA, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, domain.ErrClosed
	}
	if img, ok := c.images[url]; ok {
		c.mu.RUnlock()
		metrics.AssetCacheHits.Inc()
		return img, nil
	}
	c.mu.RUnlock()

	metrics.AssetCacheMisses.Inc()
	v, err, _ := c.group.Do("img:"+url, func() (interface{}, error) {
		start := time.Now()
		data, err := c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		img, err := decodeRGBA(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", url, err)
		}
		c.store(url, img, nil)
		metrics.AssetLoadDuration.Observe(time.Since(start).Seconds())
		c.log.Info("asset loaded", "url", url, "bounds", img.Bounds())
		return img, nil
	})
	if err != nil {
		metrics.AssetLoadFailures.Inc()
		c.log.Warn("asset load failed", "url", url, "error", err)
		return nil, err
	}
	return v.(*image.RGBA), nil
}

// Clip returns the decoded animated clip for url, fetching and caching it on
// first use. Only animated GIF media is supported.
func (c *Cache) Clip(ctx context.Context, url string) (domain.Clip, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, domain.ErrClosed
	}
	if clip, ok := c.clips[url]; ok {
		c.mu.RUnlock()
		metrics.AssetCacheHits.Inc()
		return clip, nil
	}
	c.mu.RUnlock()

	metrics.AssetCacheMisses.Inc()
	v, err, _ := c.group.Do("clip:"+url, func() (interface{}, error) {
		start := time.Now()
		data, err := c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		clip, err := decodeGIFClip(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", url, err)
		}
		c.store(url, nil, clip)
		metrics.AssetLoadDuration.Observe(time.Since(start).Seconds())
		c.log.Info("clip loaded", "url", url, "duration", clip.Duration())
		return clip, nil
	})
	if err != nil {
		metrics.AssetLoadFailures.Inc()
		c.log.Warn("clip load failed", "url", url, "error", err)
		return nil, err
	}
	return v.(domain.Clip), nil
}

// Invalidate drops any cached entries for url. The next lookup refetches.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, url)
	delete(c.clips, url)
	metrics.AssetCacheSize.Set(float64(len(c.images) + len(c.clips)))
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images) + len(c.clips)
}

// Close empties the cache. Lookups after Close return ErrClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.images = make(map[string]*image.RGBA)
	c.clips = make(map[string]domain.Clip)
	metrics.AssetCacheSize.Set(0)
}

func (c *Cache) store(url string, img *image.RGBA, clip domain.Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if img != nil {
		c.images[url] = img
	}
	if clip != nil {
		c.clips[url] = clip
	}
	metrics.AssetCacheSize.Set(float64(len(c.images) + len(c.clips)))
}

// fetch downloads url through the circuit breaker so a dead asset host fails
// fast instead of stalling every caller.
func (c *Cache) fetch(ctx context.Context, url string) ([]byte, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build asset request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch asset: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch asset %s: unexpected status %d", url, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read asset body: %w", err)
		}
		if int64(len(data)) > c.maxBytes {
			return nil, fmt.Errorf("asset %s exceeds %d byte limit", url, c.maxBytes)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func decodeRGBA(data []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetDecode, err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)
	return rgba, nil
}
