package jwkscache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// ErrKeySetTooStale is returned when a key set could not be refreshed and the
// cached copy is older than the hard maximum age. At that point verification
// must not proceed on the stale keys.
var ErrKeySetTooStale = errors.New("jwkscache: cached key set exceeded maximum age and refresh failed")

// Cache provides platform JWKS retrieval with HTTP caching semantics.
// Fetches are deduplicated: concurrent callers for the same URL share one
// upstream request.
type Cache interface {
	// Get returns the key set for url, fetching it if not cached or expired.
	// Transient fetch failures serve the stale copy within the grace window.
	Get(ctx context.Context, url string) (jwk.Set, error)
	// Refresh forces a fetch regardless of freshness. Used when verification
	// hits a kid absent from the cached set (platform key rotation).
	Refresh(ctx context.Context, url string) (jwk.Set, error)
	// Invalidate drops the cached entry for url.
	Invalidate(url string)
}

// entry stores a cached JWKS and metadata derived from HTTP caching headers.
type entry struct {
	set             jwk.Set
	fetchedAt       time.Time
	expiry          time.Time
	allowStaleUntil time.Time
	etag            string
	lastModified    time.Time
}

type memoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	group      singleflight.Group
	client     *http.Client
	defaultTTL time.Duration
	staleGrace time.Duration
	hardMaxAge time.Duration
}

var (
	defaultOnce sync.Once
	defaultC    Cache
)

// Default returns a process-wide JWKS cache with sensible defaults.
func Default() Cache {
	defaultOnce.Do(func() {
		defaultC = New(10*time.Minute, 1*time.Hour, 24*time.Hour)
	})
	return defaultC
}

// New creates a new in-memory JWKS cache.
// defaultTTL is used when the response does not specify caching directives.
// staleGrace allows serving stale content on transient fetch failures.
// hardMaxAge bounds how old a served key set may ever be.
func New(defaultTTL, staleGrace, hardMaxAge time.Duration) Cache {
	return &memoryCache{
		entries:    make(map[string]*entry),
		client:     &http.Client{Timeout: 5 * time.Second},
		defaultTTL: defaultTTL,
		staleGrace: staleGrace,
		hardMaxAge: hardMaxAge,
	}
}

func (c *memoryCache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

func (c *memoryCache) Get(ctx context.Context, url string) (jwk.Set, error) {
	if set := c.getFresh(url); set != nil {
		return set, nil
	}
	return c.fetch(ctx, url)
}

func (c *memoryCache) Refresh(ctx context.Context, url string) (jwk.Set, error) {
	return c.fetch(ctx, url)
}

func (c *memoryCache) getFresh(url string) jwk.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[url]; ok {
		if time.Now().Before(e.expiry) && e.set != nil {
			return e.set
		}
	}
	return nil
}

func (c *memoryCache) lookup(url string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[url]
}

// fetch performs the upstream request, deduplicated per URL. Readers are never
// blocked while the request is in flight: the entries map is only locked for
// the final swap.
func (c *memoryCache) fetch(ctx context.Context, url string) (jwk.Set, error) {
	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		return c.doFetch(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (c *memoryCache) doFetch(ctx context.Context, url string) (jwk.Set, error) {
	e := c.lookup(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Conditional headers
	if e != nil {
		if e.etag != "" {
			req.Header.Set("If-None-Match", e.etag)
		}
		if !e.lastModified.IsZero() {
			req.Header.Set("If-Modified-Since", e.lastModified.UTC().Format(http.TimeFormat))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.serveStale(e, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified: // 304
		if e == nil || e.set == nil {
			return nil, errors.New("jwkscache: 304 but no cached entry")
		}
		newExpiry, allowStale := computeExpiry(resp.Header, c.defaultTTL, c.staleGrace)
		c.mu.Lock()
		e.fetchedAt = time.Now()
		e.expiry = newExpiry
		e.allowStaleUntil = allowStale
		c.mu.Unlock()
		return e.set, nil
	case http.StatusOK: // 200
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB
		if err != nil {
			return c.serveStale(e, err)
		}
		set, err := jwk.Parse(body)
		if err != nil {
			return nil, err
		}
		newE := &entry{set: set, fetchedAt: time.Now()}
		newE.expiry, newE.allowStaleUntil = computeExpiry(resp.Header, c.defaultTTL, c.staleGrace)
		newE.etag = resp.Header.Get("ETag")
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := time.Parse(http.TimeFormat, lm); err == nil {
				newE.lastModified = t
			}
		}
		c.mu.Lock()
		c.entries[url] = newE
		c.mu.Unlock()
		return set, nil
	default:
		return c.serveStale(e, errors.New("jwkscache: unexpected status "+strconv.Itoa(resp.StatusCode)))
	}
}

// serveStale returns the cached set when the refresh failed, provided the
// entry is within the stale grace window and under the hard maximum age.
func (c *memoryCache) serveStale(e *entry, cause error) (jwk.Set, error) {
	if e == nil || e.set == nil {
		return nil, cause
	}
	now := time.Now()
	if now.After(e.fetchedAt.Add(c.hardMaxAge)) {
		return nil, ErrKeySetTooStale
	}
	if now.Before(e.allowStaleUntil) {
		return e.set, nil
	}
	return nil, cause
}

func computeExpiry(h http.Header, defTTL, staleGrace time.Duration) (expiry, allowStaleUntil time.Time) {
	now := time.Now()
	cc := parseCacheControl(h.Get("Cache-Control"))
	if cc["no-store"] == "true" {
		return now, now // immediately expired, no stale allowed
	}
	if maxAge, ok := cc["max-age"]; ok {
		if secs, err := strconv.Atoi(maxAge); err == nil {
			exp := now.Add(time.Duration(secs) * time.Second)
			return exp, exp.Add(staleGrace)
		}
	}
	if expStr := h.Get("Expires"); expStr != "" {
		if t, err := time.Parse(http.TimeFormat, expStr); err == nil {
			return t, t.Add(staleGrace)
		}
	}
	// Fallback
	exp := now.Add(defTTL)
	return exp, exp.Add(staleGrace)
}

func parseCacheControl(v string) map[string]string {
	m := map[string]string{}
	for _, part := range strings.Split(v, ",") {
		p := strings.TrimSpace(strings.ToLower(part))
		if p == "" {
			continue
		}
		// we only need flags and max-age
		if strings.HasPrefix(p, "max-age=") {
			m["max-age"] = strings.TrimPrefix(p, "max-age=")
			continue
		}
		m[p] = "true"
	}
	return m
}
