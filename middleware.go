package webstash

import (
	"net/http"
	"time"
)

// HitHeader is set on responses replayed from the cache.
const HitHeader = "X-Webstash"

// cachedResponse is the stored form of a captured response.
type cachedResponse struct {
	Status int
	Header map[string][]string
	Body   []byte
}

type cachedConfig struct {
	timeout       time.Duration
	keyPrefix     string
	queryString   bool
	makeKey       func(*http.Request) string
	unless        func(*http.Request) bool
	forcedUpdate  func(*http.Request) bool
	filter        func(status int) bool
	cachedHeaders []string
}

// CachedOption configures the Cached middleware.
type CachedOption func(*cachedConfig)

// WithTimeout sets the TTL for entries stored by this route. Zero
// uses the cache default, negative never expires.
func WithTimeout(d time.Duration) CachedOption {
	return func(c *cachedConfig) { c.timeout = d }
}

// WithKeyPrefix replaces the default "view/" key prefix.
func WithKeyPrefix(prefix string) CachedOption {
	return func(c *cachedConfig) { c.keyPrefix = prefix }
}

// WithQueryString keys entries on the request path plus a hash of the
// sorted query parameters instead of the path alone.
func WithQueryString(on bool) CachedOption {
	return func(c *cachedConfig) { c.queryString = on }
}

// WithMakeKey replaces key construction entirely.
func WithMakeKey(fn func(*http.Request) string) CachedOption {
	return func(c *cachedConfig) { c.makeKey = fn }
}

// WithUnless bypasses the cache for requests the callback accepts:
// no lookup, no store.
func WithUnless(fn func(*http.Request) bool) CachedOption {
	return func(c *cachedConfig) { c.unless = fn }
}

// WithForcedUpdate recomputes and overwrites the entry for requests
// the callback accepts, even when a cached copy exists. Useful for
// background renewal of hot entries.
func WithForcedUpdate(fn func(*http.Request) bool) CachedOption {
	return func(c *cachedConfig) { c.forcedUpdate = fn }
}

// WithResponseFilter gates storing on the response status. Without a
// filter every captured response is stored.
func WithResponseFilter(fn func(status int) bool) CachedOption {
	return func(c *cachedConfig) { c.filter = fn }
}

// WithCachedHeaders names response headers to persist and replay in
// addition to Content-Type.
func WithCachedHeaders(names ...string) CachedOption {
	return func(c *cachedConfig) { c.cachedHeaders = names }
}

// Cached returns net/http middleware that serves GET and HEAD
// responses from the cache. On a miss the wrapped handler runs and
// its response is captured and stored. Backend failures are logged
// and masked so the handler always runs when the cache cannot answer.
func (c *Cache) Cached(opts ...CachedOption) func(http.Handler) http.Handler {
	cfg := cachedConfig{keyPrefix: DefaultViewKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.unless != nil && cfg.unless(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.cacheKey(r)
			ctx := r.Context()

			forced := cfg.forcedUpdate != nil && cfg.forcedUpdate(r)
			if !forced {
				var entry cachedResponse
				ok, err := c.GetInto(ctx, key, &entry)
				if err != nil {
					c.logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
				} else if ok {
					c.logger.Debug().Str("key", key).Msg("cache hit")
					replay(w, &entry)
					return
				}
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if cfg.filter != nil && !cfg.filter(rec.status) {
				return
			}

			entry := cachedResponse{
				Status: rec.status,
				Header: cfg.captureHeaders(w.Header()),
				Body:   rec.body,
			}
			if err := c.SetValue(ctx, key, &entry, cfg.timeout); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
				return
			}
			c.logger.Debug().Str("key", key).Int("status", rec.status).Msg("cached response")
		})
	}
}

func (cfg *cachedConfig) cacheKey(r *http.Request) string {
	if cfg.makeKey != nil {
		return cfg.makeKey(r)
	}
	return RequestKey(r, cfg.keyPrefix, cfg.queryString)
}

func (cfg *cachedConfig) captureHeaders(h http.Header) map[string][]string {
	captured := map[string][]string{}
	names := append([]string{"Content-Type"}, cfg.cachedHeaders...)
	for _, name := range names {
		if vs := h.Values(name); len(vs) > 0 {
			captured[http.CanonicalHeaderKey(name)] = vs
		}
	}
	return captured
}

func replay(w http.ResponseWriter, entry *cachedResponse) {
	for name, vs := range entry.Header {
		for _, v := range vs {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(HitHeader, "HIT")
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// responseRecorder passes writes through while keeping a copy of the
// body and status for the cache.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        []byte
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	r.body = append(r.body, p...)
	return r.ResponseWriter.Write(p)
}
