package webstash

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandler records how many times it actually ran.
func countingHandler(calls *atomic.Int64, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestCached_SecondRequestServedFromCache(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusOK, "hello"))

	first := get(t, h, "/greet")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "hello", first.Body.String())
	assert.Empty(t, first.Header().Get(HitHeader))

	second := get(t, h, "/greet")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hello", second.Body.String())
	assert.Equal(t, "text/plain", second.Header().Get("Content-Type"))
	assert.Equal(t, "HIT", second.Header().Get(HitHeader))

	assert.EqualValues(t, 1, calls.Load(), "handler must run exactly once")
}

func TestCached_DistinctPathsDistinctEntries(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/a")
	get(t, h, "/b")
	get(t, h, "/a")

	assert.EqualValues(t, 2, calls.Load())
}

func TestCached_NonGETPassesThrough(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusOK, "x"))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/submit", nil))
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestCached_QueryStringKeying(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached(WithQueryString(true))(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/s?a=1&b=2")
	get(t, h, "/s?b=2&a=1") // same parameters, different order
	assert.EqualValues(t, 1, calls.Load())

	get(t, h, "/s?a=1&b=3")
	assert.EqualValues(t, 2, calls.Load())
}

func TestCached_WithoutQueryStringSharesEntry(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/s?a=1")
	get(t, h, "/s?a=2")
	assert.EqualValues(t, 1, calls.Load(), "path-only keying ignores the query")
}

func TestCached_Unless(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached(
		WithUnless(func(r *http.Request) bool {
			return r.URL.Query().Get("nocache") == "1"
		}),
	)(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/p?nocache=1")
	get(t, h, "/p?nocache=1")
	assert.EqualValues(t, 2, calls.Load(), "unless must bypass lookup and store")
}

func TestCached_ForcedUpdateOverwrites(t *testing.T) {
	c := newTestCache(t, Config{})

	var n atomic.Int64
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "version %d", n.Add(1))
	})

	normal := c.Cached()(h)
	forced := c.Cached(WithForcedUpdate(func(*http.Request) bool { return true }))(h)

	assert.Equal(t, "version 1", get(t, normal, "/v").Body.String())
	assert.Equal(t, "version 1", get(t, normal, "/v").Body.String())

	// Forced update recomputes and replaces the stored entry.
	assert.Equal(t, "version 2", get(t, forced, "/v").Body.String())
	assert.Equal(t, "version 2", get(t, normal, "/v").Body.String())
}

func TestCached_ResponseFilterSkipsErrors(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached(
		WithResponseFilter(func(status int) bool { return status < 500 }),
	)(countingHandler(&calls, http.StatusInternalServerError, "boom"))

	get(t, h, "/err")
	get(t, h, "/err")
	assert.EqualValues(t, 2, calls.Load(), "5xx responses must not be cached")
}

func TestCached_TimeoutExpiresEntry(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached(WithTimeout(10 * time.Millisecond))(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/t")
	time.Sleep(20 * time.Millisecond)
	get(t, h, "/t")
	assert.EqualValues(t, 2, calls.Load())
}

func TestCached_WithMakeKey(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached(
		WithMakeKey(func(r *http.Request) string {
			return "tenant/" + r.Header.Get("X-Tenant") + r.URL.Path
		}),
	)(countingHandler(&calls, http.StatusOK, "x"))

	req := func(tenant string) {
		r := httptest.NewRequest("GET", "/data", nil)
		r.Header.Set("X-Tenant", tenant)
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	req("a")
	req("a")
	req("b")
	assert.EqualValues(t, 2, calls.Load())
}

func TestCached_CachedHeadersReplayed(t *testing.T) {
	c := newTestCache(t, Config{})
	h := c.Cached(WithCachedHeaders("X-Request-Cost"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-Cost", "12")
			w.Header().Set("X-Secret", "do-not-cache")
			fmt.Fprint(w, "x")
		}))

	get(t, h, "/h")
	second := get(t, h, "/h")

	assert.Equal(t, "12", second.Header().Get("X-Request-Cost"))
	assert.Empty(t, second.Header().Get("X-Secret"), "unlisted headers must not be replayed")
}

func TestCached_StatusCodePreserved(t *testing.T) {
	c := newTestCache(t, Config{})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusNotFound, "nope"))

	require.Equal(t, http.StatusNotFound, get(t, h, "/missing").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing").Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCached_NullBackendAlwaysRuns(t *testing.T) {
	c := newTestCache(t, Config{Type: TypeNull})
	var calls atomic.Int64
	h := c.Cached()(countingHandler(&calls, http.StatusOK, "x"))

	get(t, h, "/n")
	get(t, h, "/n")
	assert.EqualValues(t, 2, calls.Load())
}
