package webstash

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// memverSuffix marks the key holding a function's version token.
const memverSuffix = "_memver"

// newVersionToken returns a short random token. Tokens only need to
// differ from their predecessor, not be globally unique.
func newVersionToken() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])[:8]
}

// memoVersion returns the current version token for name, creating
// one on first use. The token is stored without expiry and becomes
// part of every memoization key, so replacing it orphans all entries
// of the function at once.
func (c *Cache) memoVersion(ctx context.Context, name string) (string, error) {
	versionKey := name + memverSuffix

	value, ok, err := c.Get(ctx, versionKey)
	if err != nil {
		return "", err
	}
	if ok {
		return string(value), nil
	}

	token := newVersionToken()
	added, err := c.Add(ctx, versionKey, []byte(token), -1)
	if err != nil {
		return "", err
	}
	if added {
		return token, nil
	}

	// Another caller created the token between our Get and Add.
	value, ok, err = c.Get(ctx, versionKey)
	if err != nil || !ok {
		return token, err
	}
	return string(value), nil
}

// DeleteMemoized invalidates every memoized entry of the named
// function by replacing its version token. Old entries are orphaned,
// not deleted; they age out with their TTL.
func (c *Cache) DeleteMemoized(ctx context.Context, name string) error {
	return c.Set(ctx, sanitizeName(name)+memverSuffix, []byte(newVersionToken()), -1)
}

// MemoizedFunc caches the results of a single-argument function.
// Build one with Memoize and tune it with the With* methods before
// first use.
type MemoizedFunc[A any, R any] struct {
	c       *Cache
	name    string
	fn      func(context.Context, A) (R, error)
	timeout time.Duration
	unless  func(context.Context, A) bool
	forced  func(context.Context, A) bool
	filter  func(R) bool
}

// Memoize wraps fn so repeated calls with equal arguments are served
// from the cache. name identifies the function in the key space and
// must be stable across processes sharing a backend.
func Memoize[A any, R any](c *Cache, name string, fn func(context.Context, A) (R, error)) *MemoizedFunc[A, R] {
	return &MemoizedFunc[A, R]{
		c:    c,
		name: sanitizeName(name),
		fn:   fn,
	}
}

// WithTimeout sets the TTL of memoized entries. Zero uses the cache
// default, negative never expires.
func (m *MemoizedFunc[A, R]) WithTimeout(d time.Duration) *MemoizedFunc[A, R] {
	m.timeout = d
	return m
}

// WithUnless bypasses memoization for calls the callback accepts.
func (m *MemoizedFunc[A, R]) WithUnless(fn func(context.Context, A) bool) *MemoizedFunc[A, R] {
	m.unless = fn
	return m
}

// WithForcedUpdate recomputes and overwrites the entry for calls the
// callback accepts.
func (m *MemoizedFunc[A, R]) WithForcedUpdate(fn func(context.Context, A) bool) *MemoizedFunc[A, R] {
	m.forced = fn
	return m
}

// WithFilter gates storing on the computed result.
func (m *MemoizedFunc[A, R]) WithFilter(fn func(R) bool) *MemoizedFunc[A, R] {
	m.filter = fn
	return m
}

// Key returns the cache key for arg under the current version token.
func (m *MemoizedFunc[A, R]) Key(ctx context.Context, arg A) (string, error) {
	version, err := m.c.memoVersion(ctx, m.name)
	if err != nil {
		return "", err
	}
	return "memo/" + m.name + "/" + version + "/" + hashArg(arg), nil
}

// Call returns the memoized result for arg, computing and storing it
// on a miss. Errors from the wrapped function are returned as-is and
// never cached. Backend failures are logged and masked, so the
// wrapped function still runs when the cache cannot answer.
func (m *MemoizedFunc[A, R]) Call(ctx context.Context, arg A) (R, error) {
	if m.unless != nil && m.unless(ctx, arg) {
		return m.fn(ctx, arg)
	}

	key, err := m.Key(ctx, arg)
	if err != nil {
		m.c.logger.Warn().Err(err).Str("func", m.name).Msg("memoize version lookup failed")
		return m.fn(ctx, arg)
	}

	if m.forced == nil || !m.forced(ctx, arg) {
		var cached R
		ok, err := m.c.GetInto(ctx, key, &cached)
		if err != nil {
			m.c.logger.Warn().Err(err).Str("key", key).Msg("memoize lookup failed")
		} else if ok {
			m.c.logger.Debug().Str("key", key).Msg("memoize hit")
			return cached, nil
		}
	}

	result, err := m.fn(ctx, arg)
	if err != nil {
		return result, err
	}

	if m.filter == nil || m.filter(result) {
		if err := m.c.SetValue(ctx, key, &result, m.timeout); err != nil {
			m.c.logger.Warn().Err(err).Str("key", key).Msg("memoize store failed")
		}
	}
	return result, nil
}

// Forget deletes the memoized entry for one specific argument.
func (m *MemoizedFunc[A, R]) Forget(ctx context.Context, arg A) error {
	key, err := m.Key(ctx, arg)
	if err != nil {
		return err
	}
	return m.c.Delete(ctx, key)
}

// ForgetAll invalidates every memoized entry of this function.
func (m *MemoizedFunc[A, R]) ForgetAll(ctx context.Context) error {
	return m.c.DeleteMemoized(ctx, m.name)
}

// argPair packs two arguments into one hashable value for Memoize2.
type argPair[A any, B any] struct {
	First  A `json:"first"`
	Second B `json:"second"`
}

// MemoizedFunc2 is the two-argument variant of MemoizedFunc.
type MemoizedFunc2[A any, B any, R any] struct {
	inner *MemoizedFunc[argPair[A, B], R]
}

// Memoize2 wraps a two-argument function.
func Memoize2[A any, B any, R any](c *Cache, name string, fn func(context.Context, A, B) (R, error)) *MemoizedFunc2[A, B, R] {
	inner := Memoize(c, name, func(ctx context.Context, args argPair[A, B]) (R, error) {
		return fn(ctx, args.First, args.Second)
	})
	return &MemoizedFunc2[A, B, R]{inner: inner}
}

// WithTimeout sets the TTL of memoized entries.
func (m *MemoizedFunc2[A, B, R]) WithTimeout(d time.Duration) *MemoizedFunc2[A, B, R] {
	m.inner.WithTimeout(d)
	return m
}

// WithFilter gates storing on the computed result.
func (m *MemoizedFunc2[A, B, R]) WithFilter(fn func(R) bool) *MemoizedFunc2[A, B, R] {
	m.inner.WithFilter(fn)
	return m
}

// Call returns the memoized result for (a, b).
func (m *MemoizedFunc2[A, B, R]) Call(ctx context.Context, a A, b B) (R, error) {
	return m.inner.Call(ctx, argPair[A, B]{First: a, Second: b})
}

// Forget deletes the memoized entry for one argument pair.
func (m *MemoizedFunc2[A, B, R]) Forget(ctx context.Context, a A, b B) error {
	return m.inner.Forget(ctx, argPair[A, B]{First: a, Second: b})
}

// ForgetAll invalidates every memoized entry of this function.
func (m *MemoizedFunc2[A, B, R]) ForgetAll(ctx context.Context) error {
	return m.inner.ForgetAll(ctx)
}
