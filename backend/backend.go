// Package backend contains the storage backends a Cache can be
// configured with. All backends speak the same contract: values are
// opaque byte slices keyed by string, with per-entry expiry.
package backend

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("backend: key not found")

	// ErrExists is returned by Add when the key is already present.
	ErrExists = errors.New("backend: key already exists")

	// ErrNotNumber is returned by Inc/Dec when the stored value is not
	// an integer.
	ErrNotNumber = errors.New("backend: value is not a number")
)

// TTL conventions, applied uniformly across backends:
//
//	ttl > 0   entry expires after ttl
//	ttl == 0  caller should have substituted the configured default
//	ttl < 0   entry never expires
//
// The Cache front type resolves ttl == 0 before calling into a
// backend, so backends may treat zero the same as negative.

// Backend is the storage contract. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetMany returns one slot per key, nil for misses. It only
	// returns an error when the backend itself failed.
	GetMany(ctx context.Context, keys ...string) ([][]byte, error)

	// Set stores value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetMany stores all items with a shared ttl.
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Add stores value only if key is absent, otherwise ErrExists.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes all given keys, continuing past absent ones.
	DeleteMany(ctx context.Context, keys ...string) error

	// Has reports whether key is present and unexpired.
	Has(ctx context.Context, key string) (bool, error)

	// Clear removes every entry this backend is responsible for.
	Clear(ctx context.Context) error

	// Inc atomically adds delta to the integer stored under key,
	// treating a missing key as zero, and returns the new value.
	Inc(ctx context.Context, key string, delta int64) (int64, error)

	// Dec is Inc with a negated delta.
	Dec(ctx context.Context, key string, delta int64) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// Unlinker is implemented by backends that support asynchronous
// deletion (Redis UNLINK). Callers fall back to DeleteMany otherwise.
type Unlinker interface {
	Unlink(ctx context.Context, keys ...string) error
}
