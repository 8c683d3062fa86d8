package backend

import (
	"context"
	"time"
)

// Null is a backend that stores nothing. Every read misses and every
// write succeeds. Used when caching is disabled by configuration.
type Null struct{}

// NewNull creates a disabled backend.
func NewNull() *Null {
	return &Null{}
}

func (*Null) Get(context.Context, string) ([]byte, error) {
	return nil, ErrNotFound
}

func (*Null) GetMany(_ context.Context, keys ...string) ([][]byte, error) {
	return make([][]byte, len(keys)), nil
}

func (*Null) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (*Null) SetMany(context.Context, map[string][]byte, time.Duration) error { return nil }

func (*Null) Add(context.Context, string, []byte, time.Duration) error { return nil }

func (*Null) Delete(context.Context, string) error { return nil }

func (*Null) DeleteMany(context.Context, ...string) error { return nil }

func (*Null) Has(context.Context, string) (bool, error) { return false, nil }

func (*Null) Clear(context.Context) error { return nil }

func (*Null) Inc(_ context.Context, _ string, delta int64) (int64, error) {
	return delta, nil
}

func (*Null) Dec(_ context.Context, _ string, delta int64) (int64, error) {
	return -delta, nil
}

func (*Null) Close() error { return nil }
