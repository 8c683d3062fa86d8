package webstash

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoize_CallsUnderlyingOnce(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	double := Memoize(c, "test.double", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	})

	for i := 0; i < 3; i++ {
		got, err := double.Call(ctx, 21)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestMemoize_DistinctArgsDistinctEntries(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	double := Memoize(c, "test.double2", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	})

	got, _ := double.Call(ctx, 1)
	assert.Equal(t, 2, got)
	got, _ = double.Call(ctx, 2)
	assert.Equal(t, 4, got)
	got, _ = double.Call(ctx, 1)
	assert.Equal(t, 2, got)

	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoize_ErrorsNotCached(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	boom := errors.New("boom")
	var calls atomic.Int64
	flaky := Memoize(c, "test.flaky", func(_ context.Context, n int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return n, nil
	})

	_, err := flaky.Call(ctx, 7)
	assert.ErrorIs(t, err, boom)

	got, err := flaky.Call(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoize_ForgetSingleArg(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.forget", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	f.Call(ctx, 1)
	f.Call(ctx, 2)
	require.NoError(t, f.Forget(ctx, 1))

	f.Call(ctx, 1) // recomputed
	f.Call(ctx, 2) // still cached
	assert.EqualValues(t, 3, calls.Load())
}

func TestMemoize_ForgetAllInvalidatesEveryArg(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.forgetall", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	f.Call(ctx, 1)
	f.Call(ctx, 2)
	assert.EqualValues(t, 2, calls.Load())

	require.NoError(t, f.ForgetAll(ctx))

	f.Call(ctx, 1)
	f.Call(ctx, 2)
	assert.EqualValues(t, 4, calls.Load())
}

func TestMemoize_VersionBumpChangesKey(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	f := Memoize(c, "test.keys", func(_ context.Context, n int) (int, error) {
		return n, nil
	})

	before, err := f.Key(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, f.ForgetAll(ctx))

	after, err := f.Key(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestMemoize_DeleteMemoizedByName(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.byname", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	f.Call(ctx, 1)
	require.NoError(t, c.DeleteMemoized(ctx, "test.byname"))
	f.Call(ctx, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoize_Unless(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.unless", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}).WithUnless(func(_ context.Context, n int) bool { return n < 0 })

	f.Call(ctx, -1)
	f.Call(ctx, -1)
	assert.EqualValues(t, 2, calls.Load(), "negative args bypass the cache")

	f.Call(ctx, 1)
	f.Call(ctx, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestMemoize_ForcedUpdate(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.forced", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	}).WithForcedUpdate(func(_ context.Context, n int) bool { return true })

	f.Call(ctx, 1)
	got, _ := f.Call(ctx, 1)
	assert.Equal(t, 2, got, "forced update recomputes every call")
}

func TestMemoize_FilterSkipsStore(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.filter", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}).WithFilter(func(result int) bool { return result != 0 })

	f.Call(ctx, 0)
	f.Call(ctx, 0)
	assert.EqualValues(t, 2, calls.Load(), "filtered results must not be cached")

	f.Call(ctx, 5)
	f.Call(ctx, 5)
	assert.EqualValues(t, 3, calls.Load())
}

func TestMemoize_Timeout(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	f := Memoize(c, "test.ttl", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}).WithTimeout(10 * time.Millisecond)

	f.Call(ctx, 1)
	time.Sleep(20 * time.Millisecond)
	f.Call(ctx, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoize2(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	concat := Memoize2(c, "test.concat", func(_ context.Context, a, b string) (string, error) {
		calls.Add(1)
		return a + b, nil
	})

	got, err := concat.Call(ctx, "foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "foobar", got)

	concat.Call(ctx, "foo", "bar")
	assert.EqualValues(t, 1, calls.Load())

	// Argument positions matter.
	got, _ = concat.Call(ctx, "bar", "foo")
	assert.Equal(t, "barfoo", got)
	assert.EqualValues(t, 2, calls.Load())

	require.NoError(t, concat.Forget(ctx, "foo", "bar"))
	concat.Call(ctx, "foo", "bar")
	assert.EqualValues(t, 3, calls.Load())

	require.NoError(t, concat.ForgetAll(ctx))
	concat.Call(ctx, "bar", "foo")
	assert.EqualValues(t, 4, calls.Load())
}

func TestMemoize_StructArgsAndResults(t *testing.T) {
	type query struct {
		Table string
		Limit int
	}
	type row struct {
		ID   int
		Name string
	}

	c := newTestCache(t, Config{})
	ctx := context.Background()

	var calls atomic.Int64
	list := Memoize(c, "test.list", func(_ context.Context, q query) ([]row, error) {
		calls.Add(1)
		return []row{{ID: 1, Name: q.Table}}, nil
	})

	first, err := list.Call(ctx, query{Table: "users", Limit: 10})
	require.NoError(t, err)

	second, err := list.Call(ctx, query{Table: "users", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
}
