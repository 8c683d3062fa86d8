package backend

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemcachedKey(t *testing.T) {
	// Safe keys pass through untouched.
	assert.Equal(t, "view/users/42", memcachedKey("view/users/42"))

	// Keys with whitespace or control characters are hashed.
	hashed := memcachedKey("view/some path")
	assert.NotContains(t, hashed, " ")
	assert.Len(t, hashed, 64)

	assert.Len(t, memcachedKey("key\twith\ttabs"), 64)
	assert.Len(t, memcachedKey(""), 64)

	// Keys over the protocol limit are hashed, and deterministically.
	long := strings.Repeat("x", 300)
	assert.Len(t, memcachedKey(long), 64)
	assert.Equal(t, memcachedKey(long), memcachedKey(long))
}

func TestMemcachedTTL(t *testing.T) {
	assert.EqualValues(t, 0, memcachedTTL(0))
	assert.EqualValues(t, 0, memcachedTTL(-1))
	assert.EqualValues(t, 60, memcachedTTL(time.Minute))

	// Sub-second TTLs round up to the protocol minimum.
	assert.EqualValues(t, 1, memcachedTTL(100*time.Millisecond))

	// Beyond 30 days memcached expects an absolute timestamp.
	abs := memcachedTTL(31 * 24 * time.Hour)
	assert.Greater(t, abs, int32(time.Now().Unix()))
}

func TestNewMemcachedRequiresServers(t *testing.T) {
	_, err := NewMemcached()
	assert.Error(t, err)
}
