package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache[V any](ttl time.Duration) (*TTLCache[V], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}
	c := NewTTLCache[V](ttl)
	c.now = clock.Now
	return c, clock
}

func TestNewTTLCache(t *testing.T) {
	c := NewTTLCache[string](time.Minute)

	assert.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_GetSet(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "string_value", key: "status", value: "ok"},
		{name: "int_value", key: "days_left", value: 42},
		{name: "struct_value", key: "token", value: struct{ Valid bool }{Valid: true}},
		{name: "nil_value", key: "nil-key", value: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache[any](time.Minute)

			val, found := c.Get(tt.key)
			assert.False(t, found)
			assert.Nil(t, val)

			c.Set(tt.key, tt.value)
			val, found = c.Get(tt.key)
			assert.True(t, found)
			assert.Equal(t, tt.value, val)

			c.Set(tt.key, "overwritten")
			val, found = c.Get(tt.key)
			assert.True(t, found)
			assert.Equal(t, "overwritten", val)
		})
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c, clock := newTestCache[string](5 * time.Minute)

	c.Set("meta", "valid")
	clock.Advance(4*time.Minute + 59*time.Second)
	val, found := c.Get("meta")
	require.True(t, found)
	assert.Equal(t, "valid", val)

	clock.Advance(time.Second)
	_, found = c.Get("meta")
	assert.False(t, found)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_ZeroTTLNeverExpires(t *testing.T) {
	c, clock := newTestCache[int](0)

	c.Set("k", 1)
	clock.Advance(24 * 365 * time.Hour)
	val, found := c.Get("k")
	assert.True(t, found)
	assert.Equal(t, 1, val)
}

func TestTTLCache_GetOrLoad(t *testing.T) {
	c, clock := newTestCache[int](time.Minute)
	calls := 0
	load := func() (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Minute)
	v, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestTTLCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache[int](time.Minute)

	_, err := c.GetOrLoad("k", func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)

	_, found := c.Get("k")
	assert.False(t, found)
}

func TestTTLCache_Delete(t *testing.T) {
	c, _ := newTestCache[string](time.Minute)
	c.Set("key1", "value1")
	c.Set("key2", "value2")

	c.Delete("key2")
	_, found := c.Get("key2")
	assert.False(t, found)

	val, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", val)

	c.Delete("non-existent")
}

func TestTTLCache_Concurrent(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%26))
			c.Set(key, n)
			c.Get(key)
			if n%5 == 0 {
				c.Delete(key)
			}
			c.Purge()
		}(i)
	}
	wg.Wait()

	c.Set("final", 1)
	val, found := c.Get("final")
	assert.True(t, found)
	assert.Equal(t, 1, val)
}

func BenchmarkTTLCache_Get(b *testing.B) {
	c := NewTTLCache[string](time.Minute)
	c.Set("bench-key", "bench-value")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		c.Get("bench-key")
	}
}
