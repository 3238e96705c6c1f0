package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ZoneTrendKey("00184"), []byte(`{"count":3}`), time.Minute))
	val, found, err := c.Get(ctx, ZoneTrendKey("00184"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"count":3}`), val)

	require.NoError(t, c.Delete(ctx, ZoneTrendKey("00184")))
	_, found, err = c.Get(ctx, ZoneTrendKey("00184"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)

	now = now.Add(time.Second)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, found, _ = c.Get(ctx, "forever")
	assert.True(t, found)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	key := RateLimitKey("upload", "10.0.0.1")

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	now = now.Add(2 * time.Minute)
	got, err := c.IncrWithExpiry(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "window restarts after expiry")
}

func TestMemoryCache_IncrWindowDoesNotSlide(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	key := RateLimitKey("upload", "10.0.0.2")

	for i := 0; i < 31; i++ {
		_, err := c.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
	}
	// a client retrying every 50s must still get a fresh window
	var last int64
	for i := 0; i < 10; i++ {
		now = now.Add(50 * time.Second)
		n, err := c.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		last = n
	}
	assert.LessOrEqual(t, last, int64(2))

	now = now.Add(59 * time.Second)
	n, err := c.IncrWithExpiry(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Greater(t, n, int64(1), "still inside the window opened by the first hit")
}

func TestMemoryCache_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		_, err := c.IncrWithExpiry(ctx, RateLimitKey("upload", ip), time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
	require.NoError(t, c.Set(ctx, "later", []byte("v"), time.Hour))

	assert.Equal(t, 0, c.Sweep())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 3, c.Sweep())
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_RunJanitorStops(t *testing.T) {
	c := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'z'

	val, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), val)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "zone:trend:unknown", ZoneTrendKey("unknown"))
	assert.Equal(t, "ratelimit:upload:1.2.3.4", RateLimitKey("upload", "1.2.3.4"))
}
