package algorithm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestNewRedisSlidingWindow_InvalidConfiguration(t *testing.T) {
	_, client := newTestRedis(t)

	_, err := NewRedisSlidingWindow(client, 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewRedisSlidingWindow(client, 3, 0)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewRedisSlidingWindow(nil, 3, time.Minute)
	assert.Error(t, err)
}

func TestRedisSlidingWindow_Run(t *testing.T) {
	var tests = []struct {
		name     string
		capacity int
		calls    []float64
		want     []bool
	}{
		{
			name:     "admits up to capacity then denies",
			capacity: 3,
			calls:    []float64{0, 1, 2, 3},
			want:     []bool{true, true, true, false},
		},
		{
			name:     "oldest call ages out",
			capacity: 3,
			calls:    []float64{0, 1, 2, 3, 61},
			want:     []bool{true, true, true, false, true},
		},
		{
			name:     "boundary timestamp is outside the window",
			capacity: 1,
			calls:    []float64{0, 59.5, 60},
			want:     []bool{true, false, true},
		},
		{
			name:     "denials are not recorded",
			capacity: 2,
			calls:    []float64{0, 30, 45, 45, 45, 61, 62},
			want:     []bool{true, true, false, false, false, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestRedis(t)
			w, err := NewRedisSlidingWindow(client, tt.capacity, time.Minute)
			require.NoError(t, err)

			var got []bool
			for _, c := range tt.calls {
				ok, err := w.TryAcquire(context.Background(), "u1", at(c))
				require.NoError(t, err)
				got = append(got, ok)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisSlidingWindow_Decision(t *testing.T) {
	server, client := newTestRedis(t)
	w, err := NewRedisSlidingWindow(client, 2, time.Minute, WithPrefix("test:"))
	require.NoError(t, err)

	ctx := context.Background()
	d, err := w.Acquire(ctx, "u1", at(10))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.True(t, at(70).Equal(d.RetryAt), "retry at %s", d.RetryAt)

	_, err = w.Acquire(ctx, "u1", at(20))
	require.NoError(t, err)

	d, err = w.Acquire(ctx, "u1", at(30))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Count)
	assert.True(t, at(70).Equal(d.RetryAt), "retry at %s", d.RetryAt)

	assert.True(t, server.Exists("test:u1"))
	assert.Equal(t, time.Minute, server.TTL("test:u1"))
	members, err := server.ZMembers("test:u1")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRedisSlidingWindow_MicrosecondResolution(t *testing.T) {
	_, client := newTestRedis(t)
	w, err := NewRedisSlidingWindow(client, 1, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := w.TryAcquire(ctx, "u1", epoch.Add(500*time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, ok)

	// both stamps truncate to epoch, so the first one sits on the boundary
	ok, err = w.TryAcquire(ctx, "u1", epoch.Add(time.Minute+400*time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, ok)

	mem, err := NewSlidingWindow[string](1, time.Minute)
	require.NoError(t, err)
	assert.True(t, mem.TryAcquire("u1", epoch.Add(500*time.Nanosecond)))
	assert.False(t, mem.TryAcquire("u1", epoch.Add(time.Minute+400*time.Nanosecond)))

	// at microsecond granularity both backends agree
	ok, err = w.TryAcquire(ctx, "u2", epoch)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.TryAcquire(ctx, "u2", epoch.Add(time.Minute-time.Microsecond))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSlidingWindow_IndependentIdentities(t *testing.T) {
	_, client := newTestRedis(t)
	w, err := NewRedisSlidingWindow(client, 1, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := w.TryAcquire(ctx, "u1", at(0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.TryAcquire(ctx, "u2", at(0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisSlidingWindow_Concurrent(t *testing.T) {
	_, client := newTestRedis(t)
	w, err := NewRedisSlidingWindow(client, 10, time.Minute)
	require.NoError(t, err)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		go func() {
			defer wg.Done()
			ok, err := w.TryAcquire(context.Background(), "u1", at(0))
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
}

func TestRedisSlidingWindow_ServerDown(t *testing.T) {
	server, client := newTestRedis(t)
	w, err := NewRedisSlidingWindow(client, 1, time.Minute)
	require.NoError(t, err)

	server.Close()
	_, err = w.TryAcquire(context.Background(), "u1", at(0))
	assert.Error(t, err)
}
