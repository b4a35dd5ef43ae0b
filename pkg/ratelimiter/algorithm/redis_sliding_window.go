package algorithm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed sliding_window.lua
var slidingWindowSource string

var slidingWindowScript = redis.NewScript(slidingWindowSource)

const defaultKeyPrefix = "ratelimit:sliding:"

// RedisSlidingWindow is the distributed variant of SlidingWindow. Each identity
// is a sorted set of admitted timestamps; pruning, counting and recording run
// atomically inside one Lua script, so concurrent callers on any number of
// processes never exceed the capacity.
type RedisSlidingWindow struct {
	client    redis.Scripter
	capacity  int
	window    time.Duration
	keyPrefix string
}

type RedisOption func(*RedisSlidingWindow)

// WithPrefix sets the key prefix of the sorted sets (default "ratelimit:sliding:").
func WithPrefix(prefix string) RedisOption {
	return func(w *RedisSlidingWindow) {
		w.keyPrefix = prefix
	}
}

func NewRedisSlidingWindow(client redis.Scripter, capacity int, window time.Duration, opts ...RedisOption) (*RedisSlidingWindow, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfiguration, capacity)
	}
	if window < time.Microsecond {
		return nil, fmt.Errorf("%w: window must be at least 1µs, got %s", ErrInvalidConfiguration, window)
	}

	w := &RedisSlidingWindow{
		client:    client,
		capacity:  capacity,
		window:    window,
		keyPrefix: defaultKeyPrefix,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func (w *RedisSlidingWindow) Capacity() int {
	return w.capacity
}

func (w *RedisSlidingWindow) Window() time.Duration {
	return w.window
}

func (w *RedisSlidingWindow) getKey(id string) string {
	return w.keyPrefix + id
}

// Acquire records an action for id at now if the window has room.
//
// The window is (now-window, now] as in SlidingWindow, but scores are stored in
// whole microseconds: now and the cutoff are truncated with UnixMicro, so two
// instants inside the same microsecond compare equal and a timestamp sharing
// the cutoff's microsecond is treated as on the boundary and pruned.
func (w *RedisSlidingWindow) Acquire(ctx context.Context, id string, now time.Time) (Decision, error) {
	ttl := (w.window + time.Millisecond - 1).Milliseconds()
	res, err := slidingWindowScript.Run(ctx, w.client, []string{w.getKey(id)},
		strconv.FormatInt(now.UnixMicro(), 10),                // ARGV[1]
		strconv.FormatInt(now.Add(-w.window).UnixMicro(), 10), // ARGV[2]
		w.capacity,       // ARGV[3]
		uuid.NewString(), // ARGV[4]
		ttl,              // ARGV[5]
	).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid sliding window script response: %v", res)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	oldestStr, _ := values[2].(string)
	oldest, err := strconv.ParseFloat(oldestStr, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("invalid oldest timestamp %q: %w", oldestStr, err)
	}

	return Decision{
		Allowed: allowed == 1,
		Count:   int(count),
		RetryAt: time.UnixMicro(int64(math.Round(oldest))).Add(w.window),
	}, nil
}

// TryAcquire is Acquire reduced to the admission outcome.
func (w *RedisSlidingWindow) TryAcquire(ctx context.Context, id string, now time.Time) (bool, error) {
	d, err := w.Acquire(ctx, id, now)
	return d.Allowed, err
}
