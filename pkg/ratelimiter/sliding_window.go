package ratelimiter

import (
	"context"
	"math"
	"time"

	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter/algorithm"
	"github.com/redis/go-redis/v9"
)

var (
	_ RateLimiter = &SlidingWindowLimiter{}
	_ RateLimiter = &RedisSlidingWindowLimiter{}
)

// SlidingWindowLimiter is an in-process limiter admitting at most capacity
// requests per key in any trailing window. Its state is local to the process.
type SlidingWindowLimiter struct {
	impl    *algorithm.SlidingWindow[string]
	timeNow func() time.Time
}

// NewSlidingWindowLimiter creates a SlidingWindowLimiter. now defaults to time.Now.
func NewSlidingWindowLimiter(capacity int, window time.Duration, now func() time.Time) (*SlidingWindowLimiter, error) {
	impl, err := algorithm.NewSlidingWindow[string](capacity, window)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowLimiter{impl: impl, timeNow: now}, nil
}

func (l *SlidingWindowLimiter) Type() Type {
	return SlidingWindowLimiterType
}

func (l *SlidingWindowLimiter) Run(_ context.Context, req *Request) (*Result, error) {
	now := l.timeNow()
	return toResult(l.impl.Acquire(req.Key, now), l.impl.Capacity(), now), nil
}

// Sweep evicts keys without requests in the current window.
func (l *SlidingWindowLimiter) Sweep() int {
	return l.impl.Sweep(l.timeNow())
}

// RunJanitor sweeps every interval until ctx is done.
func (l *SlidingWindowLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	l.impl.RunJanitor(ctx, interval, l.timeNow)
}

// RedisSlidingWindowLimiter shares one budget per key between every process
// using the same Redis.
type RedisSlidingWindowLimiter struct {
	impl    *algorithm.RedisSlidingWindow
	timeNow func() time.Time
}

func NewRedisSlidingWindowLimiter(client redis.Scripter, capacity int, window time.Duration, now func() time.Time, opts ...algorithm.RedisOption) (*RedisSlidingWindowLimiter, error) {
	impl, err := algorithm.NewRedisSlidingWindow(client, capacity, window, opts...)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &RedisSlidingWindowLimiter{impl: impl, timeNow: now}, nil
}

func (l *RedisSlidingWindowLimiter) Type() Type {
	return RedisSlidingWindowLimiterType
}

func (l *RedisSlidingWindowLimiter) Run(ctx context.Context, req *Request) (*Result, error) {
	now := l.timeNow()
	d, err := l.impl.Acquire(ctx, req.Key, now)
	if err != nil {
		return nil, err
	}
	return toResult(d, l.impl.Capacity(), now), nil
}

func toResult(d algorithm.Decision, capacity int, now time.Time) *Result {
	state := Deny
	if d.Allowed {
		state = Allow
	}
	var remaining uint32
	if wait := d.RetryAt.Sub(now); wait > 0 {
		remaining = uint32(math.Ceil(wait.Seconds()))
	}
	return &Result{
		State:            state,
		RequestLimit:     uint32(capacity),
		Count:            uint32(d.Count),
		RemainingTimeSec: remaining,
	}
}
