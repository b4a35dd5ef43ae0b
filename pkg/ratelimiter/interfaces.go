package ratelimiter

import (
	"context"

	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter/algorithm"
)

// ErrInvalidConfiguration is returned by constructors given a non-positive capacity or window.
var ErrInvalidConfiguration = algorithm.ErrInvalidConfiguration

type Request struct {
	Key string
}

type State uint32

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "allow"
	}
	return "deny"
}

type Result struct {
	State State
	// RequestLimit is the capacity of the window.
	RequestLimit uint32
	// Count is the number of admitted actions in the window after this request.
	Count uint32
	// RemainingTimeSec is how long until the oldest admitted action leaves the window.
	RemainingTimeSec uint32
}

// Type defines the type of rate limiter.
type Type uint32

const (
	SlidingWindowLimiterType Type = iota
	RedisSlidingWindowLimiterType
)

func (t Type) String() string {
	switch t {
	case SlidingWindowLimiterType:
		return "sliding_window"
	case RedisSlidingWindowLimiterType:
		return "redis_sliding_window"
	default:
		return "unknown"
	}
}

// RateLimiter defines the interface for a rate limiter.
type RateLimiter interface {
	Run(ctx context.Context, req *Request) (*Result, error)
	Type() Type
}
