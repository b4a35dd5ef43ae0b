package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lowc1012/bot-dispatch/internal/log"
	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
	"github.com/lowc1012/bot-dispatch/pkg/utils"
)

// MockRecorder captures metrics in memory for assertion
type MockRecorder struct {
	Counters map[string]float64
	Tags     []map[string]string
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{Counters: make(map[string]float64)}
}

func (m *MockRecorder) Add(name string, value float64, tags map[string]string) {
	m.Counters[name] += value
	m.Tags = append(m.Tags, tags)
}

type failingLimiter struct{}

func (failingLimiter) Run(context.Context, *Request) (*Result, error) {
	return nil, errors.New("redis unavailable")
}

func (failingLimiter) Type() Type { return RedisSlidingWindowLimiterType }

func userContext(userID int64) *dispatch.Context {
	return &dispatch.Context{
		Context: context.Background(),
		Update: &dispatch.Update{Message: &dispatch.Message{
			From: &dispatch.User{ID: userID},
			Chat: &dispatch.Chat{ID: 1, Type: dispatch.ChatPrivate},
			Text: "/ud word",
		}},
	}
}

func TestNewRateLimitedHandler_AdmitsUpToCapacity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer log.SetLogger(zap.New(core))()

	clock := newClock()
	limiter, err := NewSlidingWindowLimiter(2, time.Minute, clock.Now)
	require.NoError(t, err)

	recorder := NewMockRecorder()
	var denied int
	calls := 0
	h, err := NewRateLimitedHandler(func(*dispatch.Context) error {
		calls++
		return nil
	}, &Config{
		Name:     "ud",
		Limiter:  limiter,
		Recorder: recorder,
		OnDenied: func(*dispatch.Context, *Result) { denied++ },
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.NoError(t, h(userContext(42)))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, denied)
	assert.Equal(t, float64(5), recorder.Counters[MetricDecision])
	assert.Equal(t, map[string]string{"handler": "ud", "state": "deny"}, recorder.Tags[4])

	entries := logs.FilterMessage("Rate limit exceeded for 42").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "ud", entries[0].ContextMap()["handler"])

	// another user has its own budget
	assert.NoError(t, h(userContext(43)))
	assert.Equal(t, 3, calls)

	clock.Advance(time.Minute)
	assert.NoError(t, h(userContext(42)))
	assert.Equal(t, 4, calls)
}

func TestNewRateLimitedHandler_ExtractorFailure(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(1, time.Minute, nil)
	require.NoError(t, err)

	h, err := NewRateLimitedHandler(func(*dispatch.Context) error {
		t.Fatal("handler must not run without a key")
		return nil
	}, &Config{Name: "ud", Limiter: limiter, Extractor: utils.NewEffectiveUserExtractor()})
	require.NoError(t, err)

	c := &dispatch.Context{Context: context.Background(), Update: &dispatch.Update{}}
	assert.Error(t, h(c))
}

func TestNewRateLimitedHandler_LimiterFailure(t *testing.T) {
	var tests = []struct {
		name      string
		failOpen  bool
		wantErr   bool
		wantCalls int
	}{
		{name: "fail closed", failOpen: false, wantErr: true, wantCalls: 0},
		{name: "fail open", failOpen: true, wantErr: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := NewMockRecorder()
			calls := 0
			h, err := NewRateLimitedHandler(func(*dispatch.Context) error {
				calls++
				return nil
			}, &Config{Name: "ud", Limiter: failingLimiter{}, Recorder: recorder, FailOpen: tt.failOpen})
			require.NoError(t, err)

			err = h(userContext(1))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, float64(1), recorder.Counters[MetricError])
		})
	}
}

func TestNewRateLimitedHandler_InvalidArguments(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(1, time.Minute, nil)
	require.NoError(t, err)

	_, err = NewRateLimitedHandler(nil, &Config{Limiter: limiter})
	assert.Error(t, err)

	_, err = NewRateLimitedHandler(func(*dispatch.Context) error { return nil }, nil)
	assert.Error(t, err)

	_, err = NewRateLimitedHandler(func(*dispatch.Context) error { return nil }, &Config{})
	assert.Error(t, err)
}

func TestNewRateLimitedHandler_PropagatesHandlerError(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(1, time.Minute, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	h, err := NewRateLimitedHandler(func(*dispatch.Context) error { return boom }, &Config{Limiter: limiter})
	require.NoError(t, err)
	assert.ErrorIs(t, h(userContext(1)), boom)
}
