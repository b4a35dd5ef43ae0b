package ratelimiter

import (
	"errors"
	"fmt"

	"github.com/lowc1012/bot-dispatch/internal/log"
	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
	"github.com/lowc1012/bot-dispatch/pkg/utils"
	"go.uber.org/zap"
)

// Config defines the configuration for the rate limited handler.
type Config struct {
	// Name identifies the wrapped callback in logs and metrics.
	Name      string
	Extractor utils.Extractor
	Limiter   RateLimiter
	Recorder  MetricsRecorder
	// FailOpen lets updates through when the limiter itself fails.
	FailOpen bool
	// OnDenied, when set, is called for every denied update after logging.
	OnDenied func(c *dispatch.Context, result *Result)
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("rate limit config is required")
	}
	if c.Limiter == nil {
		return errors.New("rate limit config has no limiter")
	}
	return nil
}

// NewRateLimitedHandler wraps next performing rate limiting before invoking it. Denied updates
// are dropped: next is not called and no error is reported, the decision is only logged and
// counted. Failing to derive a key, or a limiter failure when FailOpen is not set, is returned
// as an error to the dispatcher.
func NewRateLimitedHandler(next dispatch.HandlerFunc, config *Config) (dispatch.HandlerFunc, error) {
	if next == nil {
		return nil, errors.New("handler is required")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	cfg := *config
	if cfg.Extractor == nil {
		cfg.Extractor = utils.NewEffectiveUserExtractor()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = &NoOpMetricsRecorder{}
	}

	return func(c *dispatch.Context) error {
		key, err := cfg.Extractor.Extract(c.Update)
		if err != nil {
			return fmt.Errorf("failed to collect rate limiting key for %s: %w", cfg.Name, err)
		}

		result, err := cfg.Limiter.Run(c, &Request{Key: key})
		if err != nil {
			cfg.Recorder.Add(MetricError, 1, map[string]string{"handler": cfg.Name})
			if cfg.FailOpen {
				log.Logger().Warn("Rate limiter failed, letting update through",
					zap.String("handler", cfg.Name),
					zap.String("key", key),
					zap.Error(err))
				return next(c)
			}
			return fmt.Errorf("failed to run rate limiting for %s: %w", cfg.Name, err)
		}

		cfg.Recorder.Add(MetricDecision, 1, map[string]string{
			"handler": cfg.Name,
			"state":   result.State.String(),
		})

		if result.State == Deny {
			log.Logger().Debug(fmt.Sprintf("Rate limit exceeded for %s", key),
				zap.String("handler", cfg.Name),
				zap.Uint32("limit", result.RequestLimit),
				zap.Uint32("retry_after_sec", result.RemainingTimeSec),
				zap.String("limiter", cfg.Limiter.Type().String()))
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, result)
			}
			return nil
		}

		// next is only reached once per admitted update and never sees the limiter
		return next(c)
	}, nil
}
