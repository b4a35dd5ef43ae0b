package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lowc1012/bot-dispatch/internal/config"
	"github.com/lowc1012/bot-dispatch/internal/log"
	"github.com/lowc1012/bot-dispatch/internal/metrics"
	"github.com/lowc1012/bot-dispatch/internal/webhook"
	"github.com/lowc1012/bot-dispatch/pkg/decorators"
	"github.com/lowc1012/bot-dispatch/pkg/dispatch"
	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter"
	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter/algorithm"
	"github.com/lowc1012/bot-dispatch/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Logger().Fatal("Failed to load config", zap.Error(err))
	}
	if err := log.Init(cfg.Log.Level); err != nil {
		log.Logger().Fatal("Failed to init logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter, closeFn, err := initLimiter(ctx, cfg)
	if err != nil {
		log.Logger().Fatal("Failed to create rate limiter", zap.Error(err))
	}
	defer closeFn()

	m := metrics.New()
	d := dispatch.NewDispatcher(dispatch.WithOnError(m.HandlerError))
	if err := registerHandlers(decorators.NewRegistrar(d), ratelimiter.Config{
		Extractor: utils.NewEffectiveUserExtractor(),
		Limiter:   limiter,
		Recorder:  m,
		FailOpen:  cfg.RateLimit.FailOpen,
	}); err != nil {
		log.Logger().Fatal("Failed to register handlers", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhook", webhook.NewHandler(d, m.IncUpdate).ServeHTTP)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger().Info("Run a server listening to " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Logger().Info("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Logger().Error("Failed to serve handler", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logger().Error("Graceful shutdown failed", zap.Error(err))
	}
	d.Wait()
}

// initLimiter builds the limiter selected by config. The in-memory limiter
// gets a janitor bound to ctx that evicts idle users.
func initLimiter(ctx context.Context, cfg config.Config) (ratelimiter.RateLimiter, func(), error) {
	rl := cfg.RateLimit
	switch rl.Storage {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		limiter, err := ratelimiter.NewRedisSlidingWindowLimiter(client, rl.Messages, rl.Window, nil,
			algorithm.WithPrefix(cfg.Redis.Prefix))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return limiter, func() {
			if err := client.Close(); err != nil {
				log.Logger().Warn("Failed to close redis client", zap.Error(err))
			}
		}, nil
	default:
		limiter, err := ratelimiter.NewSlidingWindowLimiter(rl.Messages, rl.Window, nil)
		if err != nil {
			return nil, nil, err
		}
		go limiter.RunJanitor(ctx, rl.SweepInterval)
		return limiter, func() {}, nil
	}
}

func registerHandlers(r *decorators.Registrar, limit ratelimiter.Config) error {
	if _, err := r.Command([]string{"ping"}, func(c *dispatch.Context) error {
		log.Logger().Info("Pong", zap.Int64("update_id", c.Update.ID))
		return nil
	}, decorators.WithSync()); err != nil {
		return err
	}

	if _, err := r.Command([]string{"echo", "say"}, func(c *dispatch.Context) error {
		log.Logger().Info("Echo",
			zap.Int64("user", c.Update.EffectiveUser().ID),
			zap.String("text", strings.Join(c.Args, " ")))
		return nil
	}, decorators.WithRateLimit(limit)); err != nil {
		return err
	}

	_, err := r.Message(func(c *dispatch.Context) error {
		log.Logger().Debug("Message received", zap.Int64("update_id", c.Update.ID))
		return nil
	}, decorators.WithName("message_log"), decorators.WithFilter(dispatch.Text))
	return err
}
