// Package config loads the bot settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level string
}

type RateLimitConfig struct {
	// Messages is the number of updates a user may trigger per Window.
	Messages      int
	Window        time.Duration
	Storage       string
	SweepInterval time.Duration
	FailOpen      bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads the configuration, values from a .env file in the working
// directory never override variables already set in the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	rateLimit, err := buildRateLimitConfig()
	if err != nil {
		return Config{}, err
	}

	redisConfig, err := buildRedisConfig()
	if err != nil {
		return Config{}, err
	}

	shutdownSeconds, err := getInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ShutdownTimeout: time.Duration(shutdownSeconds) * time.Second,
		},
		Log:       LogConfig{Level: getEnv("LOG_LEVEL", "info")},
		RateLimit: rateLimit,
		Redis:     redisConfig,
	}, nil
}

func buildRateLimitConfig() (RateLimitConfig, error) {
	messages, err := getInt("RATE_LIMIT_MESSAGES", 40)
	if err != nil {
		return RateLimitConfig{}, err
	}
	windowSeconds, err := getFloat("RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return RateLimitConfig{}, err
	}
	sweepSeconds, err := getInt("RATE_LIMIT_SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return RateLimitConfig{}, err
	}
	failOpen, err := strconv.ParseBool(getEnv("RATE_LIMIT_FAIL_OPEN", "false"))
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_FAIL_OPEN: %w", err)
	}

	storage := strings.ToLower(getEnv("RATE_LIMIT_STORAGE", StorageMemory))
	if storage != StorageMemory && storage != StorageRedis {
		return RateLimitConfig{}, fmt.Errorf("unsupported RATE_LIMIT_STORAGE: %s", storage)
	}

	// positivity of messages and window is enforced by the limiter constructors
	return RateLimitConfig{
		Messages:      messages,
		Window:        time.Duration(windowSeconds * float64(time.Second)),
		Storage:       storage,
		SweepInterval: time.Duration(sweepSeconds) * time.Second,
		FailOpen:      failOpen,
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	port, err := getInt("REDIS_PORT", 6379)
	if err != nil {
		return RedisConfig{}, err
	}
	db, err := getInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Prefix:   getEnv("REDIS_KEY_PREFIX", "bot:ratelimit:"),
	}, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
