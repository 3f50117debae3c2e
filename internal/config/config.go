// Package config loads process settings for the example binaries from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds Redis and processor settings shared by the producer and server processes.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string
	Queues        []string
	Concurrency   int
	FetchTimeout  time.Duration
	VisibilityTTL time.Duration
	PollInterval  time.Duration
	MaxRetries    int
	DeadMaxJobs   int
	DeadTimeout   time.Duration
	LogLevel      string
}

// Load reads configuration from environment variables with defaults for local development.
func Load() Config {
	return Config{
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		Queues:        getEnvList("SIDEKIQ_QUEUES", []string{"critical", "default", "low"}),
		Concurrency:   getEnvInt("SIDEKIQ_CONCURRENCY", 10),
		FetchTimeout:  getEnvDuration("SIDEKIQ_FETCH_TIMEOUT", 2*time.Second),
		VisibilityTTL: getEnvDuration("SIDEKIQ_VISIBILITY_TTL", 5*time.Minute),
		PollInterval:  getEnvDuration("SIDEKIQ_POLL_INTERVAL", 5*time.Second),
		MaxRetries:    getEnvInt("SIDEKIQ_MAX_RETRIES", 25),
		DeadMaxJobs:   getEnvInt("SIDEKIQ_DEAD_MAX_JOBS", 10000),
		DeadTimeout:   getEnvDuration("SIDEKIQ_DEAD_TIMEOUT", 180*24*time.Hour),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
