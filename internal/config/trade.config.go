package config

import (
	"os"
	"strconv"
	"time"
)

type AppConfig struct {
	HTTPAddr  string
	RedisAddr string
	RedisPass string

	JWTSecret string

	WatcherURL    string
	WatcherSecret string

	TransactionTimeout time.Duration
	CloseDelay         time.Duration
	SweepInterval      time.Duration
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":7210"),
		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		WatcherURL:    getEnv("CHAIN_WATCHER_URL", "http://chain-watcher:7300"),
		WatcherSecret: getEnv("CHAIN_WATCHER_SECRET", ""),

		TransactionTimeout: getDuration("TRANSACTION_TIMEOUT", 30*time.Minute),
		CloseDelay:         getDuration("TICKET_CLOSE_DELAY", time.Minute),
		SweepInterval:      getDuration("DEADLINE_SWEEP_INTERVAL", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
