// Package config loads process configuration from the environment and the
// map-pool file at startup. The result is immutable; nothing reads the
// environment after boot.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	// DatabaseURL selects the postgres repository; empty falls back to the
	// in-memory repository (development only).
	DatabaseURL string
	JWTSecret   string
	MapPoolPath string

	SubmitGrace   time.Duration
	QueueCooldown time.Duration

	SweepInterval      time.Duration
	PeriodTickInterval time.Duration
	MatchmakeInterval  time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		MapPoolPath:   getEnv("MAP_POOL_PATH", "maps.json"),

		SubmitGrace:   getDuration("SUBMIT_GRACE", 30*time.Second),
		QueueCooldown: getDuration("QUEUE_COOLDOWN", 25*time.Second),

		SweepInterval:      getDuration("SWEEP_INTERVAL", 3*time.Second),
		PeriodTickInterval: getDuration("PERIOD_TICK_INTERVAL", 15*time.Minute),
		MatchmakeInterval:  getDuration("MATCHMAKE_INTERVAL", 5*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
