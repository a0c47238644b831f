// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabasePath string
	// PolicyDir holds guards_<workspace>.yaml profiles seeded at startup.
	PolicyDir string
	// Workspace seeded from PolicyDir when both are set.
	Workspace string
	// RedisAddr enables the distributed intent lock when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// RateLimitRPS / RateLimitBurst bound the HTTP surface per caller.
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DatabasePath:   getenv("DATABASE_PATH", "payguard.db"),
		PolicyDir:      os.Getenv("POLICY_DIR"),
		Workspace:      getenv("WORKSPACE", "default"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RateLimitRPS:   getenvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 30),
	}
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	return cfg
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
