package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Host         string
	Email        string
	Password     string
	RoomIDs      []int
	RedisURL     string
	PollInterval int // seconds
	LogLevel     string
}

func Load() *Config {
	return &Config{
		Host:         getEnv("CHAT_HOST", "stackexchange.com"),
		Email:        getEnv("CHAT_EMAIL", ""),
		Password:     getEnv("CHAT_PASSWORD", ""),
		RoomIDs:      getEnvInts("CHAT_ROOMS"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		PollInterval: getEnvInt("POLL_INTERVAL", 3),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvInts parses a comma-separated list of room ids.
func getEnvInts(key string) []int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var ids []int
	for _, part := range strings.Split(value, ",") {
		if i, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ids = append(ids, i)
		}
	}
	return ids
}
