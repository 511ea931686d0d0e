package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type OverflowPolicy string

const (
	// OverflowDropSubscriber evicts a subscriber whose queue is full and
	// forces it to reconnect and resync.
	OverflowDropSubscriber OverflowPolicy = "drop_subscriber"
	// OverflowDropOldest discards the oldest queued event to make room,
	// trading silent staleness for connection stability.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

type Config struct {
	ServerPort        string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	Channels          []string
	QueueCapacity     int
	HeartbeatInterval time.Duration
	OverflowPolicy    OverflowPolicy
	LogLevel          string
}

func Load() (*Config, error) {
	capacity, err := strconv.Atoi(getEnv("RELAY_QUEUE_CAPACITY", "64"))
	if err != nil || capacity <= 0 {
		return nil, errors.New("RELAY_QUEUE_CAPACITY must be a positive integer")
	}

	heartbeat, err := time.ParseDuration(getEnv("RELAY_HEARTBEAT_INTERVAL", "15s"))
	if err != nil || heartbeat <= 0 {
		return nil, errors.New("invalid RELAY_HEARTBEAT_INTERVAL format")
	}

	policy := OverflowPolicy(getEnv("RELAY_OVERFLOW_POLICY", string(OverflowDropSubscriber)))
	if policy != OverflowDropSubscriber && policy != OverflowDropOldest {
		return nil, fmt.Errorf("unknown RELAY_OVERFLOW_POLICY %q", policy)
	}

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		Channels:          splitChannels(getEnv("RELAY_CHANNELS", "event_changes,participant_changes")),
		QueueCapacity:     capacity,
		HeartbeatInterval: heartbeat,
		OverflowPolicy:    policy,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("RELAY_CHANNELS must name at least one channel")
	}

	return cfg, nil
}

func splitChannels(raw string) []string {
	var channels []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			channels = append(channels, name)
		}
	}
	return channels
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
