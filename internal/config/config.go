package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server settings, loaded from environment variables.
// Room-level policy knobs (log capacity, sweep timing) live here rather
// than as constants so deployments can tune them without code changes.
type Config struct {
	Port   string
	DBPath string

	// JWTSecret signs/verifies identity tokens. Empty means every
	// connection is treated as a guest.
	JWTSecret string

	// BoardLogCapacity caps the per-room drawing operation log. Oldest
	// entries are evicted first once exceeded.
	BoardLogCapacity int

	// SweepInterval is how often the inactivity sweeper scans rooms.
	SweepInterval time.Duration

	// RoomIdleTTL is how long a room may sit without activity before the
	// sweeper deletes it regardless of recorded participants.
	RoomIdleTTL time.Duration

	// Per-connection inbound message rate limiting.
	MessagesPerSecond float64
	MessageBurst      int
}

func Load() (*Config, error) {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "5000"),
		DBPath:            getEnv("COSKETCH_DB_PATH", "./data/cosketch.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		BoardLogCapacity:  1000,
		SweepInterval:     time.Hour,
		RoomIdleTTL:       24 * time.Hour,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}

	var err error
	if cfg.BoardLogCapacity, err = getEnvInt("BOARD_LOG_CAPACITY", cfg.BoardLogCapacity); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("ROOM_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.RoomIdleTTL, err = getEnvDuration("ROOM_IDLE_TTL", cfg.RoomIdleTTL); err != nil {
		return nil, err
	}
	if cfg.MessageBurst, err = getEnvInt("WS_MESSAGE_BURST", cfg.MessageBurst); err != nil {
		return nil, err
	}
	if rate, err := getEnvInt("WS_MESSAGES_PER_SECOND", int(cfg.MessagesPerSecond)); err != nil {
		return nil, err
	} else {
		cfg.MessagesPerSecond = float64(rate)
	}

	if cfg.BoardLogCapacity <= 0 {
		return nil, fmt.Errorf("BOARD_LOG_CAPACITY must be positive, got %d", cfg.BoardLogCapacity)
	}
	if cfg.RoomIdleTTL <= 0 {
		return nil, fmt.Errorf("ROOM_IDLE_TTL must be positive, got %v", cfg.RoomIdleTTL)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
