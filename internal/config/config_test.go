package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 1000, cfg.BoardLogCapacity)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.RoomIdleTTL)
	assert.Equal(t, float64(100), cfg.MessagesPerSecond)
	assert.Equal(t, 200, cfg.MessageBurst)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8123")
	t.Setenv("BOARD_LOG_CAPACITY", "50")
	t.Setenv("ROOM_IDLE_TTL", "2h")
	t.Setenv("WS_MESSAGES_PER_SECOND", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8123", cfg.Port)
	assert.Equal(t, 50, cfg.BoardLogCapacity)
	assert.Equal(t, 2*time.Hour, cfg.RoomIdleTTL)
	assert.Equal(t, float64(10), cfg.MessagesPerSecond)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("BOARD_LOG_CAPACITY", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveCapacity(t *testing.T) {
	t.Setenv("BOARD_LOG_CAPACITY", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("ROOM_IDLE_TTL", "-1h")
	_, err := Load()
	assert.Error(t, err)
}
