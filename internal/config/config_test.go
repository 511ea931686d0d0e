package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/liverelay")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, []string{"event_changes", "participant_changes"}, cfg.Channels)
	assert.Equal(t, 64, cfg.QueueCapacity)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, OverflowDropSubscriber, cfg.OverflowPolicy)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/liverelay")
	t.Setenv("RELAY_CHANNELS", "room_changes, member_changes ")
	t.Setenv("RELAY_QUEUE_CAPACITY", "128")
	t.Setenv("RELAY_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("RELAY_OVERFLOW_POLICY", "drop_oldest")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"room_changes", "member_changes"}, cfg.Channels)
	assert.Equal(t, 128, cfg.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, OverflowDropOldest, cfg.OverflowPolicy)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/liverelay")

	t.Run("queue capacity", func(t *testing.T) {
		t.Setenv("RELAY_QUEUE_CAPACITY", "zero")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("negative capacity", func(t *testing.T) {
		t.Setenv("RELAY_QUEUE_CAPACITY", "-1")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("heartbeat", func(t *testing.T) {
		t.Setenv("RELAY_HEARTBEAT_INTERVAL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("overflow policy", func(t *testing.T) {
		t.Setenv("RELAY_OVERFLOW_POLICY", "drop_tables")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("empty channels", func(t *testing.T) {
		t.Setenv("RELAY_CHANNELS", " , ")
		_, err := Load()
		assert.Error(t, err)
	})
}
