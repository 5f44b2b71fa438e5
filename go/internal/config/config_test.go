package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CANVAS_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 500, cfg.Canvas.Width)
	assert.Equal(t, 500, cfg.Canvas.Height)
	assert.Equal(t, time.Hour, cfg.Limits.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Limits.Cooldown)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.NATS.URL)
	assert.False(t, cfg.WebSocket.RequireSession)
	assert.Zero(t, cfg.Limits.SessionCreateRate, "session throttling is opt-in")
	assert.Empty(t, cfg.Limits.ClientIPHeader)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteTimeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
redis_url: redis://file:6379/0
canvas:
  width: 64
  height: 32
limits:
  cooldown: 5s
websocket:
  require_session: true
`), 0o600))

	t.Setenv("CANVAS_CONFIG", path)
	t.Setenv("CANVAS_HEIGHT", "48")
	t.Setenv("SESSION_TTL", "120")
	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("SESSION_CREATE_RATE", "2")
	t.Setenv("CLIENT_IP_HEADER", "X-Forwarded-For")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "redis://env:6379/1", cfg.RedisURL, "env wins over file")
	assert.Equal(t, 64, cfg.Canvas.Width)
	assert.Equal(t, 48, cfg.Canvas.Height)
	assert.Equal(t, 5*time.Second, cfg.Limits.Cooldown)
	assert.Equal(t, 2*time.Minute, cfg.Limits.SessionTTL)
	assert.True(t, cfg.WebSocket.RequireSession)
	assert.Equal(t, 2.0, cfg.Limits.SessionCreateRate)
	assert.Equal(t, "X-Forwarded-For", cfg.Limits.ClientIPHeader)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "non-numeric width", key: "CANVAS_WIDTH", val: "wide"},
		{name: "zero height", key: "CANVAS_HEIGHT", val: "0"},
		{name: "bad cooldown", key: "COOLDOWN", val: "soon"},
		{name: "negative ttl", key: "SESSION_TTL", val: "-5"},
		{name: "bad bool", key: "WS_REQUIRE_SESSION", val: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CANVAS_CONFIG", "")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidFileValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "zero write timeout", yaml: "websocket:\n  write_timeout: 0s\n"},
		{name: "negative write timeout", yaml: "websocket:\n  write_timeout: -1s\n"},
		{name: "zero send buffer", yaml: "websocket:\n  send_buffer: 0\n"},
		{name: "negative session rate", yaml: "limits:\n  session_create_rate: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "canvas.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			t.Setenv("CANVAS_CONFIG", path)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CANVAS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
