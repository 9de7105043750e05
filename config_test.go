package hearth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/api", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:3000/ws", cfg.RealtimeURL)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectFloor)
	assert.Equal(t, 5*time.Second, cfg.ReconnectCeiling)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_API_URL", "https://api.example.com/api")
	t.Setenv("HEARTH_RECONNECT_ATTEMPTS", "8")
	t.Setenv("HEARTH_RECONNECT_FLOOR", "250ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", cfg.RealtimeURL)
	assert.Equal(t, 8, cfg.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectFloor)
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("HEARTH_RECONNECT_FLOOR", "soon")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com/api": "wss://api.example.com/ws",
		"http://localhost:3000/api":   "ws://localhost:3000/ws",
		"http://localhost:3000":       "ws://localhost:3000/ws",
	}
	for in, want := range cases {
		assert.Equal(t, want, deriveWSURL(in), in)
	}
}
