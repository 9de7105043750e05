package hearth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything needed to build a Client.
type Config struct {
	// APIBaseURL is the REST endpoint root, e.g. https://api.hearth.example/api.
	APIBaseURL string
	// RealtimeURL is the websocket endpoint, e.g. wss://api.hearth.example/ws.
	// Empty derives it from APIBaseURL.
	RealtimeURL string
	// CachePath is the sqlite file for the offline cache. Empty disables
	// offline storage.
	CachePath string

	MaxReconnectAttempts int
	ReconnectFloor       time.Duration
	ReconnectCeiling     time.Duration

	// JanitorSpec is a cron expression for cache pruning, e.g. "@hourly".
	// Empty disables the janitor.
	JanitorSpec string
	// JanitorKeep is how many rows each store retains when pruned.
	JanitorKeep int
}

// FromEnv loads configuration from HEARTH_* environment variables, reading a
// .env file first if one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		APIBaseURL:  envOr("HEARTH_API_URL", "http://localhost:3000/api"),
		RealtimeURL: os.Getenv("HEARTH_WS_URL"),
		CachePath:   envOr("HEARTH_CACHE_PATH", "hearth.db"),
		JanitorSpec: envOr("HEARTH_JANITOR_SPEC", "@hourly"),
	}

	var err error
	if cfg.MaxReconnectAttempts, err = envInt("HEARTH_RECONNECT_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.JanitorKeep, err = envInt("HEARTH_JANITOR_KEEP", 500); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectFloor, err = envDuration("HEARTH_RECONNECT_FLOOR", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectCeiling, err = envDuration("HEARTH_RECONNECT_CEILING", 5*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = deriveWSURL(cfg.APIBaseURL)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// deriveWSURL maps an http(s) API root to the ws(s) endpoint on the same
// host.
func deriveWSURL(apiURL string) string {
	ws := apiURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	ws = strings.TrimSuffix(ws, "/api")
	return ws + "/ws"
}
