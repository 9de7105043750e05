// Package hearth is the client core for the Hearth neighborhood platform.
// It wires the authenticated HTTP transport, the realtime connection, the
// offline cache and the per-feature services into one Client.
package hearth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/auth"
	"github.com/hearthside/hearth-go/bookings"
	"github.com/hearthside/hearth-go/cache"
	"github.com/hearthside/hearth-go/chat"
	"github.com/hearthside/hearth-go/emergency"
	"github.com/hearthside/hearth-go/feed"
	"github.com/hearthside/hearth-go/marketplace"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/notifications"
	"github.com/hearthside/hearth-go/realtime"
	"github.com/hearthside/hearth-go/telemetry"
)

// Client is the top-level handle. Feature services are exposed as fields;
// they share one session, one transport and one realtime connection.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	session *auth.Session
	store   *cache.Cache
	api     *api.Client
	rt      *realtime.Manager
	refresh auth.RefreshFunc

	Feed          *feed.Service
	Chat          *chat.Service
	Marketplace   *marketplace.Service
	Notifications *notifications.Service
	Bookings      *bookings.Service
	Emergency     *emergency.Service
}

// New builds a Client from cfg. Pass a nil registerer to disable metrics.
// Stored credentials, if any, are restored so the client starts
// authenticated after a restart.
func New(cfg Config, log zerolog.Logger, reg prometheus.Registerer) (*Client, error) {
	metrics := telemetry.Nop()
	if reg != nil {
		metrics = telemetry.New(reg)
	}

	session := auth.NewSession(log)

	var store *cache.Cache
	if cfg.CachePath != "" {
		var err error
		store, err = cache.Open(cfg.CachePath, log, metrics)
		if err != nil {
			return nil, err
		}
		if cfg.JanitorSpec != "" {
			if err := store.StartJanitor(cfg.JanitorSpec, cfg.JanitorKeep); err != nil {
				store.Close()
				return nil, fmt.Errorf("start cache janitor: %w", err)
			}
		}
	}

	refresh := refreshFunc(cfg.APIBaseURL)
	transport := auth.NewTransport(session, refresh, nil, log, metrics)
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	apiClient, err := api.New(api.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: httpClient,
		Logger:     log,
		Metrics:    metrics,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	rt := realtime.New(realtime.Config{
		URL:                  cfg.RealtimeURL,
		Session:              session,
		Logger:               log,
		Metrics:              metrics,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectFloor:       cfg.ReconnectFloor,
		ReconnectCeiling:     cfg.ReconnectCeiling,
	})

	c := &Client{
		cfg:     cfg,
		log:     log.With().Str("component", "client").Logger(),
		metrics: metrics,
		session: session,
		store:   store,
		api:     apiClient,
		rt:      rt,
		refresh: refresh,
	}

	c.Feed = feed.NewService(apiClient, store, rt, log)
	c.Chat = chat.NewService(apiClient, store, rt, session, log)
	c.Marketplace = marketplace.NewService(apiClient, store, log)
	c.Notifications = notifications.NewService(apiClient, rt, log)
	c.Bookings = bookings.NewService(apiClient, rt, log)
	c.Emergency = emergency.NewService(apiClient, rt, log)

	// Refresh rotates the token pair; the rotated pair must survive a
	// restart or the next refresh fails with the stale token.
	session.OnCredentials(func(creds auth.Credentials) {
		if store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.PutJSON(ctx, cache.KeyCredentials, creds); err != nil {
			c.log.Warn().Err(err).Msg("credential persist failed")
		}
	})

	// A cleared session means authentication is unrecoverable: drop the
	// realtime connection and forget stored credentials.
	session.OnClear(func() {
		rt.Disconnect()
		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := store.DeleteKV(ctx, cache.KeyCredentials); err != nil {
				c.log.Warn().Err(err).Msg("credential cleanup failed")
			}
		}
	})

	c.restore()
	return c, nil
}

// refreshFunc exchanges a refresh token for new credentials. It uses a plain
// HTTP client so the exchange never routes through the retrying transport.
func refreshFunc(baseURL string) auth.RefreshFunc {
	hc := &http.Client{Timeout: 15 * time.Second}
	return func(ctx context.Context, refreshToken string) (auth.Credentials, error) {
		body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return auth.Credentials{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return auth.Credentials{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return auth.Credentials{}, err
		}
		defer resp.Body.Close()

		var env struct {
			Success bool             `json:"success"`
			Data    auth.Credentials `json:"data"`
			Message string           `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return auth.Credentials{}, fmt.Errorf("decode refresh response: %w", err)
		}
		if resp.StatusCode >= 400 || !env.Success {
			return auth.Credentials{}, fmt.Errorf("refresh rejected: %s", env.Message)
		}
		return env.Data, nil
	}
}

// refreshMargin is how close to expiry a restored access token may be
// before it is exchanged up front instead of waiting for the first 401.
const refreshMargin = time.Minute

// restore seeds the session from stored credentials. A restored access token
// about to expire is refreshed immediately; if that fails the stale pair is
// kept and the 401 path decides.
func (c *Client) restore() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var creds auth.Credentials
	ok, err := c.store.GetJSON(ctx, cache.KeyCredentials, &creds)
	if err != nil || !ok {
		return
	}
	var user model.User
	if uok, _ := c.store.GetJSON(ctx, cache.KeyUser, &user); uok {
		c.session.Seed(creds, &user)
	} else {
		c.session.Seed(creds, nil)
	}
	c.log.Debug().Msg("session restored from cache")

	if creds.RefreshToken != "" && c.session.ExpiresWithin(refreshMargin) {
		fresh, err := c.refresh(ctx, creds.RefreshToken)
		if err != nil {
			c.log.Warn().Err(err).Msg("startup token refresh failed")
			return
		}
		c.session.SetCredentials(fresh)
		c.log.Debug().Msg("expiring access token refreshed at startup")
	}
}

type authResult struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *model.User `json:"user"`
}

// Login requests an OTP for a phone number.
func (c *Client) Login(ctx context.Context, phone string) error {
	return c.api.Post(ctx, "/auth/login", map[string]string{"phone": phone}, nil)
}

// VerifyOTP completes login. On success the session is seeded, credentials
// persisted, and the realtime connection established.
func (c *Client) VerifyOTP(ctx context.Context, phone, otp string) (*model.User, error) {
	var res authResult
	err := c.api.Post(ctx, "/auth/verify-otp", map[string]string{"phone": phone, "otp": otp}, &res)
	if err != nil {
		return nil, err
	}

	c.session.Seed(auth.Credentials{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, res.User)

	if c.store != nil {
		if err := c.store.PutJSON(ctx, cache.KeyCredentials, c.session.Credentials()); err != nil {
			c.log.Warn().Err(err).Msg("credential persist failed")
		}
		if res.User != nil {
			if err := c.store.PutJSON(ctx, cache.KeyUser, res.User); err != nil {
				c.log.Warn().Err(err).Msg("profile persist failed")
			}
		}
	}

	if err := c.rt.Connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("realtime connect failed after login")
	}
	return res.User, nil
}

// Logout tells the server to revoke the session, then clears all local
// state. Server failure does not block the local logout.
func (c *Client) Logout(ctx context.Context) {
	if err := c.api.Post(ctx, "/auth/logout", nil, nil); err != nil {
		c.log.Warn().Err(err).Msg("server logout failed")
	}
	c.session.Clear()
	if c.store != nil {
		if err := c.store.ClearAll(ctx); err != nil {
			c.log.Warn().Err(err).Msg("cache wipe failed")
		}
	}
}

// RefreshUser reloads the authenticated user's profile.
func (c *Client) RefreshUser(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.api.Get(ctx, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	c.session.SetUser(&user)
	if c.store != nil {
		if err := c.store.PutJSON(ctx, cache.KeyUser, &user); err != nil {
			c.log.Warn().Err(err).Msg("profile persist failed")
		}
	}
	return &user, nil
}

// Connect establishes the realtime connection for an already-authenticated
// session.
func (c *Client) Connect(ctx context.Context) error {
	return c.rt.Connect(ctx)
}

// Close shuts down the realtime connection and the offline cache.
func (c *Client) Close() error {
	c.rt.Disconnect()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Session returns the shared authentication session.
func (c *Client) Session() *auth.Session { return c.session }

// API returns the REST client.
func (c *Client) API() *api.Client { return c.api }

// Realtime returns the realtime connection manager.
func (c *Client) Realtime() *realtime.Manager { return c.rt }

// Cache returns the offline cache, or nil if disabled.
func (c *Client) Cache() *cache.Cache { return c.store }
