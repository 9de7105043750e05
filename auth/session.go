// Package auth holds the client's credential session and the transparent
// token refresh transport.
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/model"
)

// Credentials is the access/refresh token pair issued by the platform.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session holds the current credentials, the authentication flag and the
// cached user profile. Exactly one Session exists per Client; it is mutated
// only by the refresh transport and by explicit login/logout.
type Session struct {
	mu            sync.RWMutex
	creds         Credentials
	authenticated bool
	user          *model.User
	onClear       []func()
	onCreds       []func(Credentials)
	log           zerolog.Logger
}

// NewSession creates an empty, logged-out session.
func NewSession(log zerolog.Logger) *Session {
	return &Session{log: log.With().Str("component", "session").Logger()}
}

// Seed initializes the session from persisted state read at startup.
// A session is considered authenticated when an access token is present.
func (s *Session) Seed(creds Credentials, user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.user = user
	s.authenticated = creds.AccessToken != ""
}

// SetCredentials stores a new token pair and marks the session authenticated.
// Registered OnCredentials callbacks run afterwards, outside the lock, so a
// rotated refresh token can be mirrored to durable storage before the next
// restart.
func (s *Session) SetCredentials(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.authenticated = creds.AccessToken != ""
	callbacks := make([]func(Credentials), len(s.onCreds))
	copy(callbacks, s.onCreds)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(creds)
	}
}

// OnCredentials registers a callback invoked after a new token pair is
// stored. Callbacks run outside the session lock.
func (s *Session) OnCredentials(fn func(Credentials)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreds = append(s.onCreds, fn)
}

// Credentials returns the current token pair.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// AccessToken returns the current access token, empty when logged out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

// RefreshToken returns the current refresh token, empty when logged out.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

// IsAuthenticated reports whether the session currently holds credentials.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetUser stores the cached user profile.
func (s *Session) SetUser(user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// User returns the cached user profile, nil when unknown.
func (s *Session) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// OnClear registers a callback invoked after the session is cleared.
// Callbacks run outside the session lock.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = append(s.onClear, fn)
}

// Clear wipes credentials and profile and forces the logged-out state.
func (s *Session) Clear() {
	s.mu.Lock()
	s.creds = Credentials{}
	s.user = nil
	s.authenticated = false
	callbacks := make([]func(), len(s.onClear))
	copy(callbacks, s.onClear)
	s.mu.Unlock()

	s.log.Info().Msg("session cleared")
	for _, fn := range callbacks {
		fn()
	}
}

// ExpiresWithin reports whether the access token expires within d. The token
// is parsed without signature verification; only the exp claim is read.
// A missing token counts as expired, a token without exp never expires.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	tok := s.AccessToken()
	if tok == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		s.log.Debug().Err(err).Msg("access token not parseable as JWT")
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < d
}
