// Package emergency manages neighborhood emergency alerts. Raising an alert
// is rate limited both locally and by the server cooldown endpoint.
package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/realtime"
)

// ErrCooldown is returned when an alert is raised before the local cooldown
// window has elapsed.
var ErrCooldown = errors.New("emergency: alert cooldown active")

// alertInterval is the minimum spacing between alerts raised from this
// client.
const alertInterval = 5 * time.Minute

// CooldownStatus reports the server-side alert cooldown for the user.
type CooldownStatus struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remainingSeconds"`
}

type Service struct {
	api     *api.Client
	log     zerolog.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	alerts *collection.Collection[model.Post]
}

func NewService(apiClient *api.Client, rt *realtime.Manager, log zerolog.Logger) *Service {
	s := &Service{
		api:     apiClient,
		log:     log.With().Str("component", "emergency").Logger(),
		limiter: rate.NewLimiter(rate.Every(alertInterval), 1),
		alerts:  collection.New[model.Post](),
	}
	if rt != nil {
		rt.On(realtime.EventEmergencyAlert, s.onAlert)
	}
	return s
}

// FetchAlerts loads active emergency alerts nearby.
func (s *Service) FetchAlerts(ctx context.Context) error {
	var alerts []model.Post
	if err := s.api.Get(ctx, "/posts/emergency", nil, &alerts); err != nil {
		return err
	}
	s.mu.Lock()
	s.alerts.ReplaceAll(alerts)
	s.mu.Unlock()
	return nil
}

// CheckCooldown asks the server whether the user may raise another alert.
func (s *Service) CheckCooldown(ctx context.Context) (CooldownStatus, error) {
	var status CooldownStatus
	if err := s.api.Get(ctx, "/posts/emergency/cooldown", nil, &status); err != nil {
		return CooldownStatus{}, err
	}
	return status, nil
}

// CreateAlert raises an emergency alert. The local limiter rejects repeat
// alerts inside the cooldown window without a network round trip; the server
// enforces its own cooldown regardless.
func (s *Service) CreateAlert(ctx context.Context, content string, location model.Location) (model.Post, error) {
	if !s.limiter.Allow() {
		return model.Post{}, ErrCooldown
	}

	body := map[string]any{
		"type":     model.PostEmergency,
		"content":  content,
		"location": location,
	}
	var alert model.Post
	if err := s.api.Post(ctx, "/posts/emergency", body, &alert); err != nil {
		return model.Post{}, err
	}

	s.mu.Lock()
	s.alerts.Prepend(alert)
	s.mu.Unlock()
	return alert, nil
}

// Alerts returns the known active alerts, newest first.
func (s *Service) Alerts() []model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.Items()
}

func (s *Service) onAlert(data json.RawMessage) {
	var alert model.Post
	if err := json.Unmarshal(data, &alert); err != nil {
		s.log.Warn().Err(err).Msg("bad emergency:alert payload")
		return
	}
	s.mu.Lock()
	s.alerts.Prepend(alert)
	s.mu.Unlock()
	s.log.Info().Str("alert", alert.ID).Msg("emergency alert received")
}
