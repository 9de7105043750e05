// Package notifications manages the in-app notification list and its unread
// counter.
package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/internal/mutate"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/realtime"
)

type Service struct {
	api *api.Client
	log zerolog.Logger

	mu     sync.Mutex
	items  *collection.Collection[model.Notification]
	unread int
}

func NewService(apiClient *api.Client, rt *realtime.Manager, log zerolog.Logger) *Service {
	s := &Service{
		api:   apiClient,
		log:   log.With().Str("component", "notifications").Logger(),
		items: collection.New[model.Notification](),
	}
	if rt != nil {
		rt.On(realtime.EventNotificationNew, s.onNew)
	}
	return s
}

// Fetch loads the notification list and recomputes the unread counter.
func (s *Service) Fetch(ctx context.Context) error {
	var items []model.Notification
	if err := s.api.Get(ctx, "/notifications", nil, &items); err != nil {
		return err
	}

	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
	}

	s.mu.Lock()
	s.items.ReplaceAll(items)
	s.unread = unread
	s.mu.Unlock()
	return nil
}

// MarkRead optimistically marks one notification read and decrements the
// unread counter, never letting it go negative. Both revert exactly if the
// server rejects the change.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	var prevRead bool
	var prevUnread int
	return mutate.Do(ctx, mutate.Mutation{
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			prevUnread = s.unread
			s.items.Mutate(id, func(n *model.Notification) {
				prevRead = n.IsRead
				if !n.IsRead {
					n.IsRead = true
					if s.unread > 0 {
						s.unread--
					}
				}
			})
		},
		Commit: func(ctx context.Context) error {
			return s.api.Patch(ctx, "/notifications/"+id+"/read", nil, nil)
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.items.Mutate(id, func(n *model.Notification) { n.IsRead = prevRead })
			s.unread = prevUnread
		},
	})
}

// MarkAllRead optimistically marks every notification read, restoring the
// exact prior flags on failure.
func (s *Service) MarkAllRead(ctx context.Context) error {
	var wasUnread []string
	var prevUnread int
	return mutate.Do(ctx, mutate.Mutation{
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			prevUnread = s.unread
			for _, n := range s.items.Items() {
				if !n.IsRead {
					wasUnread = append(wasUnread, n.ID)
					s.items.Mutate(n.ID, func(n *model.Notification) { n.IsRead = true })
				}
			}
			s.unread = 0
		},
		Commit: func(ctx context.Context) error {
			return s.api.Patch(ctx, "/notifications/read-all", nil, nil)
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, id := range wasUnread {
				s.items.Mutate(id, func(n *model.Notification) { n.IsRead = false })
			}
			s.unread = prevUnread
		},
	})
}

// Delete removes a notification on the server, then drops it locally,
// adjusting the unread counter if it was unread.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.api.Delete(ctx, "/notifications/"+id, nil); err != nil {
		return err
	}
	s.mu.Lock()
	if n, ok := s.items.Get(id); ok && !n.IsRead && s.unread > 0 {
		s.unread--
	}
	s.items.Remove(id)
	s.mu.Unlock()
	return nil
}

// Items returns the notification list, newest first.
func (s *Service) Items() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Items()
}

// Unread returns the unread counter.
func (s *Service) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Service) onNew(data json.RawMessage) {
	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		s.log.Warn().Err(err).Msg("bad notification:new payload")
		return
	}
	s.mu.Lock()
	before := s.items.Len()
	s.items.Prepend(n)
	if s.items.Len() > before && !n.IsRead {
		s.unread++
	}
	s.mu.Unlock()
}
