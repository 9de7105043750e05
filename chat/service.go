// Package chat manages direct-message rooms: room membership over the
// realtime connection, message history with push/fetch deduplication, and
// ephemeral typing indicators.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/auth"
	"github.com/hearthside/hearth-go/cache"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/internal/mutate"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/realtime"
)

// typingTTL bounds how long a typing indicator stays visible without being
// refreshed by another event.
const typingTTL = 5 * time.Second

// Service owns chat rooms and their message histories.
type Service struct {
	api     *api.Client
	cache   *cache.Cache
	rt      *realtime.Manager
	session *auth.Session
	log     zerolog.Logger

	// roomGen invalidates in-flight history fetches when the active room
	// changes before they land.
	roomGen atomic.Uint64

	mu         sync.Mutex
	rooms      *collection.Collection[model.ChatRoom]
	messages   map[string]*collection.Collection[model.ChatMessage]
	activeRoom string

	typing *expirable.LRU[string, model.TypingIndicator]
}

// NewService builds the chat service and subscribes its realtime handlers.
func NewService(apiClient *api.Client, store *cache.Cache, rt *realtime.Manager, session *auth.Session, log zerolog.Logger) *Service {
	s := &Service{
		api:      apiClient,
		cache:    store,
		rt:       rt,
		session:  session,
		log:      log.With().Str("component", "chat").Logger(),
		rooms:    collection.New[model.ChatRoom](),
		messages: make(map[string]*collection.Collection[model.ChatMessage]),
		typing:   expirable.NewLRU[string, model.TypingIndicator](128, nil, typingTTL),
	}
	if rt != nil {
		rt.On(realtime.EventChatMessage, s.onMessage)
		rt.On(realtime.EventChatTyping, s.onTyping)
	}
	return s
}

func (s *Service) roomMessages(roomID string) *collection.Collection[model.ChatMessage] {
	coll, ok := s.messages[roomID]
	if !ok {
		coll = collection.New[model.ChatMessage]()
		s.messages[roomID] = coll
	}
	return coll
}

// FetchRooms loads the user's conversation list.
func (s *Service) FetchRooms(ctx context.Context) error {
	var rooms []model.ChatRoom
	if err := s.api.Get(ctx, "/chat/rooms", nil, &rooms); err != nil {
		return err
	}
	s.mu.Lock()
	s.rooms.ReplaceAll(rooms)
	s.mu.Unlock()
	return nil
}

// SetActiveRoom switches room membership on the realtime connection,
// leaving the previous room first, and invalidates in-flight history
// fetches for the old room.
func (s *Service) SetActiveRoom(roomID string) {
	s.roomGen.Add(1)
	s.mu.Lock()
	s.activeRoom = roomID
	s.mu.Unlock()
	if s.rt != nil {
		s.rt.SetActiveRoom(roomID)
	}
}

// FetchMessages loads a room's message history. A response that lands after
// the active room has changed is discarded.
func (s *Service) FetchMessages(ctx context.Context, roomID string) error {
	gen := s.roomGen.Load()

	var msgs []model.ChatMessage
	if err := s.api.Get(ctx, "/chat/rooms/"+roomID+"/messages", nil, &msgs); err != nil {
		return err
	}

	if s.roomGen.Load() != gen {
		s.log.Debug().Str("room", roomID).Msg("discarding stale history fetch")
		return nil
	}

	s.mu.Lock()
	s.roomMessages(roomID).ReplaceAll(msgs)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertMessages(ctx, msgs); err != nil {
			s.log.Warn().Err(err).Msg("chat cache write failed")
		}
	}
	return nil
}

// LoadOffline seeds a room's history from the local cache.
func (s *Service) LoadOffline(ctx context.Context, roomID string) {
	if s.cache == nil {
		return
	}
	msgs, err := s.cache.MessagesByRoom(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("offline history unavailable")
		return
	}
	s.mu.Lock()
	s.roomMessages(roomID).ReplaceAll(msgs)
	s.mu.Unlock()
}

// Send persists a message and appends it locally. The realtime echo of the
// same message deduplicates by id, so it renders exactly once.
func (s *Service) Send(ctx context.Context, roomID, content string) (model.ChatMessage, error) {
	if s.rt != nil {
		if err := s.rt.Emit(realtime.EventChatSend, realtime.SendPayload{RoomID: roomID, Content: content}); err != nil {
			s.log.Warn().Err(err).Msg("realtime send emit failed")
		}
	}

	var msg model.ChatMessage
	err := s.api.Post(ctx, "/chat/rooms/"+roomID+"/messages", map[string]string{"content": content}, &msg)
	if err != nil {
		return model.ChatMessage{}, err
	}

	s.mu.Lock()
	s.roomMessages(roomID).Append(msg)
	s.rooms.Mutate(roomID, func(r *model.ChatRoom) { r.LastMessage = &msg })
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertMessages(ctx, []model.ChatMessage{msg}); err != nil {
			s.log.Warn().Err(err).Msg("chat cache write failed")
		}
	}
	return msg, nil
}

// MarkRead optimistically zeroes a room's unread counter, restoring the
// exact prior count if the server rejects the update.
func (s *Service) MarkRead(ctx context.Context, roomID string) error {
	var prev int
	return mutate.Do(ctx, mutate.Mutation{
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.rooms.Mutate(roomID, func(r *model.ChatRoom) {
				prev = r.UnreadCount
				r.UnreadCount = 0
			})
		},
		Commit: func(ctx context.Context) error {
			return s.api.Post(ctx, "/chat/rooms/"+roomID+"/read", nil, nil)
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.rooms.Mutate(roomID, func(r *model.ChatRoom) { r.UnreadCount = prev })
		},
	})
}

// SendTyping broadcasts the local user's typing state for a room.
func (s *Service) SendTyping(roomID string, isTyping bool) {
	if s.rt == nil {
		return
	}
	var userID string
	if u := s.session.User(); u != nil {
		userID = u.ID
	}
	payload := realtime.TypingPayload{RoomID: roomID, UserID: userID, IsTyping: isTyping}
	if err := s.rt.Emit(realtime.EventChatTyping, payload); err != nil {
		s.log.Debug().Err(err).Msg("typing emit dropped")
	}
}

// Typing returns the users currently typing in a room. Stale indicators
// expire on their own.
func (s *Service) Typing(roomID string) []model.TypingIndicator {
	var out []model.TypingIndicator
	for _, key := range s.typing.Keys() {
		if !strings.HasPrefix(key, roomID+":") {
			continue
		}
		if ind, ok := s.typing.Get(key); ok && ind.IsTyping {
			out = append(out, ind)
		}
	}
	return out
}

// Rooms returns the conversation list.
func (s *Service) Rooms() []model.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Items()
}

// Messages returns a room's messages in arrival order.
func (s *Service) Messages(roomID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomMessages(roomID).Items()
}

// ActiveRoom returns the room the user currently has open.
func (s *Service) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

func (s *Service) onMessage(data json.RawMessage) {
	var msg model.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("bad chat:message payload")
		return
	}

	s.mu.Lock()
	s.roomMessages(msg.RoomID).Append(msg)
	active := s.activeRoom
	s.rooms.Mutate(msg.RoomID, func(r *model.ChatRoom) {
		r.LastMessage = &msg
		if msg.RoomID != active {
			r.UnreadCount++
		}
	})
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertMessages(context.Background(), []model.ChatMessage{msg}); err != nil {
			s.log.Warn().Err(err).Msg("chat cache write failed")
		}
	}
}

func (s *Service) onTyping(data json.RawMessage) {
	var ind model.TypingIndicator
	if err := json.Unmarshal(data, &ind); err != nil {
		return
	}
	key := ind.RoomID + ":" + ind.UserID
	if ind.IsTyping {
		s.typing.Add(key, ind)
	} else {
		s.typing.Remove(key)
	}
}
