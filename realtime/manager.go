// Package realtime owns the client's single authenticated realtime channel:
// connection lifecycle, bounded reconnection, event dispatch and room
// membership.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/hearthside/hearth-go/auth"
	"github.com/hearthside/hearth-go/telemetry"
)

// State is the connection state of the manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrReconnectFailed is dispatched to the error handler after the automatic
// reconnection budget is exhausted.
var ErrReconnectFailed = errors.New("realtime: reconnection attempts exhausted")

// Handler receives the raw JSON data of a dispatched event. At most one
// handler is registered per event name; registering again replaces the
// previous handler.
type Handler func(data json.RawMessage)

// frame is the wire format of channel messages in both directions.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL     string
	Session *auth.Session
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	// MaxReconnectAttempts bounds automatic reconnection. Default 5.
	MaxReconnectAttempts int
	// ReconnectFloor is the delay before the first attempt. Default 1s.
	ReconnectFloor time.Duration
	// ReconnectCeiling caps the delay between attempts. Default 5s.
	ReconnectCeiling time.Duration
	// HandshakeTimeout bounds the websocket handshake. Default 10s.
	HandshakeTimeout time.Duration
}

// Manager owns exactly one channel instance at a time. Connect while already
// connected is a guaranteed no-op, never a duplicate connection.
type Manager struct {
	url     string
	session *auth.Session
	dialer  *websocket.Dialer
	log     zerolog.Logger
	metrics *telemetry.Metrics

	maxAttempts int
	floor       time.Duration
	ceiling     time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	gen        uint64
	handlers   map[string]Handler
	activeRoom string

	// wmu serializes writes; the websocket connection supports one
	// concurrent writer.
	wmu sync.Mutex
}

// New creates a disconnected manager.
func New(cfg Config) *Manager {
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectFloor == 0 {
		cfg.ReconnectFloor = time.Second
	}
	if cfg.ReconnectCeiling == 0 {
		cfg.ReconnectCeiling = 5 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = telemetry.Nop()
	}
	return &Manager{
		url:         cfg.URL,
		session:     cfg.Session,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:         cfg.Logger.With().Str("component", "realtime").Logger(),
		metrics:     m,
		maxAttempts: cfg.MaxReconnectAttempts,
		floor:       cfg.ReconnectFloor,
		ceiling:     cfg.ReconnectCeiling,
		state:       StateDisconnected,
		handlers:    make(map[string]Handler),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the channel, authenticating with the access token
// current at connect time. It is a no-op when already connected and a no-op
// with a warning when no access token is available.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	token := m.session.AccessToken()
	if token == "" {
		m.mu.Unlock()
		m.log.Warn().Msg("no access token, skipping connect")
		return nil
	}
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dial(ctx, token)

	m.mu.Lock()
	if m.gen != gen {
		// A concurrent Connect or Disconnect superseded this attempt.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("realtime dial: %w", err)
	}
	m.conn = conn
	m.state = StateConnected
	room := m.activeRoom
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	m.dispatch(EventConnect, nil)
	if room != "" {
		m.Emit(EventChatJoin, RoomPayload{RoomID: room}) //nolint:errcheck
	}
	return nil
}

// Disconnect tears down the channel. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++ // invalidates the read loop and any in-flight reconnect
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.wmu.Lock()
	conn.WriteMessage( //nolint:errcheck
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	m.wmu.Unlock()
	conn.Close()
	m.dispatch(EventDisconnect, nil)
}

// On registers the handler for an event name, replacing any previous one.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// Off removes the handler for an event name.
func (m *Manager) Off(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, event)
}

// Emit sends a named event over the channel. When the channel is not
// connected the event is dropped with a warning; nothing is queued.
func (m *Manager) Emit(event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.log.Warn().Str("event", event).Msg("not connected, dropping emit")
		return nil
	}

	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := conn.WriteJSON(frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// SetActiveRoom switches room membership: the previous active room is left
// before the new one is joined, so rapid navigation cannot leak membership.
// An empty id leaves the current room without joining another.
func (m *Manager) SetActiveRoom(roomID string) {
	m.mu.Lock()
	prev := m.activeRoom
	m.activeRoom = roomID
	m.mu.Unlock()

	if prev != "" && prev != roomID {
		m.Emit(EventChatLeave, RoomPayload{RoomID: prev}) //nolint:errcheck
	}
	if roomID != "" && prev != roomID {
		m.Emit(EventChatJoin, RoomPayload{RoomID: roomID}) //nolint:errcheck
	}
}

// ActiveRoom returns the id of the currently joined room, if any.
func (m *Manager) ActiveRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoom
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if m.gen != gen {
				// Intentional disconnect or superseded connection.
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.state = StateReconnecting
			m.mu.Unlock()

			m.log.Warn().Err(err).Msg("connection lost")
			m.dispatch(EventDisconnect, nil)
			m.reconnect(gen)
			return
		}
		m.handleFrame(msg)
	}
}

// reconnect runs the bounded reconnection policy: up to maxAttempts tries
// with a delay growing linearly from the floor and capped at the ceiling.
func (m *Manager) reconnect(gen uint64) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		delay := time.Duration(attempt) * m.floor
		if delay > m.ceiling {
			delay = m.ceiling
		}
		time.Sleep(delay)

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		token := m.session.AccessToken()
		m.mu.Unlock()

		if token == "" {
			// Logged out while reconnecting; stop quietly.
			m.mu.Lock()
			if m.gen == gen {
				m.state = StateDisconnected
			}
			m.mu.Unlock()
			return
		}

		m.metrics.ReconnectAttempts.Inc()
		m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

		conn, err := m.dial(context.Background(), token)
		if err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.gen++
		newGen := m.gen
		m.conn = conn
		m.state = StateConnected
		room := m.activeRoom
		m.mu.Unlock()

		go m.readLoop(conn, newGen)
		m.dispatch(EventConnect, nil)
		if room != "" {
			m.Emit(EventChatJoin, RoomPayload{RoomID: room}) //nolint:errcheck
		}
		return
	}

	m.mu.Lock()
	terminal := m.gen == gen
	if terminal {
		m.state = StateFailed
	}
	m.mu.Unlock()

	if terminal {
		m.log.Error().Int("attempts", m.maxAttempts).Msg("reconnection attempts exhausted")
		m.dispatch(EventError, nil)
	}
}

// handleFrame peeks the event name without a full unmarshal and dispatches
// the raw data to the registered handler.
func (m *Manager) handleFrame(msg []byte) {
	event := gjson.GetBytes(msg, "event").Str
	if event == "" {
		return
	}
	var data json.RawMessage
	if d := gjson.GetBytes(msg, "data"); d.Exists() {
		data = json.RawMessage(d.Raw)
	}
	m.dispatch(event, data)
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	h := m.handlers[event]
	m.mu.Unlock()

	m.metrics.RealtimeEvents.WithLabelValues(event).Inc()
	if h == nil {
		return
	}
	h(data)
}
