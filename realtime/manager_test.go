package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthside/hearth-go/auth"
)

var upgrader = websocket.Upgrader{}

// wsServer upgrades connections on /ws and hands each one to serve.
func wsServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		serve(conn)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func loggedInSession() *auth.Session {
	s := auth.NewSession(zerolog.Nop())
	s.Seed(auth.Credentials{AccessToken: "tok", RefreshToken: "r"}, nil)
	return s
}

func newTestManager(srv *httptest.Server, session *auth.Session) *Manager {
	return New(Config{
		URL:                  wsURL(srv),
		Session:              session,
		Logger:               zerolog.Nop(),
		MaxReconnectAttempts: 3,
		ReconnectFloor:       time.Millisecond,
		ReconnectCeiling:     3 * time.Millisecond,
	})
}

func TestManagerConnectAndDispatch(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteJSON(frame{Event: EventPostNew, Data: map[string]string{"id": "p1"}}) //nolint:errcheck
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := newTestManager(srv, loggedInSession())

	connected := make(chan struct{})
	m.On(EventConnect, func(json.RawMessage) { close(connected) })

	got := make(chan json.RawMessage, 1)
	m.On(EventPostNew, func(data json.RawMessage) { got <- data })

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connect event not dispatched")
	}

	select {
	case data := <-got:
		var payload struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, "p1", payload.ID)
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}

	// Connecting again must not open a second channel.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerConnectWithoutTokenIsNoop(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) { conn.Close() })

	m := newTestManager(srv, auth.NewSession(zerolog.Nop()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerEmitWhenDisconnectedDrops(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) { conn.Close() })

	m := newTestManager(srv, loggedInSession())
	require.NoError(t, m.Emit(EventChatSend, SendPayload{RoomID: "r1", Content: "hi"}))
}

func TestManagerHandlerReplaceSemantics(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) { conn.Close() })
	m := newTestManager(srv, loggedInSession())

	var first, second atomic.Int32
	m.On(EventPostNew, func(json.RawMessage) { first.Add(1) })
	m.On(EventPostNew, func(json.RawMessage) { second.Add(1) })

	m.dispatch(EventPostNew, nil)
	assert.Zero(t, first.Load(), "replaced handler must not fire")
	assert.Equal(t, int32(1), second.Load())

	m.Off(EventPostNew)
	m.dispatch(EventPostNew, nil)
	assert.Equal(t, int32(1), second.Load())
}

func TestManagerRoomSwitchLeavesBeforeJoining(t *testing.T) {
	frames := make(chan frame, 8)
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})

	m := newTestManager(srv, loggedInSession())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	m.SetActiveRoom("room-a")
	m.SetActiveRoom("room-b")

	expect := []string{EventChatJoin, EventChatLeave, EventChatJoin}
	rooms := []string{"room-a", "room-a", "room-b"}
	for i, want := range expect {
		select {
		case f := <-frames:
			assert.Equal(t, want, f.Event)
			data, _ := json.Marshal(f.Data)
			var p RoomPayload
			require.NoError(t, json.Unmarshal(data, &p))
			assert.Equal(t, rooms[i], p.RoomID)
		case <-time.After(time.Second):
			t.Fatalf("frame %d (%s) not received", i, want)
		}
	}
}

func TestManagerReconnectsAfterConnectionLoss(t *testing.T) {
	var conns atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection to trigger reconnection.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := newTestManager(srv, loggedInSession())
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return conns.Load() >= 2 && m.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	m.Disconnect()
}

func TestManagerReconnectBudgetExhaustedThenExplicitConnect(t *testing.T) {
	var refuse atomic.Bool
	accepted := make(chan *websocket.Conn, 4)
	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		if refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		accepted <- conn
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	m := New(Config{
		URL:                  wsURL(srv),
		Session:              loggedInSession(),
		Logger:               zerolog.Nop(),
		MaxReconnectAttempts: 3,
		ReconnectFloor:       time.Millisecond,
		ReconnectCeiling:     3 * time.Millisecond,
	})

	failed := make(chan struct{})
	m.On(EventError, func(json.RawMessage) { close(failed) })

	require.NoError(t, m.Connect(context.Background()))
	first := <-accepted

	// Refuse all further upgrades, then drop the live connection on the
	// server side; every reconnect attempt now fails and the budget runs
	// out.
	refuse.Store(true)
	first.Close()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("error event not dispatched after exhausting attempts")
	}
	assert.Equal(t, StateFailed, m.State())

	// Automatic reconnection has given up; an explicit Connect resumes.
	refuse.Store(false)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	m.Disconnect()
}

func TestManagerReconnectStopsWhenLoggedOut(t *testing.T) {
	session := loggedInSession()
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	m := newTestManager(srv, session)
	require.NoError(t, m.Connect(context.Background()))

	session.Clear()

	require.Eventually(t, func() bool {
		s := m.State()
		return s == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}
