package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/model"
)

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"success": status < 400,
		"data":    data,
	})
}

func newService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := api.New(api.Config{BaseURL: srv.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return NewService(client, nil, zerolog.Nop())
}

func seed(s *Service) {
	s.items.ReplaceAll([]model.Notification{
		{ID: "n1", IsRead: false},
		{ID: "n2", IsRead: true},
		{ID: "n3", IsRead: false},
	})
	s.unread = 2
}

func TestFetchComputesUnread(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/notifications", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, http.StatusOK, []model.Notification{
			{ID: "n1", IsRead: false},
			{ID: "n2", IsRead: true},
		})
	}).Methods(http.MethodGet)

	s := newService(t, r)
	require.NoError(t, s.Fetch(context.Background()))
	assert.Len(t, s.Items(), 2)
	assert.Equal(t, 1, s.Unread())
}

func TestMarkReadOptimisticWithRollback(t *testing.T) {
	reject := false
	r := mux.NewRouter()
	r.HandleFunc("/notifications/{id}/read", func(w http.ResponseWriter, req *http.Request) {
		if reject {
			writeEnvelope(w, http.StatusInternalServerError, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, nil)
	}).Methods(http.MethodPatch)

	s := newService(t, r)
	seed(s)
	ctx := context.Background()

	require.NoError(t, s.MarkRead(ctx, "n1"))
	assert.Equal(t, 1, s.Unread())

	// Marking an already-read notification does not change the counter.
	require.NoError(t, s.MarkRead(ctx, "n2"))
	assert.Equal(t, 1, s.Unread())

	reject = true
	require.Error(t, s.MarkRead(ctx, "n3"))
	assert.Equal(t, 1, s.Unread())
	got, _ := s.items.Get("n3")
	assert.False(t, got.IsRead)
}

func TestMarkAllReadRollsBackExactFlags(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/notifications/read-all", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, nil)
	}).Methods(http.MethodPatch)

	s := newService(t, r)
	seed(s)

	require.Error(t, s.MarkAllRead(context.Background()))
	assert.Equal(t, 2, s.Unread())
	n1, _ := s.items.Get("n1")
	n2, _ := s.items.Get("n2")
	n3, _ := s.items.Get("n3")
	assert.False(t, n1.IsRead)
	assert.True(t, n2.IsRead, "already-read flag untouched by rollback")
	assert.False(t, n3.IsRead)
}

func TestDeleteAdjustsUnread(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/notifications/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	}).Methods(http.MethodDelete)

	s := newService(t, r)
	seed(s)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "n1"))
	assert.Equal(t, 1, s.Unread())
	assert.Len(t, s.Items(), 2)

	require.NoError(t, s.Delete(ctx, "n2"))
	assert.Equal(t, 1, s.Unread(), "deleting a read notification keeps the counter")
}

func TestPushPrependsAndBumpsUnread(t *testing.T) {
	s := newService(t, mux.NewRouter())
	seed(s)

	s.onNew(json.RawMessage(`{"id":"n4","title":"hi","isRead":false}`))
	assert.Equal(t, "n4", s.Items()[0].ID)
	assert.Equal(t, 3, s.Unread())

	// A duplicate push neither duplicates nor double counts.
	s.onNew(json.RawMessage(`{"id":"n4","title":"hi","isRead":false}`))
	assert.Len(t, s.Items(), 4)
	assert.Equal(t, 3, s.Unread())
}
