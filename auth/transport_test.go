package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// protectedServer returns 200 only for the given access token, 401 otherwise.
// It records the X-Seq header of every authorized request.
func protectedServer(t *testing.T, validToken string) (*httptest.Server, *[]string, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var served []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		served = append(served, r.Header.Get("X-Seq"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &served, &mu
}

func newTestSession(access, refresh string) *Session {
	s := NewSession(zerolog.Nop())
	s.Seed(Credentials{AccessToken: access, RefreshToken: refresh}, nil)
	return s
}

func TestTransportSingleFlightRefresh(t *testing.T) {
	srv, _, _ := protectedServer(t, "fresh")
	session := newTestSession("stale", "r1")

	const workers = 4

	var transport *Transport
	var refreshCalls atomic.Int32
	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		refreshCalls.Add(1)
		require.Equal(t, "r1", refreshToken)
		// Hold the exchange open until every other request has failed
		// with 401 and queued behind it.
		deadline := time.Now().Add(2 * time.Second)
		for transport.queueLen() < workers-1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return Credentials{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}

	transport = NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs[i] = errors.New(resp.Status)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(1), refreshCalls.Load(), "exactly one refresh exchange")
	assert.Equal(t, "fresh", session.AccessToken())
	assert.Equal(t, "r2", session.RefreshToken())
	assert.Equal(t, 0, transport.queueLen())
}

func TestTransportReplaysQueueInSubmissionOrder(t *testing.T) {
	srv, served, servedMu := protectedServer(t, "fresh")
	session := newTestSession("stale", "r1")

	release := make(chan struct{})
	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		<-release
		return Credentials{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}

	transport := NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	get := func(seq string, done chan<- error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("X-Seq", seq)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}

	// The trigger request starts the refresh and is replayed last.
	triggerDone := make(chan error, 1)
	go get("trigger", triggerDone)

	// Wait for the exchange to be in flight, then submit waiters one at a
	// time so their queue order is deterministic.
	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.state == stateRefreshing
	}, time.Second, time.Millisecond)

	waiterDone := make(chan error, 3)
	for _, seq := range []string{"w1", "w2", "w3"} {
		go get(seq, waiterDone)
		want := map[string]int{"w1": 1, "w2": 2, "w3": 3}[seq]
		require.Eventually(t, func() bool {
			return transport.queueLen() == want
		}, time.Second, time.Millisecond)
	}

	close(release)
	require.NoError(t, <-triggerDone)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-waiterDone)
	}

	servedMu.Lock()
	defer servedMu.Unlock()
	assert.Equal(t, []string{"w1", "w2", "w3", "trigger"}, *served)
}

func TestTransportRefreshFailureClearsSession(t *testing.T) {
	srv, _, _ := protectedServer(t, "fresh")
	session := newTestSession("stale", "r1")

	var cleared atomic.Bool
	session.OnClear(func() { cleared.Store(true) })

	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		return Credentials{}, errors.New("refresh token revoked")
	}

	transport := NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)

	assert.True(t, cleared.Load())
	assert.False(t, session.IsAuthenticated())
	assert.Empty(t, session.AccessToken())
}

func TestTransportNoRefreshTokenFailsFast(t *testing.T) {
	srv, _, _ := protectedServer(t, "fresh")
	session := newTestSession("stale", "")

	var refreshCalls atomic.Int32
	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		refreshCalls.Add(1)
		return Credentials{}, nil
	}

	transport := NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Zero(t, refreshCalls.Load(), "refresh must not run without a refresh token")
}

func TestTransportSecond401AfterReplayIsReturned(t *testing.T) {
	// The server rejects even the fresh token; the replayed request's 401
	// must come back as a response, not loop into another refresh.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := newTestSession("stale", "r1")
	var refreshCalls atomic.Int32
	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		refreshCalls.Add(1)
		return Credentials{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}

	transport := NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestTransportRefreshSurvivesTriggerCancellation(t *testing.T) {
	srv, _, _ := protectedServer(t, "fresh")
	session := newTestSession("stale", "r1")

	entered := make(chan struct{})
	release := make(chan struct{})
	refresh := func(ctx context.Context, refreshToken string) (Credentials, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
		return Credentials{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}

	transport := NewTransport(session, refresh, nil, zerolog.Nop(), nil)
	client := &http.Client{Transport: transport}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		done <- err
	}()

	// Cancel the triggering caller while the exchange is in flight, then
	// let the exchange finish.
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh exchange never started")
	}
	cancel()
	close(release)

	require.Error(t, <-done)

	// The caller is gone but the session holds the rotated pair.
	require.Eventually(t, func() bool {
		return session.RefreshToken() == "r2"
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, "fresh", session.AccessToken())
}
