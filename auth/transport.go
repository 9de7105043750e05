package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/telemetry"
)

// ErrAuthExpired is returned when the refresh exchange fails or no refresh
// token exists. It is fatal for the session: credentials are cleared and the
// caller must re-authenticate.
var ErrAuthExpired = errors.New("auth: session expired")

// RefreshFunc exchanges a refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

type refreshState int

const (
	stateIdle refreshState = iota
	stateRefreshing
)

// ticket is a request suspended while a refresh exchange is in flight.
// It is resolved with the replayed response or rejected with ErrAuthExpired.
type ticket struct {
	req    *http.Request
	result chan ticketResult
}

type ticketResult struct {
	resp *http.Response
	err  error
}

// Transport is an http.RoundTripper that attaches the session's access token
// at dispatch time and runs the single-flight refresh protocol on 401.
//
// Guarantee: at most one refresh exchange is in flight at any time. Requests
// failing while a refresh is in flight are queued and replayed in original
// submission order once the exchange succeeds; the request that triggered the
// refresh is replayed after the queue is drained.
type Transport struct {
	base    http.RoundTripper
	session *Session
	refresh RefreshFunc
	metrics *telemetry.Metrics
	log     zerolog.Logger

	mu    sync.Mutex
	state refreshState
	queue []*ticket
}

// NewTransport builds a refresh transport around base. A nil base uses
// http.DefaultTransport, a nil metrics uses throwaway collectors.
func NewTransport(session *Session, refresh RefreshFunc, base http.RoundTripper, log zerolog.Logger, m *telemetry.Metrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if m == nil {
		m = telemetry.Nop()
	}
	return &Transport{
		base:    base,
		session: session,
		refresh: refresh,
		metrics: m,
		log:     log.With().Str("component", "refresh-transport").Logger(),
	}
}

// attempt marks a request as already replayed once after a refresh. Replayed
// requests carry an immutable marker in their context instead of a mutable
// flag on the request itself.
type attemptKey struct{}

type attempt struct {
	retried bool
}

func markRetried(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), attemptKey{}, attempt{retried: true}))
}

func alreadyRetried(req *http.Request) bool {
	a, ok := req.Context().Value(attemptKey{}).(attempt)
	return ok && a.retried
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || alreadyRetried(req) {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	return t.authorize(req)
}

// send dispatches a clone of req with the access token current at this
// moment, not at the time the request was built.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if tok := t.session.AccessToken(); tok != "" {
		out.Header.Set("Authorization", "Bearer "+tok)
	}
	return t.base.RoundTrip(out)
}

// authorize handles a 401 for a request that has not been replayed yet.
func (t *Transport) authorize(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	if t.state == stateRefreshing {
		tk := &ticket{req: req, result: make(chan ticketResult, 1)}
		t.queue = append(t.queue, tk)
		t.mu.Unlock()

		select {
		case res := <-tk.result:
			return res.resp, res.err
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	t.state = stateRefreshing
	t.mu.Unlock()

	var (
		creds      Credentials
		refreshErr error
	)
	if refreshToken := t.session.RefreshToken(); refreshToken == "" {
		refreshErr = ErrAuthExpired
	} else {
		t.metrics.TokenRefreshes.Inc()
		// The exchange serves every queued waiter, not just the trigger:
		// the trigger canceling its own request must not fail the shared
		// refresh and force a logout.
		creds, refreshErr = t.refresh(context.WithoutCancel(req.Context()), refreshToken)
	}

	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.state = stateIdle
	t.mu.Unlock()

	if refreshErr != nil {
		t.metrics.TokenRefreshFailures.Inc()
		t.log.Error().Err(refreshErr).Int("rejected", len(queue)).Msg("token refresh failed, clearing session")
		t.session.Clear()
		for _, tk := range queue {
			tk.result <- ticketResult{err: ErrAuthExpired}
		}
		if errors.Is(refreshErr, ErrAuthExpired) {
			return nil, refreshErr
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, refreshErr)
	}

	t.session.SetCredentials(creds)
	t.log.Debug().Int("queued", len(queue)).Msg("token refreshed, draining queue")

	// Waiters replay first, in submission order, then the trigger.
	for _, tk := range queue {
		if err := tk.req.Context().Err(); err != nil {
			tk.result <- ticketResult{err: err}
			continue
		}
		t.metrics.QueuedReplays.Inc()
		resp, err := t.RoundTrip(markRetried(tk.req))
		tk.result <- ticketResult{resp: resp, err: err}
	}
	return t.RoundTrip(markRetried(req))
}

// queueLen reports the number of suspended requests, for tests.
func (t *Transport) queueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
