package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClient = ClientCredentials{ID: "cid", Secret: "csec"}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// tokenServer is a stub token endpoint that issues rotating refresh tokens
// and accepts each refresh token exactly once.
type tokenServer struct {
	mu       sync.Mutex
	users    map[string]string
	valid    map[string]bool
	issued   int
	requests []url.Values
	rotate   bool
}

func newTokenServer(t *testing.T) (*tokenServer, *httptest.Server) {
	t.Helper()

	ts := &tokenServer{
		users:  map[string]string{"alice": "secret"},
		valid:  map[string]bool{},
		rotate: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, ts.handle)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return ts, srv
}

func (ts *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ts.requests = append(ts.requests, r.PostForm)

	if r.PostForm.Get("client_id") != testClient.ID || r.PostForm.Get("client_secret") != testClient.Secret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		if ts.users[r.PostForm.Get("username")] != r.PostForm.Get("password") || r.PostForm.Get("password") == "" {
			writeOAuthError(w, http.StatusUnauthorized, "access_denied")
			return
		}

		ts.issue(w, "")
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !ts.valid[rt] {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant")
			return
		}

		if ts.rotate {
			delete(ts.valid, rt)
			ts.issue(w, "")

			return
		}

		ts.issue(w, rt)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// issue writes a token response. When keepRefresh is non-empty the response
// omits refresh_token, as a non-rotating server would.
func (ts *tokenServer) issue(w http.ResponseWriter, keepRefresh string) {
	ts.issued++

	body := map[string]any{
		"access_token": fmt.Sprintf("AT%d", ts.issued),
		"token_type":   "Bearer",
		"expires_in":   1799,
		"scope":        "useraccount",
	}

	if keepRefresh == "" {
		rt := fmt.Sprintf("RT%d", ts.issued)
		ts.valid[rt] = true
		body["refresh_token"] = rt
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"error_description":"stub rejected request"}`, code)
}

func (ts *tokenServer) requestCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return len(ts.requests)
}

func TestAcquireInitial_Success(t *testing.T) {
	ts, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	pair, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.NoError(t, err)
	assert.Equal(t, "AT1", pair.AccessToken)
	assert.Equal(t, "RT1", pair.RefreshToken)
	assert.False(t, pair.Expiry.IsZero())
	assert.Equal(t, StateAuthenticated, p.State())

	require.Len(t, ts.requests, 1)
	form := ts.requests[0]
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, "alice", form.Get("username"))
	assert.Equal(t, "secret", form.Get("password"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "csec", form.Get("client_secret"))
}

func TestAcquireInitial_InvalidCredentials(t *testing.T) {
	_, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	_, err := p.AcquireInitial(context.Background(), "alice", "wrong", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Equal(t, StateUnauthenticated, p.State())
}

func TestAcquireInitial_MissingClientCredentials(t *testing.T) {
	ts, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	tests := []struct {
		name   string
		client ClientCredentials
	}{
		{"both empty", ClientCredentials{}},
		{"no secret", ClientCredentials{ID: "cid"}},
		{"no id", ClientCredentials{Secret: "csec"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.AcquireInitial(context.Background(), "alice", "secret", tt.client)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingClientCredentials)
		})
	}

	assert.Equal(t, 0, ts.requestCount(), "no request should be sent without client identity")
}

func TestAcquireInitial_MissingRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT","token_type":"Bearer","expires_in":60}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	_, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "refresh_token")
	assert.Equal(t, StateUnauthenticated, p.State())
}

func TestAcquireInitial_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	_, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAcquireInitial_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p := NewProvider(addr, &http.Client{Timeout: 2 * time.Second}, testLogger(t))

	_, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestAcquireInitial_ContextCanceled(t *testing.T) {
	_, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.AcquireInitial(ctx, "alice", "secret", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefresh_Success(t *testing.T) {
	ts, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	first, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.NoError(t, err)

	p.MarkExpired()
	assert.Equal(t, StateExpired, p.State())

	second, err := p.Refresh(context.Background(), first.RefreshToken, testClient)
	require.NoError(t, err)
	assert.Equal(t, "AT2", second.AccessToken)
	assert.Equal(t, "RT2", second.RefreshToken)
	assert.Equal(t, StateAuthenticated, p.State())

	require.Len(t, ts.requests, 2)
	form := ts.requests[1]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "RT1", form.Get("refresh_token"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "csec", form.Get("client_secret"))
	assert.Empty(t, form.Get("password"), "refresh must not transmit the password")
}

func TestRefresh_RotationInvalidatesOldToken(t *testing.T) {
	_, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	initial, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.NoError(t, err)

	rotated, err := p.Refresh(context.Background(), initial.RefreshToken, testClient)
	require.NoError(t, err)
	require.NotEqual(t, initial.RefreshToken, rotated.RefreshToken)

	// The stale refresh token is rejected after rotation.
	_, err = p.Refresh(context.Background(), initial.RefreshToken, testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, StateUnauthenticated, p.State())

	// Only the newly issued one works.
	again, err := p.Refresh(context.Background(), rotated.RefreshToken, testClient)
	require.NoError(t, err)
	assert.NotEmpty(t, again.AccessToken)
	assert.Equal(t, StateAuthenticated, p.State())
}

func TestRefresh_NonRotatingServerKeepsRefreshToken(t *testing.T) {
	ts, srv := newTokenServer(t)
	ts.rotate = false

	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	initial, err := p.AcquireInitial(context.Background(), "alice", "secret", testClient)
	require.NoError(t, err)

	refreshed, err := p.Refresh(context.Background(), initial.RefreshToken, testClient)
	require.NoError(t, err)
	assert.Equal(t, "AT2", refreshed.AccessToken)
	assert.Equal(t, initial.RefreshToken, refreshed.RefreshToken)
}

func TestRefresh_EmptyRefreshToken(t *testing.T) {
	ts, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	_, err := p.Refresh(context.Background(), "", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, 0, ts.requestCount())
}

func TestRefresh_MissingClientCredentials(t *testing.T) {
	ts, srv := newTokenServer(t)
	p := NewProvider(srv.URL, srv.Client(), testLogger(t))

	_, err := p.Refresh(context.Background(), "RT1", ClientCredentials{ID: "cid"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingClientCredentials)
	assert.Equal(t, 0, ts.requestCount())
}

func TestRefresh_NetworkErrorKeepsExpiredState(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p := NewProvider(addr, &http.Client{Timeout: 2 * time.Second}, testLogger(t))
	p.Resume(TokenPair{RefreshToken: "RT1"})
	require.Equal(t, StateExpired, p.State())

	_, err := p.Refresh(context.Background(), "RT1", testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, StateExpired, p.State())
}

func TestResume(t *testing.T) {
	tests := []struct {
		name string
		pair TokenPair
		want State
	}{
		{"nothing stored", TokenPair{}, StateUnauthenticated},
		{"access token", TokenPair{AccessToken: "AT", RefreshToken: "RT"}, StateAuthenticated},
		{"refresh token only", TokenPair{RefreshToken: "RT"}, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider("https://example.service-now.com", nil, nil)
			p.Resume(tt.pair)
			assert.Equal(t, tt.want, p.State())
		})
	}
}

func TestMarkExpired_OnlyFromAuthenticated(t *testing.T) {
	p := NewProvider("https://example.service-now.com", nil, nil)

	p.MarkExpired()
	assert.Equal(t, StateUnauthenticated, p.State())

	p.Resume(TokenPair{AccessToken: "AT"})
	p.MarkExpired()
	assert.Equal(t, StateExpired, p.State())
}

func TestNewProvider_TrimsTrailingSlash(t *testing.T) {
	p := NewProvider("https://example.service-now.com/", nil, nil)
	assert.Equal(t, "https://example.service-now.com/oauth_token.do", p.tokenURL)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "State(9)", State(9).String())
}
